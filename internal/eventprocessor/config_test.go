// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package eventprocessor

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/cyclesync/internal/config"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

func TestSettingsFrom(t *testing.T) {
	s := SettingsFrom(config.NATSConfig{
		URL:         "nats://nats.internal:4333",
		StoreDir:    "/var/lib/nats",
		MaxMemory:   1 << 20,
		MaxStore:    1 << 30,
		Subject:     "collector.data",
		DurableName: "replica-a",
		QueueGroup:  "collectors",
	})

	if s.Server.Host != "nats.internal" || s.Server.Port != 4333 {
		t.Errorf("server = %s:%d", s.Server.Host, s.Server.Port)
	}
	if s.Subscriber.DurableName != "replica-a" || s.Subscriber.StreamName != DefaultStreamName {
		t.Errorf("subscriber = %+v", s.Subscriber)
	}
	if s.Subscriber.AckWaitTimeout != 30*time.Second || s.Subscriber.CloseTimeout != 30*time.Second {
		t.Errorf("timeouts not defaulted: %+v", s.Subscriber)
	}
	if len(s.Stream.Subjects) != 1 || s.Stream.Subjects[0] != "collector.data" {
		t.Errorf("stream subjects = %v", s.Stream.Subjects)
	}
	if s.Stream.MaxBytes != 1<<30 {
		t.Errorf("stream max bytes = %d", s.Stream.MaxBytes)
	}
}

func TestURLParts(t *testing.T) {
	tests := []struct {
		url  string
		host string
		port int
	}{
		{"nats://127.0.0.1:4222", "127.0.0.1", 4222},
		{"nats://example.com", "example.com", 4222},
		{"::bad", "127.0.0.1", 4222},
	}
	for _, tt := range tests {
		if h, p := hostOf(tt.url), portOf(tt.url); h != tt.host || p != tt.port {
			t.Errorf("%q => %s:%d, want %s:%d", tt.url, h, p, tt.host, tt.port)
		}
	}
}

func TestShouldAck(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"accepted", nil, true},
		{"invalid envelope", syncerr.Validation("bad_signature", errors.New("mismatch")), true},
		{"inconsistent record", syncerr.Consistency("cycle", "marker-1", "no counter", nil), true},
		{"storage failure", syncerr.Storage("upsert_receipts", errors.New("disk full")), false},
		{"wrapped storage failure", fmt.Errorf("apply: %w", syncerr.Storage("upsert", errors.New("x"))), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldAck(tt.err); got != tt.want {
				t.Errorf("shouldAck(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
