// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

//go:build !nats

package main

import (
	"context"
	"errors"
	"testing"

	"github.com/tomtom215/cyclesync/internal/config"
	"github.com/tomtom215/cyclesync/internal/eventprocessor"
)

func TestRegisterCollector_MQWithoutNATSBuild(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.CollectorMode = config.ModeMQ
	cfg.NATS = config.NATSConfig{URL: "nats://127.0.0.1:4222", EmbeddedServer: true, Subject: "collector.data"}

	a, err := newApp(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Close)

	err = a.register(context.Background(), newTestTree(t))
	if !errors.Is(err, eventprocessor.ErrNATSDisabled) {
		t.Errorf("register = %v, want ErrNATSDisabled", err)
	}
}

func TestRegisterCollector_UnknownMode(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.CollectorMode = "carrier-pigeon"

	a, err := newApp(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Close)

	if err := a.registerCollector(context.Background(), newTestTree(t)); err == nil {
		t.Error("unknown mode accepted")
	}
}
