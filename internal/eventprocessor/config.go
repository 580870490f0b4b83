// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package eventprocessor

import (
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/tomtom215/cyclesync/internal/config"
)

// ErrNATSDisabled is returned by constructors in builds without the nats tag.
var ErrNATSDisabled = errors.New("NATS support not enabled (build with -tags nats)")

// DefaultStreamName is the JetStream stream holding the collector subject.
const DefaultStreamName = "COLLECTOR_DATA"

// ServerConfig holds embedded NATS server configuration.
type ServerConfig struct {
	Host              string
	Port              int
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
}

// SubscriberConfig holds subscriber configuration.
type SubscriberConfig struct {
	URL              string
	DurableName      string
	QueueGroup       string
	SubscribersCount int
	AckWaitTimeout   time.Duration
	MaxDeliver       int
	MaxAckPending    int
	CloseTimeout     time.Duration
	MaxReconnects    int
	ReconnectWait    time.Duration

	// StreamName binds the subscriber to an existing stream instead of
	// auto-provisioning one named after the subject.
	StreamName string
}

// PublisherConfig holds publisher configuration.
type PublisherConfig struct {
	URL              string
	MaxReconnects    int
	ReconnectWait    time.Duration
	ReconnectBuffer  int
	EnableTrackMsgID bool // nolint:revive // ID is correct per Go conventions
}

// StreamConfig defines the collector stream.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	MaxMsgs         int64
	DuplicateWindow time.Duration
	Replicas        int
}

// Settings bundles everything the NATS components need.
type Settings struct {
	Subject    string
	Server     ServerConfig
	Subscriber SubscriberConfig
	Publisher  PublisherConfig
	Stream     StreamConfig
}

// SettingsFrom derives the component settings from the nats config section.
func SettingsFrom(cfg config.NATSConfig) Settings {
	return Settings{
		Subject: cfg.Subject,
		Server: ServerConfig{
			Host:              hostOf(cfg.URL),
			Port:              portOf(cfg.URL),
			StoreDir:          cfg.StoreDir,
			JetStreamMaxMem:   cfg.MaxMemory,
			JetStreamMaxStore: cfg.MaxStore,
		},
		Subscriber: SubscriberConfig{
			URL:              cfg.URL,
			DurableName:      cfg.DurableName,
			QueueGroup:       cfg.QueueGroup,
			SubscribersCount: 1,
			AckWaitTimeout:   orDuration(cfg.AckWait, 30*time.Second),
			MaxDeliver:       5,
			MaxAckPending:    1000,
			CloseTimeout:     orDuration(cfg.CloseTimeout, 30*time.Second),
			MaxReconnects:    -1,
			ReconnectWait:    2 * time.Second,
			StreamName:       DefaultStreamName,
		},
		Publisher: PublisherConfig{
			URL:              cfg.URL,
			MaxReconnects:    -1,
			ReconnectWait:    2 * time.Second,
			ReconnectBuffer:  8 * 1024 * 1024,
			EnableTrackMsgID: true,
		},
		Stream: StreamConfig{
			Name:            DefaultStreamName,
			Subjects:        []string{cfg.Subject},
			MaxAge:          7 * 24 * time.Hour,
			MaxBytes:        cfg.MaxStore,
			MaxMsgs:         -1,
			DuplicateWindow: 2 * time.Minute,
			Replicas:        1,
		},
	}
}

// hostOf returns the host of a NATS URL, 127.0.0.1 when it has none.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "127.0.0.1"
	}
	return u.Hostname()
}

// portOf returns the port of a NATS URL, 4222 when it has none.
func portOf(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 4222
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return 4222
	}
	return port
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
