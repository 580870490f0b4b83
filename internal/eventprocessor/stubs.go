// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

//go:build !nats

package eventprocessor

import "context"

// Consumer is a stub in builds without the nats tag.
type Consumer struct{}

// NewConsumer returns ErrNATSDisabled.
func NewConsumer(_ Settings, _ Handler) (*Consumer, error) {
	return nil, ErrNATSDisabled
}

// Serve returns ErrNATSDisabled.
func (c *Consumer) Serve(context.Context) error { return ErrNATSDisabled }

// Close is a no-op.
func (c *Consumer) Close() error { return nil }

func (c *Consumer) String() string { return "nats-consumer" }

// EmbeddedServer is a stub in builds without the nats tag.
type EmbeddedServer struct{}

// NewEmbeddedServer returns ErrNATSDisabled.
func NewEmbeddedServer(_ *ServerConfig) (*EmbeddedServer, error) {
	return nil, ErrNATSDisabled
}

// ClientURL returns an empty string.
func (s *EmbeddedServer) ClientURL() string { return "" }

// JetStreamEnabled returns false.
func (s *EmbeddedServer) JetStreamEnabled() bool { return false }

// Shutdown is a no-op.
func (s *EmbeddedServer) Shutdown(context.Context) error { return nil }

// Serve returns ErrNATSDisabled.
func (s *EmbeddedServer) Serve(context.Context) error { return ErrNATSDisabled }

func (s *EmbeddedServer) String() string { return "nats-embedded-server" }

// EnsureStreamAt returns ErrNATSDisabled.
func EnsureStreamAt(_ context.Context, _ string, _ *StreamConfig) error {
	return ErrNATSDisabled
}
