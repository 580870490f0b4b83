// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

//go:build nats

package eventprocessor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/metrics"
)

// Consumer feeds JetStream messages of one subject into a Handler.
type Consumer struct {
	sub     *Subscriber
	subject string
	handle  Handler
}

// NewConsumer creates a consumer for settings.Subject.
func NewConsumer(settings Settings, handle Handler) (*Consumer, error) {
	if handle == nil {
		return nil, errors.New("consumer handler required")
	}
	sub, err := NewSubscriber(&settings.Subscriber, nil)
	if err != nil {
		return nil, err
	}
	return &Consumer{sub: sub, subject: settings.Subject, handle: handle}, nil
}

// Serve consumes until ctx is done. A closed subscription is returned as an
// error so the supervisor restarts the consumer.
func (c *Consumer) Serve(ctx context.Context) error {
	messages, err := c.sub.Subscribe(ctx, c.subject)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.subject, err)
	}
	logging.Info().Str("subject", c.subject).Msg("NATS consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("subscription to %s closed", c.subject)
			}
			c.process(ctx, msg)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg *message.Message) {
	accepted, err := c.handle(ctx, msg.Payload)
	if shouldAck(err) {
		msg.Ack()
		metrics.NATSMessages.WithLabelValues("acked").Inc()
		logging.Debug().Str("message_uuid", msg.UUID).Bool("accepted", accepted).Msg("NATS message handled")
		return
	}
	msg.Nack()
	metrics.NATSMessages.WithLabelValues("nacked").Inc()
	logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("NATS message will be redelivered")
}

// Close shuts the subscriber down.
func (c *Consumer) Close() error {
	return c.sub.Close()
}

func (c *Consumer) String() string {
	return "nats-consumer"
}
