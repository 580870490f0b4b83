// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package main

import (
	"context"
	"fmt"

	"github.com/tomtom215/cyclesync/internal/config"
	"github.com/tomtom215/cyclesync/internal/distributor"
	"github.com/tomtom215/cyclesync/internal/eventprocessor"
	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/supervisor"
)

// registerCollector adds the push transport selected by COLLECTOR_MODE.
func (a *app) registerCollector(ctx context.Context, tree *supervisor.SupervisorTree) error {
	switch a.cfg.CollectorMode {
	case config.ModeWebsocket:
		a.listener = distributor.NewListener(a.cfg.Distributor, a.pipeline.Process)
		tree.AddMessagingService(a.listener)
		logging.Info().Str("url", a.cfg.Distributor.WSURL).Msg("Websocket collector enabled")
		return nil

	case config.ModeMQ:
		return a.registerNATS(ctx, tree)

	default:
		return fmt.Errorf("unknown collector mode %q", a.cfg.CollectorMode)
	}
}

// registerNATS starts the optional embedded server, makes sure the stream
// exists and adds the JetStream consumer.
func (a *app) registerNATS(ctx context.Context, tree *supervisor.SupervisorTree) error {
	settings := eventprocessor.SettingsFrom(a.cfg.NATS)
	url := a.cfg.NATS.URL

	if a.cfg.NATS.EmbeddedServer {
		srv, err := eventprocessor.NewEmbeddedServer(&settings.Server)
		if err != nil {
			return fmt.Errorf("start embedded NATS server: %w", err)
		}
		url = srv.ClientURL()
		settings.Subscriber.URL = url
		settings.Publisher.URL = url
		tree.AddDataService(srv)
		logging.Info().Str("url", url).Bool("jetstream", srv.JetStreamEnabled()).Msg("Embedded NATS server started")
	}

	if err := eventprocessor.EnsureStreamAt(ctx, url, &settings.Stream); err != nil {
		return fmt.Errorf("ensure stream %s: %w", settings.Stream.Name, err)
	}

	consumer, err := eventprocessor.NewConsumer(settings, a.pipeline.Ingest)
	if err != nil {
		return fmt.Errorf("create NATS consumer: %w", err)
	}
	tree.AddMessagingService(consumer)
	logging.Info().Str("subject", settings.Subject).Str("stream", settings.Stream.Name).Msg("NATS collector enabled")
	return nil
}
