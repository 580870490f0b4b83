// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

/*
Package supervisor runs the long-lived services of CycleSync under a suture
v4 supervisor tree.

Tree layout:

	cyclesync (root)
	├── data-layer        audit log writer, embedded NATS server
	├── messaging-layer   sync manager, push listener, NATS consumer, websocket hub
	└── api-layer         HTTP server

A service that returns an error or panics is restarted with suture's
backoff. Failures in one layer do not stop the other layers, so the
operational API stays up while the push listener reconnects.

Supervisor events are logged through sutureslog on the zerolog-backed slog
handler from internal/logging.

Usage Example:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	if err != nil {
	    return err
	}
	tree.AddDataService(auditWriter)
	tree.AddMessagingService(syncManager)
	tree.AddMessagingService(listener)
	tree.AddAPIService(services.NewHTTPServerService(srv, 10*time.Second))
	return tree.Serve(ctx)
*/
package supervisor
