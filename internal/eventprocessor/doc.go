// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

/*
Package eventprocessor consumes distributor envelopes from NATS JetStream.

In collector mode "mq" envelopes are not read from the distributor websocket
but from a JetStream subject, one envelope per message. Each message is handed
to the ingestion pipeline; the result decides the acknowledgement:

  - accepted, or rejected because the envelope is invalid: Ack. An invalid
    envelope will never become valid, so redelivery would only repeat the
    rejection.
  - failed with a storage error: Nack, so JetStream redelivers it up to
    MaxDeliver times.

Key Components:

  - Consumer: a suture service reading one subject through a Watermill
    subscriber.
  - EmbeddedServer: an in-process NATS server with JetStream for single node
    deployments (nats.embedded_server).
  - StreamInitializer: creates or updates the stream holding the subject.
  - Publisher: a circuit-breaker protected Watermill publisher, used by
    producers and tests.

The NATS implementation is compiled with the "nats" build tag. Without it the
constructors return ErrNATSDisabled.
*/
package eventprocessor
