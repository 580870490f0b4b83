// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

/*
Package models defines the record types replicated from the distributor.

Record streams:

  - Cycle: consensus cycle record keyed by its marker
  - Receipt: finalized transaction receipt keyed by tx id
  - OriginalTx: as-submitted transaction payload keyed by (tx id, timestamp)

Projections derived from receipts:

  - Account: latest known state of each account in afterStates
  - Transaction: application receipt view of a transaction
  - AccountHistoryState: before/after state hashes per account per receipt

Payload fields that the service never interprets are kept as json.RawMessage so
the replica stores exactly what the distributor served.
*/
package models
