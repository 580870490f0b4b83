// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package models

import "github.com/goccy/go-json"

// Signature is the distributor signature attached to a pushed envelope.
type Signature struct {
	Owner string `json:"owner" validate:"required,pubkey"`
	Sig   string `json:"sig" validate:"required,hexadecimal"`
}

// Envelope is one signed push message. Exactly one payload list is populated.
type Envelope struct {
	Cycles          []json.RawMessage `json:"cycles,omitempty" validate:"omitempty,dive,required"`
	Receipts        []json.RawMessage `json:"receipts,omitempty" validate:"omitempty,dive,required"`
	OriginalTxsData []json.RawMessage `json:"originalTxsData,omitempty" validate:"omitempty,dive,required"`
	Sign            *Signature        `json:"sign" validate:"required"`
}

// PayloadKinds returns the kinds whose payload list is non-empty.
func (e *Envelope) PayloadKinds() []Kind {
	var kinds []Kind
	if len(e.Cycles) > 0 {
		kinds = append(kinds, KindCycle)
	}
	if len(e.Receipts) > 0 {
		kinds = append(kinds, KindReceipt)
	}
	if len(e.OriginalTxsData) > 0 {
		kinds = append(kinds, KindOriginalTx)
	}
	return kinds
}

// Payload returns the raw records for a kind.
func (e *Envelope) Payload(kind Kind) []json.RawMessage {
	switch kind {
	case KindCycle:
		return e.Cycles
	case KindReceipt:
		return e.Receipts
	case KindOriginalTx:
		return e.OriginalTxsData
	}
	return nil
}

// EnvelopeField returns the wire field name carrying a kind's payload.
func EnvelopeField(kind Kind) string {
	switch kind {
	case KindCycle:
		return "cycles"
	case KindReceipt:
		return "receipts"
	case KindOriginalTx:
		return "originalTxsData"
	}
	return ""
}
