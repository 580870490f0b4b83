// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package testinfra

import (
	"crypto/ed25519"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/signature"
)

// HashKey is the digest key used by test signers and verifiers.
const HashKey = "69fa4195670576c0160d660c3be36556ff8d504725be8a59b5a96509e0c994bc"

// NewSigner returns a deterministic signer. Different seeds give different keys.
func NewSigner(t *testing.T, seed byte) *signature.Signer {
	t.Helper()
	raw := make([]byte, ed25519.SeedSize)
	for i := range raw {
		raw[i] = seed + byte(i)
	}
	s, err := signature.NewSigner(ed25519.NewKeyFromSeed(raw), HashKey)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

// NewVerifier returns a verifier matching NewSigner.
func NewVerifier(t *testing.T) *signature.Verifier {
	t.Helper()
	v, err := signature.NewVerifier(HashKey)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

// SignEnvelope builds a signed envelope carrying records under the wire
// field of kind.
func SignEnvelope(t *testing.T, s *signature.Signer, kind models.Kind, records ...any) []byte {
	t.Helper()
	raws := make([]json.RawMessage, 0, len(records))
	for _, r := range records {
		if raw, ok := r.(json.RawMessage); ok {
			raws = append(raws, raw)
			continue
		}
		raws = append(raws, mustRaw(r))
	}
	unsigned, err := json.Marshal(map[string]any{models.EnvelopeField(kind): raws})
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	signed, err := s.Sign(unsigned)
	if err != nil {
		t.Fatalf("sign envelope: %v", err)
	}
	return signed
}
