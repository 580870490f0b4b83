// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

// Package signature verifies signed distributor envelopes.
//
// An envelope carries a "sign" object {owner, sig}. The signed message is the
// lower-case hex of a keyed BLAKE2b-256 digest over the canonical JSON of the
// envelope with sign.sig removed (sign.owner stays in). The signature is
// ed25519 over that hex string. Two encodings of sig are accepted: a 64-byte
// detached signature, or the combined form signature||message.
//
// Canonical JSON is produced by decoding with UseNumber and re-encoding:
// object keys come out sorted, numbers keep their literal text, and
// insignificant whitespace is dropped.
package signature

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/blake2b"
)

var (
	// ErrMissingSignature is returned when the envelope has no sign object, owner or sig.
	ErrMissingSignature = errors.New("envelope is not signed")

	// ErrInvalidSignature is returned when the signature does not verify.
	ErrInvalidSignature = errors.New("signature verification failed")

	// ErrMalformed is returned when the envelope or key material cannot be decoded.
	ErrMalformed = errors.New("malformed signature material")
)

const (
	signField  = "sign"
	ownerField = "owner"
	sigField   = "sig"
)

// Canonicalize re-encodes raw JSON in canonical form.
func Canonicalize(raw []byte) ([]byte, error) {
	v, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrMalformed, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after json value", ErrMalformed)
	}
	return v, nil
}

// Verifier checks envelope signatures with a shared digest key.
type Verifier struct {
	hashKey []byte
}

// NewVerifier creates a Verifier from a hex digest key (1 to 64 bytes).
func NewVerifier(hashKeyHex string) (*Verifier, error) {
	key, err := hex.DecodeString(hashKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: hash key: %v", ErrMalformed, err)
	}
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, fmt.Errorf("%w: hash key must be 1..%d bytes, got %d", ErrMalformed, blake2b.Size, len(key))
	}
	return &Verifier{hashKey: key}, nil
}

// Digest returns the hex digest an envelope signature is computed over,
// together with the parsed sign object.
func (v *Verifier) Digest(envelope []byte) (digest string, owner string, sig string, err error) {
	doc, err := decode(envelope)
	if err != nil {
		return "", "", "", err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return "", "", "", fmt.Errorf("%w: envelope is not an object", ErrMalformed)
	}
	sign, ok := obj[signField].(map[string]any)
	if !ok {
		return "", "", "", ErrMissingSignature
	}
	owner, _ = sign[ownerField].(string)
	sig, _ = sign[sigField].(string)

	unsigned := make(map[string]any, len(sign))
	for k, val := range sign {
		if k != sigField {
			unsigned[k] = val
		}
	}
	obj[signField] = unsigned

	canonical, err := json.Marshal(obj)
	if err != nil {
		return "", "", "", fmt.Errorf("%w: encode canonical envelope: %v", ErrMalformed, err)
	}
	digest, err = v.hash(canonical)
	if err != nil {
		return "", "", "", err
	}
	return digest, owner, sig, nil
}

func (v *Verifier) hash(msg []byte) (string, error) {
	h, err := blake2b.New256(v.hashKey)
	if err != nil {
		return "", fmt.Errorf("%w: blake2b: %v", ErrMalformed, err)
	}
	_, _ = h.Write(msg)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify checks the envelope signature against its own sign.owner key and
// returns that owner. Callers compare the owner with their trusted key.
func (v *Verifier) Verify(envelope []byte) (string, error) {
	digest, owner, sigHex, err := v.Digest(envelope)
	if err != nil {
		return "", err
	}
	if owner == "" || sigHex == "" {
		return owner, ErrMissingSignature
	}
	pub, err := hex.DecodeString(owner)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return owner, fmt.Errorf("%w: owner is not a hex ed25519 public key", ErrMalformed)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) < ed25519.SignatureSize {
		return owner, fmt.Errorf("%w: sig is not a hex ed25519 signature", ErrMalformed)
	}

	msg := []byte(digest)
	if len(sig) > ed25519.SignatureSize {
		// Combined form: the signed message follows the signature.
		if !bytes.Equal(sig[ed25519.SignatureSize:], msg) {
			return owner, ErrInvalidSignature
		}
		sig = sig[:ed25519.SignatureSize]
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return owner, ErrInvalidSignature
	}
	return owner, nil
}

// Signer produces envelopes the Verifier accepts. Used by tests and by
// tooling that replays captured payloads.
type Signer struct {
	verifier *Verifier
	priv     ed25519.PrivateKey
}

// NewSigner creates a Signer for the given private key and hex digest key.
func NewSigner(priv ed25519.PrivateKey, hashKeyHex string) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key must be %d bytes", ErrMalformed, ed25519.PrivateKeySize)
	}
	v, err := NewVerifier(hashKeyHex)
	if err != nil {
		return nil, err
	}
	return &Signer{verifier: v, priv: priv}, nil
}

// PublicKey returns the hex public key written into sign.owner.
func (s *Signer) PublicKey() string {
	pub, _ := s.priv.Public().(ed25519.PublicKey)
	return hex.EncodeToString(pub)
}

// Sign sets sign.owner, computes the digest and returns the envelope with
// sign.sig filled in (detached form).
func (s *Signer) Sign(envelope []byte) ([]byte, error) {
	doc, err := decode(envelope)
	if err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: envelope is not an object", ErrMalformed)
	}
	obj[signField] = map[string]any{ownerField: s.PublicKey()}
	unsigned, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	digest, _, _, err := s.verifier.Digest(unsigned)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(s.priv, []byte(digest))
	obj[signField] = map[string]any{
		ownerField: s.PublicKey(),
		sigField:   hex.EncodeToString(sig),
	}
	return json.Marshal(obj)
}
