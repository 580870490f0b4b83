// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

// Package syncerr defines the error taxonomy shared by the sync subsystem.
//
// Four classes drive handling decisions:
//   - TransportError: retried with backoff, aborts only the current page or round
//   - ValidationError: envelope rejected and counted, never retried
//   - ConsistencyError: offending record skipped, the round continues
//   - StorageError: returned to the caller, the bucket is retried on a later pass
package syncerr

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by storage lookups that match no row.
var ErrNotFound = errors.New("record not found")

// ErrBootstrapUnreachable is returned when the distributor cannot be reached
// during first boot and no local history exists.
var ErrBootstrapUnreachable = errors.New("distributor unreachable during bootstrap with no local data")

// TransportError is a failed exchange with the distributor.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the request can succeed.
// Client errors other than 408 and 429 are final.
func (e *TransportError) Retryable() bool {
	if e.Status == 0 || e.Status >= 500 {
		return true
	}
	return e.Status == 408 || e.Status == 429
}

// ValidationError is an envelope that failed shape, signer or signature checks.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation %s: %v", e.Reason, e.Err)
	}
	return "validation " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConsistencyError is a record that contradicts local or remote history.
type ConsistencyError struct {
	Kind   string
	Key    string
	Reason string
	Err    error
}

func (e *ConsistencyError) Error() string {
	msg := fmt.Sprintf("consistency %s %s: %s", e.Kind, e.Key, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// StorageError is a failed read or write against the storage collaborator.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Transport wraps err as a TransportError.
func Transport(op string, status int, err error) error {
	return &TransportError{Op: op, Status: status, Err: err}
}

// Validation wraps err as a ValidationError.
func Validation(reason string, err error) error {
	return &ValidationError{Reason: reason, Err: err}
}

// Consistency builds a ConsistencyError.
func Consistency(kind, key, reason string, err error) error {
	return &ConsistencyError{Kind: kind, Key: key, Reason: reason, Err: err}
}

// Storage wraps err as a StorageError. A nil err returns nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsTransport reports whether err contains a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsValidation reports whether err contains a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsConsistency reports whether err contains a ConsistencyError.
func IsConsistency(err error) bool {
	var target *ConsistencyError
	return errors.As(err, &target)
}

// IsStorage reports whether err contains a StorageError.
func IsStorage(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}

// IsRetryable reports whether err is a TransportError worth repeating.
func IsRetryable(err error) bool {
	var target *TransportError
	if !errors.As(err, &target) {
		return false
	}
	return target.Retryable()
}
