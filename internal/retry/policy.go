// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

// Package retry provides the bounded exponential backoff policy used for every
// remote call made by the sync subsystem.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

// Policy bounds how often and how fast an operation is repeated.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Defaults to syncerr.IsRetryable.
	Retryable func(error) bool
}

// DefaultPolicy returns 3 attempts starting at 1s and doubling up to 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
	}
}

// Result describes how an operation ended.
type Result struct {
	Attempts int
	Err      error
}

// OK reports whether the operation eventually succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Delay returns the wait before the given retry (1-based).
func (p Policy) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(p.BaseDelay)
	for i := 1; i < retry; i++ {
		d *= mult
		if p.MaxDelay > 0 && time.Duration(d) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Run calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done.
func (p Policy) Run(ctx context.Context, op string, fn func(ctx context.Context) error) Result {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = syncerr.IsRetryable
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Attempts: attempt - 1, Err: ctxErr}
		}

		err = fn(ctx)
		if err == nil {
			return Result{Attempts: attempt}
		}
		if !retryable(err) {
			return Result{Attempts: attempt, Err: err}
		}

		if attempt < attempts {
			delay := p.Delay(attempt)
			logging.Warn().
				Err(err).
				Str("op", op).
				Int("attempt", attempt).
				Int("max_attempts", attempts).
				Dur("delay", delay).
				Msg("Retry attempt")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Result{Attempts: attempt, Err: ctx.Err()}
			}
		}
	}

	return Result{Attempts: attempts, Err: fmt.Errorf("max retry attempts reached for %s: %w", op, err)}
}

// Do is Run returning only the error.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return p.Run(ctx, op, fn).Err
}
