// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

// Package distributor talks to the upstream distributor: the paged HTTP API
// used by backfill and reconciliation, and the websocket push stream.
//
// Every HTTP call is rate limited, guarded by a circuit breaker, bounded by
// a per-attempt timeout and retried with the configured retry.Policy.
package distributor

import (
	"context"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/cyclesync/internal/config"
	"github.com/tomtom215/cyclesync/internal/metrics"
	"github.com/tomtom215/cyclesync/internal/retry"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

// Client is the distributor HTTP API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	policy  retry.Policy
}

// NewClient creates a client from the distributor configuration.
func NewClient(cfg config.DistributorConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	policy := retry.DefaultPolicy()
	if cfg.RetryAttempts > 0 {
		policy.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryBaseDelay > 0 {
		policy.BaseDelay = cfg.RetryBaseDelay
	}
	if cfg.RetryMaxDelay > 0 {
		policy.MaxDelay = cfg.RetryMaxDelay
	}
	if cfg.RetryFactor > 0 {
		policy.Multiplier = cfg.RetryFactor
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{},
		timeout: timeout,
		limiter: rate.NewLimiter(limit, burst),
		breaker: newBreaker(cfg.BreakerFailures, cfg.BreakerTimeout),
		policy:  policy,
	}
}

// get runs one logical request, retrying transient failures.
func (c *Client) get(ctx context.Context, op string, req *apiRequest) ([]byte, error) {
	reqURL := req.buildURL(c.baseURL)

	var body []byte
	err := c.policy.Do(ctx, op, func(ctx context.Context) error {
		b, err := c.attempt(ctx, op, reqURL)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// attempt performs a single rate-limited, breaker-guarded HTTP call.
func (c *Client) attempt(ctx context.Context, op, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	status := 0
	body, err := c.breaker.Execute(func() ([]byte, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		b, code, err := executeRequest(attemptCtx, c.http, op, reqURL)
		status = code
		return b, err
	})
	metrics.RecordDistributorRequest(op, status, time.Since(start))

	if err != nil {
		if isBreakerRejection(err) {
			return nil, syncerr.Transport(op, 0, err)
		}
		return nil, err
	}
	return body, nil
}

// BreakerState reports the circuit breaker state: closed, half-open or open.
func (c *Client) BreakerState() string {
	return stateToString(c.breaker.State())
}
