// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateMode,
		c.validateDistributor,
		c.validateSync,
		c.validateCache,
		c.validateDatabase,
		c.validateAuditLog,
		c.validateNATS,
		c.validateServer,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateMode() error {
	switch c.CollectorMode {
	case ModeWebsocket, ModeMQ:
		return nil
	default:
		return fmt.Errorf("COLLECTOR_MODE must be %q or %q, got %q", ModeWebsocket, ModeMQ, c.CollectorMode)
	}
}

func (c *Config) validateDistributor() error {
	d := c.Distributor
	if err := validateURL(d.URL, "DISTRIBUTOR_URL", "http", "https"); err != nil {
		return err
	}
	if c.CollectorMode == ModeWebsocket {
		if err := validateURL(d.WSURL, "DISTRIBUTOR_WS_URL", "ws", "wss"); err != nil {
			return err
		}
	}
	if err := validateHexKey(d.PublicKey, "DISTRIBUTOR_PUBLIC_KEY", 32); err != nil {
		return err
	}
	if err := validateHexKey(d.HashKey, "DISTRIBUTOR_HASH_KEY", 32); err != nil {
		return err
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("DISTRIBUTOR_TIMEOUT must be positive, got %v", d.Timeout)
	}
	if d.RateLimit < 0 {
		return fmt.Errorf("DISTRIBUTOR_RATE_LIMIT must not be negative, got %v", d.RateLimit)
	}
	if d.RateLimit > 0 && d.RateBurst < 1 {
		return fmt.Errorf("DISTRIBUTOR_RATE_BURST must be at least 1 when rate limiting, got %d", d.RateBurst)
	}
	if d.ReconnectMin <= 0 || d.ReconnectMax < d.ReconnectMin {
		return fmt.Errorf("DISTRIBUTOR_RECONNECT_MIN (%v) must be positive and not above DISTRIBUTOR_RECONNECT_MAX (%v)",
			d.ReconnectMin, d.ReconnectMax)
	}
	if d.RetryAttempts < 1 {
		return fmt.Errorf("DISTRIBUTOR_RETRY_ATTEMPTS must be at least 1, got %d", d.RetryAttempts)
	}
	if d.RetryFactor < 1 {
		return fmt.Errorf("DISTRIBUTOR_RETRY_MULTIPLIER must be at least 1, got %v", d.RetryFactor)
	}
	if d.BreakerFailures == 0 {
		return fmt.Errorf("DISTRIBUTOR_BREAKER_FAILURES must be at least 1")
	}
	return nil
}

func (c *Config) validateSync() error {
	s := c.Sync
	if s.Interval < 1 {
		return fmt.Errorf("SYNC_INTERVAL must be at least 1, got %d", s.Interval)
	}
	if s.SafetyMargin < 0 || s.SafetyMargin >= s.Interval {
		return fmt.Errorf("SYNC_SAFETY_MARGIN must be in [0, SYNC_INTERVAL), got %d", s.SafetyMargin)
	}
	if s.MaxRepairAttempts < 1 {
		return fmt.Errorf("SYNC_MAX_REPAIR_ATTEMPTS must be at least 1, got %d", s.MaxRepairAttempts)
	}
	for name, v := range map[string]int64{
		"SYNC_BUCKET_SIZE":         s.BucketSize,
		"SYNC_PAGE_SIZE":           s.PageSize,
		"SYNC_GENESIS_BUCKET_SIZE": s.GenesisBucketSize,
		"SYNC_CYCLE_CHUNK_SIZE":    s.CycleChunkSize,
		"SYNC_HISTORY_WINDOW":      s.HistoryWindow,
	} {
		if v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, v)
		}
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be at least 1, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.CycleSweepLookback < 0 {
		return fmt.Errorf("CACHE_CYCLE_SWEEP_LOOKBACK must not be negative, got %v", c.Cache.CycleSweepLookback)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("DUCKDB_PATH is required")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must not be negative, got %d", c.Database.Threads)
	}
	return nil
}

func (c *Config) validateAuditLog() error {
	a := c.AuditLog
	if !a.Enabled {
		return nil
	}
	if strings.TrimSpace(a.Dir) == "" {
		return fmt.Errorf("AUDIT_LOG_DIR is required when AUDIT_LOG_ENABLED=true")
	}
	if a.MaxFiles < 1 || a.EntriesPerFile < 1 {
		return fmt.Errorf("AUDIT_LOG_MAX_FILES and AUDIT_LOG_ENTRIES_PER_FILE must be at least 1")
	}
	if a.BufferSize < 1 {
		return fmt.Errorf("AUDIT_LOG_BUFFER_SIZE must be at least 1, got %d", a.BufferSize)
	}
	return nil
}

func (c *Config) validateNATS() error {
	if c.CollectorMode != ModeMQ {
		return nil
	}
	n := c.NATS
	if err := validateURL(n.URL, "NATS_URL", "nats", "tls", "ws", "wss"); err != nil {
		return err
	}
	if n.EmbeddedServer && strings.TrimSpace(n.StoreDir) == "" {
		return fmt.Errorf("NATS_STORE_DIR is required when NATS_EMBEDDED=true")
	}
	if strings.TrimSpace(n.Subject) == "" {
		return fmt.Errorf("NATS_SUBJECT is required when COLLECTOR_MODE=mq")
	}
	if strings.TrimSpace(n.DurableName) == "" {
		return fmt.Errorf("NATS_DURABLE_NAME is required when COLLECTOR_MODE=mq")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %v", c.Server.Timeout)
	}
	if c.Server.RateLimitReqs < 1 || c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
}

// validateURL checks scheme and host. Paths are allowed since websocket
// endpoints carry one.
func validateURL(rawURL, envVar string, schemes ...string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%s is required", envVar)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", envVar, err)
	}
	ok := false
	for _, s := range schemes {
		if u.Scheme == s {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%s scheme must be one of %s, got: %q", envVar, strings.Join(schemes, ", "), u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s host is required", envVar)
	}
	return nil
}

func validateHexKey(value, envVar string, size int) error {
	if value == "" {
		return fmt.Errorf("%s is required", envVar)
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return fmt.Errorf("%s must be hex encoded: %w", envVar, err)
	}
	if len(raw) != size {
		return fmt.Errorf("%s must be %d bytes, got %d", envVar, size, len(raw))
	}
	return nil
}
