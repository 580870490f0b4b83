// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

// Package config loads the CycleSync configuration.
//
// Sources are layered with koanf, lowest priority first:
//
//  1. built-in defaults (defaultConfig)
//  2. an optional YAML file (CONFIG_PATH, or config.yaml in the working directory)
//  3. environment variables, mapped explicitly by envTransformFunc
//
// Unknown environment variables are ignored. The loaded configuration is
// validated before it is returned; error messages name the environment
// variable that controls the offending field.
package config

import (
	"time"
)

// Collector modes select the push transport.
const (
	ModeWebsocket = "ws"
	ModeMQ        = "mq"
)

// Config is the root configuration.
type Config struct {
	CollectorMode string            `koanf:"collector_mode"`
	Distributor   DistributorConfig `koanf:"distributor"`
	Sync          SyncConfig        `koanf:"sync"`
	Ingest        IngestConfig      `koanf:"ingest"`
	Cache         CacheConfig       `koanf:"cache"`
	Database      DatabaseConfig    `koanf:"database"`
	AuditLog      AuditLogConfig    `koanf:"audit_log"`
	NATS          NATSConfig        `koanf:"nats"`
	Server        ServerConfig      `koanf:"server"`
	Logging       LoggingConfig     `koanf:"logging"`
}

// DistributorConfig describes the upstream distributor and how it is called.
type DistributorConfig struct {
	// URL is the base HTTP URL of the distributor API.
	URL string `koanf:"url"`

	// WSURL is the websocket endpoint streaming signed envelopes.
	// Derived from URL (ws scheme, /subscribe path) when empty.
	WSURL string `koanf:"ws_url"`

	// PublicKey is the hex ed25519 key every pushed envelope must be signed with.
	PublicKey string `koanf:"public_key"`

	// HashKey is the hex key for the keyed BLAKE2b envelope digest.
	HashKey string `koanf:"hash_key"`

	Timeout        time.Duration `koanf:"timeout"`
	RateLimit      float64       `koanf:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst      int           `koanf:"rate_burst"`
	ReconnectMin   time.Duration `koanf:"reconnect_min"`
	ReconnectMax   time.Duration `koanf:"reconnect_max"`
	PingInterval   time.Duration `koanf:"ping_interval"`
	RetryAttempts  int           `koanf:"retry_attempts"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	RetryMaxDelay  time.Duration `koanf:"retry_max_delay"`
	RetryFactor    float64       `koanf:"retry_multiplier"`

	// BreakerFailures consecutive failures open the circuit breaker.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// SyncConfig tunes the drift check and backfill windows.
type SyncConfig struct {
	Interval          int64 `koanf:"interval"`
	SafetyMargin      int64 `koanf:"safety_margin"`
	MaxRepairAttempts int   `koanf:"max_repair_attempts"`
	BucketSize        int64 `koanf:"bucket_size"`
	PageSize          int64 `koanf:"page_size"`
	GenesisBucketSize int64 `koanf:"genesis_bucket_size"`
	CycleChunkSize    int64 `koanf:"cycle_chunk_size"`
	HistoryWindow     int64 `koanf:"history_window"`

	// PatchData forces OriginalTx bulk sync on restart even when local data exists.
	PatchData bool `koanf:"patch_data"`
}

// IngestConfig toggles projections written alongside receipts.
type IngestConfig struct {
	IndexReceipt             bool `koanf:"index_receipt"`
	IndexOriginalTx          bool `koanf:"index_original_tx"`
	SaveAccountHistoryState  bool `koanf:"save_account_history_state"`
	StoreReceiptBeforeStates bool `koanf:"store_receipt_before_states"`
	ForwardEnvelopes         bool `koanf:"forward_envelopes"`
}

// CacheConfig bounds the dedup caches.
type CacheConfig struct {
	MaxEntries int `koanf:"max_entries"`

	// CycleSweepLookback is subtracted from now when a new cycle sweeps the caches.
	CycleSweepLookback time.Duration `koanf:"cycle_sweep_lookback"`
}

// DatabaseConfig configures the DuckDB replica.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// AuditLogConfig configures the Badger-backed log of accepted payloads.
type AuditLogConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Dir            string `koanf:"dir"`
	MaxFiles       int    `koanf:"max_files"`
	EntriesPerFile int    `koanf:"entries_per_file"`
	BufferSize     int    `koanf:"buffer_size"`
	ReplayOnStart  bool   `koanf:"replay_on_start"`
}

// Retention is the number of entries kept per record kind.
func (a AuditLogConfig) Retention() int {
	return a.MaxFiles * a.EntriesPerFile
}

// NATSConfig configures the JetStream consumer used in mq collector mode.
type NATSConfig struct {
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	MaxMemory      int64         `koanf:"max_memory"`
	MaxStore       int64         `koanf:"max_store"`
	Subject        string        `koanf:"subject"`
	DurableName    string        `koanf:"durable_name"`
	QueueGroup     string        `koanf:"queue_group"`
	AckWait        time.Duration `koanf:"ack_wait"`
	CloseTimeout   time.Duration `koanf:"close_timeout"`
}

// ServerConfig configures the operational HTTP surface.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig mirrors logging.Config for the file and env layers.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
