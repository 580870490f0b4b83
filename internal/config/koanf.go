// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/cyclesync/config.yaml",
	"/etc/cyclesync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultHashKey is the distributor network's published digest key.
const defaultHashKey = "69fa4195670576c0160d660c3be36556ff8d504725be8a59b5a96509e0c994bc"

func defaultConfig() *Config {
	return &Config{
		CollectorMode: ModeWebsocket,
		Distributor: DistributorConfig{
			URL:             "http://127.0.0.1:6100",
			HashKey:         defaultHashKey,
			Timeout:         30 * time.Second,
			RateLimit:       20,
			RateBurst:       5,
			ReconnectMin:    1 * time.Second,
			ReconnectMax:    32 * time.Second,
			PingInterval:    30 * time.Second,
			RetryAttempts:   3,
			RetryBaseDelay:  1 * time.Second,
			RetryMaxDelay:   30 * time.Second,
			RetryFactor:     2,
			BreakerFailures: 5,
			BreakerTimeout:  60 * time.Second,
		},
		Sync: SyncConfig{
			Interval:          10,
			SafetyMargin:      5,
			MaxRepairAttempts: 3,
			BucketSize:        1000,
			PageSize:          100,
			GenesisBucketSize: 10000,
			CycleChunkSize:    100,
			HistoryWindow:     10,
		},
		Ingest: IngestConfig{
			IndexReceipt:             true,
			IndexOriginalTx:          true,
			SaveAccountHistoryState:  true,
			StoreReceiptBeforeStates: true,
			ForwardEnvelopes:         true,
		},
		Cache: CacheConfig{
			MaxEntries:         100000,
			CycleSweepLookback: 5 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:      "/data/cyclesync.duckdb",
			MaxMemory: "2GB",
		},
		AuditLog: AuditLogConfig{
			Enabled:        false,
			Dir:            "/data/data-logs",
			MaxFiles:       10,
			EntriesPerFile: 1000,
			BufferSize:     4096,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: false,
			StoreDir:       "/data/nats/jetstream",
			MaxMemory:      256 << 20,
			MaxStore:       4 << 30,
			Subject:        "collector.data",
			DurableName:    "cyclesync",
			QueueGroup:     "collectors",
			AckWait:        30 * time.Second,
			CloseTimeout:   30 * time.Second,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            6101,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from defaults, the config file and the environment.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// normalize fills derived fields.
func (c *Config) normalize() {
	c.CollectorMode = strings.ToLower(strings.TrimSpace(c.CollectorMode))
	c.Distributor.URL = strings.TrimRight(c.Distributor.URL, "/")
	c.Distributor.PublicKey = strings.ToLower(strings.TrimSpace(c.Distributor.PublicKey))
	c.Distributor.HashKey = strings.ToLower(strings.TrimSpace(c.Distributor.HashKey))
	if c.Distributor.WSURL == "" && c.Distributor.URL != "" {
		c.Distributor.WSURL = deriveWSURL(c.Distributor.URL)
	}
}

func deriveWSURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/subscribe"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/subscribe"
	default:
		return base + "/subscribe"
	}
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps lower-cased environment variable names to koanf paths.
var envMappings = map[string]string{
	"collector_mode": "collector_mode",

	"distributor_url":              "distributor.url",
	"distributor_ws_url":           "distributor.ws_url",
	"distributor_public_key":       "distributor.public_key",
	"distributor_hash_key":         "distributor.hash_key",
	"distributor_timeout":          "distributor.timeout",
	"distributor_rate_limit":       "distributor.rate_limit",
	"distributor_rate_burst":       "distributor.rate_burst",
	"distributor_reconnect_min":    "distributor.reconnect_min",
	"distributor_reconnect_max":    "distributor.reconnect_max",
	"distributor_ping_interval":    "distributor.ping_interval",
	"distributor_retry_attempts":   "distributor.retry_attempts",
	"distributor_retry_base_delay": "distributor.retry_base_delay",
	"distributor_retry_max_delay":  "distributor.retry_max_delay",
	"distributor_retry_multiplier": "distributor.retry_multiplier",
	"distributor_breaker_failures": "distributor.breaker_failures",
	"distributor_breaker_timeout":  "distributor.breaker_timeout",

	"sync_interval":            "sync.interval",
	"sync_safety_margin":       "sync.safety_margin",
	"sync_max_repair_attempts": "sync.max_repair_attempts",
	"sync_bucket_size":         "sync.bucket_size",
	"sync_page_size":           "sync.page_size",
	"sync_genesis_bucket_size": "sync.genesis_bucket_size",
	"sync_cycle_chunk_size":    "sync.cycle_chunk_size",
	"sync_history_window":      "sync.history_window",
	"patch_data":               "sync.patch_data",

	"index_receipt":               "ingest.index_receipt",
	"index_original_tx":           "ingest.index_original_tx",
	"save_account_history_state":  "ingest.save_account_history_state",
	"store_receipt_before_states": "ingest.store_receipt_before_states",
	"forward_envelopes":           "ingest.forward_envelopes",

	"cache_max_entries":          "cache.max_entries",
	"cache_cycle_sweep_lookback": "cache.cycle_sweep_lookback",

	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	"audit_log_enabled":          "audit_log.enabled",
	"audit_log_dir":              "audit_log.dir",
	"audit_log_max_files":        "audit_log.max_files",
	"audit_log_entries_per_file": "audit_log.entries_per_file",
	"audit_log_buffer_size":      "audit_log.buffer_size",
	"audit_log_replay_on_start":  "audit_log.replay_on_start",

	"nats_url":           "nats.url",
	"nats_embedded":      "nats.embedded_server",
	"nats_store_dir":     "nats.store_dir",
	"nats_max_memory":    "nats.max_memory",
	"nats_max_store":     "nats.max_store",
	"nats_subject":       "nats.subject",
	"nats_durable_name":  "nats.durable_name",
	"nats_queue_group":   "nats.queue_group",
	"nats_ack_wait":      "nats.ack_wait",
	"nats_close_timeout": "nats.close_timeout",

	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_timeout":        "server.timeout",
	"rate_limit_requests": "server.rate_limit_reqs",
	"rate_limit_window":   "server.rate_limit_window",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable name to a koanf path.
// Unmapped variables return "" and are skipped.
//
//   - DISTRIBUTOR_URL -> distributor.url
//   - DUCKDB_PATH     -> database.path
//   - HTTP_PORT       -> server.port
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
