// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testPublicKey = "758b1c119412298802cd28dbfa394cdfeecc4074492d60844cc192d632d84de3"

// validConfig returns defaults with the required public key filled in.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Distributor.PublicKey = testPublicKey
	cfg.normalize()
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.CollectorMode != ModeWebsocket {
		t.Errorf("CollectorMode = %q, want ws", cfg.CollectorMode)
	}
	if cfg.Sync.Interval != 10 || cfg.Sync.SafetyMargin != 5 {
		t.Errorf("Sync interval/margin = %d/%d, want 10/5", cfg.Sync.Interval, cfg.Sync.SafetyMargin)
	}
	if cfg.Sync.BucketSize != 1000 || cfg.Sync.PageSize != 100 || cfg.Sync.GenesisBucketSize != 10000 {
		t.Errorf("unexpected bucket sizes: %+v", cfg.Sync)
	}
	if cfg.Sync.MaxRepairAttempts != 3 {
		t.Errorf("MaxRepairAttempts = %d, want 3", cfg.Sync.MaxRepairAttempts)
	}
	if cfg.Cache.MaxEntries != 100000 {
		t.Errorf("Cache.MaxEntries = %d, want 100000", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.CycleSweepLookback != 5*time.Minute {
		t.Errorf("CycleSweepLookback = %v, want 5m", cfg.Cache.CycleSweepLookback)
	}
	if cfg.AuditLog.Retention() != 10000 {
		t.Errorf("AuditLog.Retention() = %d, want 10000", cfg.AuditLog.Retention())
	}
	if cfg.Distributor.ReconnectMin != time.Second || cfg.Distributor.ReconnectMax != 32*time.Second {
		t.Errorf("reconnect bounds = %v..%v", cfg.Distributor.ReconnectMin, cfg.Distributor.ReconnectMax)
	}
	if !cfg.Ingest.IndexReceipt || !cfg.Ingest.SaveAccountHistoryState || !cfg.Ingest.StoreReceiptBeforeStates {
		t.Errorf("ingest projections should default on: %+v", cfg.Ingest)
	}
}

func TestNormalizeDerivesWSURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://127.0.0.1:6100", "ws://127.0.0.1:6100/subscribe"},
		{"https://dist.example.com/", "wss://dist.example.com/subscribe"},
	}
	for _, tt := range tests {
		cfg := defaultConfig()
		cfg.Distributor.URL = tt.base
		cfg.normalize()
		if cfg.Distributor.WSURL != tt.want {
			t.Errorf("WSURL for %q = %q, want %q", tt.base, cfg.Distributor.WSURL, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"bad mode", func(c *Config) { c.CollectorMode = "grpc" }, "COLLECTOR_MODE"},
		{"missing public key", func(c *Config) { c.Distributor.PublicKey = "" }, "DISTRIBUTOR_PUBLIC_KEY is required"},
		{"short public key", func(c *Config) { c.Distributor.PublicKey = "abcd" }, "DISTRIBUTOR_PUBLIC_KEY must be 32 bytes"},
		{"non-hex hash key", func(c *Config) { c.Distributor.HashKey = "zz" }, "DISTRIBUTOR_HASH_KEY must be hex"},
		{"bad distributor scheme", func(c *Config) { c.Distributor.URL = "ftp://x" }, "DISTRIBUTOR_URL scheme"},
		{"bad ws scheme", func(c *Config) { c.Distributor.WSURL = "http://x/subscribe" }, "DISTRIBUTOR_WS_URL scheme"},
		{"margin above interval", func(c *Config) { c.Sync.SafetyMargin = 10 }, "SYNC_SAFETY_MARGIN"},
		{"zero page size", func(c *Config) { c.Sync.PageSize = 0 }, "SYNC_PAGE_SIZE"},
		{"zero cache", func(c *Config) { c.Cache.MaxEntries = 0 }, "CACHE_MAX_ENTRIES"},
		{"empty db path", func(c *Config) { c.Database.Path = " " }, "DUCKDB_PATH"},
		{"audit log without dir", func(c *Config) {
			c.AuditLog.Enabled = true
			c.AuditLog.Dir = ""
		}, "AUDIT_LOG_DIR"},
		{"mq without subject", func(c *Config) {
			c.CollectorMode = ModeMQ
			c.NATS.Subject = ""
		}, "NATS_SUBJECT"},
		{"mq bad url", func(c *Config) {
			c.CollectorMode = ModeMQ
			c.NATS.URL = "http://x"
		}, "NATS_URL scheme"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "HTTP_PORT"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "LOG_LEVEL"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFileLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
distributor:
  url: http://10.0.0.5:6100
  public_key: ` + testPublicKey + `
sync:
  interval: 20
  safety_margin: 8
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatal(err)
	}

	// Environment wins over the file.
	t.Setenv("SYNC_SAFETY_MARGIN", "6")
	t.Setenv("DISTRIBUTOR_TIMEOUT", "5s")
	t.Setenv("UNRELATED_SETTING", "ignored")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Distributor.URL != "http://10.0.0.5:6100" {
		t.Errorf("URL = %q", cfg.Distributor.URL)
	}
	if cfg.Distributor.WSURL != "ws://10.0.0.5:6100/subscribe" {
		t.Errorf("WSURL = %q", cfg.Distributor.WSURL)
	}
	if cfg.Sync.Interval != 20 {
		t.Errorf("Interval = %d, want 20 from file", cfg.Sync.Interval)
	}
	if cfg.Sync.SafetyMargin != 6 {
		t.Errorf("SafetyMargin = %d, want 6 from env", cfg.Sync.SafetyMargin)
	}
	if cfg.Distributor.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s from env", cfg.Distributor.Timeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	// Untouched defaults survive.
	if cfg.Sync.BucketSize != 1000 {
		t.Errorf("BucketSize = %d, want default 1000", cfg.Sync.BucketSize)
	}
}

func TestLoadFileMissingKeyFails(t *testing.T) {
	t.Setenv("DISTRIBUTOR_PUBLIC_KEY", "")
	if _, err := LoadFile(""); err == nil {
		t.Fatal("expected validation error without a public key")
	}
}

func TestLoadFileEnvOnly(t *testing.T) {
	t.Setenv("DISTRIBUTOR_PUBLIC_KEY", strings.ToUpper(testPublicKey))
	t.Setenv("COLLECTOR_MODE", "MQ")
	t.Setenv("PATCH_DATA", "true")
	t.Setenv("HTTP_PORT", "8080")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Distributor.PublicKey != testPublicKey {
		t.Errorf("PublicKey not normalized: %q", cfg.Distributor.PublicKey)
	}
	if cfg.CollectorMode != ModeMQ {
		t.Errorf("CollectorMode = %q", cfg.CollectorMode)
	}
	if !cfg.Sync.PatchData {
		t.Error("PatchData should be true")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	if got := envTransformFunc("DUCKDB_PATH"); got != "database.path" {
		t.Errorf("DUCKDB_PATH -> %q", got)
	}
	if got := envTransformFunc("HOME"); got != "" {
		t.Errorf("HOME should be skipped, got %q", got)
	}
}
