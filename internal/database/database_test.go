// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package database

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cyclesync/internal/config"
	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

// testDBSemaphore serializes DuckDB tests; concurrent CGO connections from
// parallel tests can hang under CI load.
var testDBSemaphore = make(chan struct{}, 1)

// setupTestDB creates an in-memory database held for the whole test.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	db, err := New(&config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "512MB",
		Threads:   1,
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testCycle(marker string, counter int64, extra string) *models.Cycle {
	payload := `{"marker":"` + marker + `","counter":` + itoa(counter) + `,"start":1700000000` + extra + `}`
	return &models.Cycle{CycleMarker: marker, Counter: counter, CycleRecord: json.RawMessage(payload)}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func testReceipt(id string, cycle, ts int64) *models.Receipt {
	return &models.Receipt{
		ReceiptID: id,
		Tx: models.TxRef{
			TxID:      id,
			Timestamp: ts,
			Raw:       json.RawMessage(`{"txId":"` + id + `","timestamp":` + itoa(ts) + `}`),
		},
		Cycle:          cycle,
		ApplyTimestamp: ts,
		Timestamp:      ts,
		SignedReceipt:  json.RawMessage(`{"proposal":{"accountIDs":["acc1"]}}`),
		AfterStates: []models.AccountCopy{
			{AccountID: "acc1", Data: json.RawMessage(`{"balance":1}`), Timestamp: ts, Hash: "h1"},
		},
		AppReceiptData:    json.RawMessage(`{"appReceiptId":"app-` + id + `"}`),
		ExecutionShardKey: "shard-1",
	}
}

func TestNew_CreatesSchema(t *testing.T) {
	db := setupTestDB(t)

	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	totals, err := db.Totals(context.Background())
	if err != nil {
		t.Fatalf("Totals() error = %v", err)
	}
	if !totals.IsEmpty() {
		t.Errorf("new database totals = %+v, want empty", totals)
	}
}

func TestCycles_UpsertAndLookup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	cycles := []*models.Cycle{testCycle("m0", 0, ""), testCycle("m1", 1, ""), testCycle("m2", 2, "")}
	if err := db.UpsertCycleBatch(ctx, cycles); err != nil {
		t.Fatalf("UpsertCycleBatch() error = %v", err)
	}

	got, err := db.GetCycleByMarker(ctx, "m1")
	if err != nil {
		t.Fatalf("GetCycleByMarker() error = %v", err)
	}
	if got.Counter != 1 || string(got.CycleRecord) != string(cycles[1].CycleRecord) {
		t.Errorf("GetCycleByMarker() = %+v", got)
	}

	byCounter, err := db.GetCycleByCounter(ctx, 2)
	if err != nil || byCounter.CycleMarker != "m2" {
		t.Errorf("GetCycleByCounter(2) = %+v, %v", byCounter, err)
	}

	latest, err := db.LatestCycle(ctx)
	if err != nil || latest.Counter != 2 {
		t.Errorf("LatestCycle() = %+v, %v", latest, err)
	}

	between, err := db.CyclesBetween(ctx, 1, 2)
	if err != nil {
		t.Fatalf("CyclesBetween() error = %v", err)
	}
	if len(between) != 2 || between[0].Counter != 1 || between[1].Counter != 2 {
		t.Errorf("CyclesBetween(1,2) = %+v", between)
	}

	// Same marker, new content.
	updated := testCycle("m1", 1, `,"extra":true`)
	if err := db.UpsertCycle(ctx, updated); err != nil {
		t.Fatalf("UpsertCycle() error = %v", err)
	}
	got, _ = db.GetCycleByMarker(ctx, "m1")
	if string(got.CycleRecord) != string(updated.CycleRecord) {
		t.Errorf("cycle record = %s, want %s", got.CycleRecord, updated.CycleRecord)
	}
	if n, _ := db.TotalCount(ctx, models.KindCycle); n != 3 {
		t.Errorf("TotalCount(cycle) = %d, want 3", n)
	}
}

func TestCycles_CorrectedCounterReplacesStored(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.UpsertCycleBatch(ctx, []*models.Cycle{testCycle("m0", 0, ""), testCycle("m1", 5, "")}); err != nil {
		t.Fatalf("UpsertCycleBatch() error = %v", err)
	}
	corrected := testCycle("m1", 6, "")
	if err := db.UpsertCycle(ctx, corrected); err != nil {
		t.Fatalf("UpsertCycle(corrected) error = %v", err)
	}

	got, err := db.GetCycleByMarker(ctx, "m1")
	if err != nil || got.Counter != 6 || string(got.CycleRecord) != string(corrected.CycleRecord) {
		t.Errorf("GetCycleByMarker(m1) = %+v, %v", got, err)
	}
	if _, err := db.GetCycleByCounter(ctx, 5); !errors.Is(err, syncerr.ErrNotFound) {
		t.Errorf("GetCycleByCounter(5) error = %v, want ErrNotFound", err)
	}
	if latest, err := db.LatestCycle(ctx); err != nil || latest.CycleMarker != "m1" || latest.Counter != 6 {
		t.Errorf("LatestCycle() = %+v, %v", latest, err)
	}
}

func TestCycles_NotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.GetCycleByMarker(ctx, "missing"); !errors.Is(err, syncerr.ErrNotFound) {
		t.Errorf("GetCycleByMarker() error = %v, want ErrNotFound", err)
	}
	if _, err := db.LatestCycle(ctx); !errors.Is(err, syncerr.ErrNotFound) {
		t.Errorf("LatestCycle() error = %v, want ErrNotFound", err)
	}
	if _, err := db.LastCycleOf(ctx, models.KindReceipt); !errors.Is(err, syncerr.ErrNotFound) {
		t.Errorf("LastCycleOf() error = %v, want ErrNotFound", err)
	}
}

func TestCycles_InvalidRecordRollsBackBatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	batch := []*models.Cycle{testCycle("ok", 1, ""), {CycleMarker: "", Counter: 2}}
	err := db.UpsertCycleBatch(ctx, batch)
	if !syncerr.IsStorage(err) || !errors.Is(err, models.ErrInvalidRecord) {
		t.Fatalf("UpsertCycleBatch() error = %v, want StorageError wrapping ErrInvalidRecord", err)
	}
	if n, _ := db.TotalCount(ctx, models.KindCycle); n != 0 {
		t.Errorf("TotalCount(cycle) = %d, want 0 after rollback", n)
	}
}
