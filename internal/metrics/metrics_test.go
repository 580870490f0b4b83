// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func histogramCount(t *testing.T, h prometheus.Observer) uint64 {
	t.Helper()
	m, ok := h.(prometheus.Metric)
	if !ok {
		t.Fatal("observer is not a metric")
	}
	var out io_prometheus_client.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return out.GetHistogram().GetSampleCount()
}

func TestRecordDBQuery(t *testing.T) {
	before := testutil.ToFloat64(DBQueryErrors.WithLabelValues("upsert", "receipts"))
	countBefore := histogramCount(t, DBQueryDuration.WithLabelValues("upsert", "receipts"))

	RecordDBQuery("upsert", "receipts", 5*time.Millisecond, nil)
	RecordDBQuery("upsert", "receipts", 5*time.Millisecond, errors.New("conflict"))

	if got := testutil.ToFloat64(DBQueryErrors.WithLabelValues("upsert", "receipts")); got != before+1 {
		t.Errorf("errors = %v, want %v", got, before+1)
	}
	if got := histogramCount(t, DBQueryDuration.WithLabelValues("upsert", "receipts")); got != countBefore+2 {
		t.Errorf("observations = %d, want %d", got, countBefore+2)
	}
}

func TestRecordDistributorRequest(t *testing.T) {
	tests := []struct {
		status int
		label  string
	}{
		{200, "200"},
		{503, "503"},
		{0, "error"},
	}
	for _, tt := range tests {
		c := DistributorRequests.WithLabelValues("/totalData", tt.label)
		before := testutil.ToFloat64(c)
		RecordDistributorRequest("/totalData", tt.status, time.Millisecond)
		if got := testutil.ToFloat64(c); got != before+1 {
			t.Errorf("status %d: counter = %v, want %v", tt.status, got, before+1)
		}
	}
}

func TestRecordSyncRound(t *testing.T) {
	ok := SyncRounds.WithLabelValues("success")
	failed := SyncRounds.WithLabelValues("failed")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	RecordSyncRound(time.Second, nil)
	RecordSyncRound(time.Second, errors.New("transport"))

	if testutil.ToFloat64(ok) != okBefore+1 {
		t.Error("success counter not incremented")
	}
	if testutil.ToFloat64(failed) != failedBefore+1 {
		t.Error("failed counter not incremented")
	}
}

func TestRecordAPIRequest(t *testing.T) {
	c := APIRequestsTotal.WithLabelValues("GET", "/health", "200")
	before := testutil.ToFloat64(c)
	RecordAPIRequest("GET", "/health", 200, time.Millisecond)
	if testutil.ToFloat64(c) != before+1 {
		t.Error("api counter not incremented")
	}
}

func TestBreakerStateValue(t *testing.T) {
	tests := map[string]float64{"closed": 0, "half-open": 1, "open": 2, "unknown": 0}
	for state, want := range tests {
		if got := BreakerStateValue(state); got != want {
			t.Errorf("BreakerStateValue(%q) = %v, want %v", state, got, want)
		}
	}
}

func TestGaugesSettable(t *testing.T) {
	SyncLastCycle.Set(105)
	if testutil.ToFloat64(SyncLastCycle) != 105 {
		t.Error("SyncLastCycle not set")
	}
	DedupCacheSize.WithLabelValues("receipt").Set(3)
	if testutil.ToFloat64(DedupCacheSize.WithLabelValues("receipt")) != 3 {
		t.Error("DedupCacheSize not set")
	}
}
