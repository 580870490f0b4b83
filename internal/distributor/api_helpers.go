// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package distributor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/tomtom215/cyclesync/internal/models"
	"github.com/tomtom215/cyclesync/internal/syncerr"
)

// maxErrorBody bounds how much of a failed response body ends up in an error.
const maxErrorBody = 512

// apiRequest holds the path and query of one distributor call.
type apiRequest struct {
	path   string
	params url.Values
}

func newAPIRequest(path string) *apiRequest {
	return &apiRequest{path: path, params: url.Values{}}
}

// addInt adds an integer parameter, zero included.
func (r *apiRequest) addInt(key string, value int64) *apiRequest {
	r.params.Set(key, strconv.FormatInt(value, 10))
	return r
}

func (r *apiRequest) addParam(key, value string) *apiRequest {
	if value != "" {
		r.params.Set(key, value)
	}
	return r
}

func (r *apiRequest) buildURL(baseURL string) string {
	if len(r.params) == 0 {
		return baseURL + r.path
	}
	return baseURL + r.path + "?" + r.params.Encode()
}

// executeRequest performs one GET and returns the body of a 200 response.
func executeRequest(ctx context.Context, client *http.Client, op, reqURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, syncerr.Transport(op, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, resp.StatusCode, syncerr.Transport(op, resp.StatusCode,
			fmt.Errorf("unexpected status: %s", string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, syncerr.Transport(op, 0, fmt.Errorf("read body: %w", err))
	}
	return body, resp.StatusCode, nil
}

// decodeField decodes body as an object and unmarshals one field into out.
// A missing field is a non-retryable transport error: the distributor answered
// but not with what was asked for.
func decodeField(op string, body []byte, field string, out any) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return syncerr.Transport(op, http.StatusOK, fmt.Errorf("decode response: %w", err))
	}
	raw, ok := doc[field]
	if !ok || string(raw) == "null" {
		return syncerr.Transport(op, http.StatusOK, fmt.Errorf("response has no %q field", field))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return syncerr.Transport(op, http.StatusOK, fmt.Errorf("decode %q: %w", field, err))
	}
	return nil
}

// endpointFor returns the distributor path for a kind.
func endpointFor(kind models.Kind) (string, error) {
	switch kind {
	case models.KindCycle:
		return "/cycleinfo", nil
	case models.KindReceipt:
		return "/receipt", nil
	case models.KindOriginalTx:
		return "/originalTx", nil
	case models.KindAccount:
		return "/account", nil
	case models.KindTransaction:
		return "/transaction", nil
	}
	return "", fmt.Errorf("no distributor endpoint for kind %q", kind)
}

// listField is the response field holding records of a kind.
func listField(kind models.Kind) string {
	switch kind {
	case models.KindCycle:
		return "cycleInfo"
	case models.KindReceipt:
		return "receipts"
	case models.KindOriginalTx:
		return "originalTxs"
	case models.KindAccount:
		return "accounts"
	case models.KindTransaction:
		return "transactions"
	}
	return ""
}

// countField is the field holding a count: per-cycle tallies and type=count
// answers reuse the list field, genesis totals use total<Kind>s.
func countField(kind models.Kind) string {
	switch kind {
	case models.KindAccount:
		return "totalAccounts"
	case models.KindTransaction:
		return "totalTransactions"
	}
	return listField(kind)
}

// tallyEntry is one element of a type=tally answer. Receipts report
// {cycle, receipts}; OriginalTx reports {cycle, originalTxsData}.
type tallyEntry struct {
	Cycle       int64  `json:"cycle"`
	Receipts    *int64 `json:"receipts"`
	OriginalTxs *int64 `json:"originalTxsData"`
}

func (e tallyEntry) count() int64 {
	switch {
	case e.Receipts != nil:
		return *e.Receipts
	case e.OriginalTxs != nil:
		return *e.OriginalTxs
	}
	return 0
}
