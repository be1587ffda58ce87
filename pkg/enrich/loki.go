package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kubeminder/kubeminder/pkg/models"
)

const (
	lokiRecentLimit = 1000
	lokiErrorLimit  = 500

	// lokiMergedCap bounds the merged stream so a noisy service cannot blow
	// up downstream prompt construction.
	lokiMergedCap = 1500
)

// LokiClient fetches recent service logs from a Loki instance.
type LokiClient struct {
	baseURL    string
	window     time.Duration
	httpClient *http.Client
}

// NewLokiClient creates a client against the given Loki base URL. window is
// how far back queries reach.
func NewLokiClient(baseURL string, window time.Duration) *LokiClient {
	return &LokiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		window:     window,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// RecentLogs combines the service's full recent stream with a focused error
// stream, deduplicated by (timestamp, message). Lines seen only through the
// error query carry level "error"; duplicates keep the plain entry.
func (c *LokiClient) RecentLogs(ctx context.Context, service string) ([]models.LogEntry, error) {
	recent, err := c.queryRange(ctx, fmt.Sprintf(`{service=%q}`, service), lokiRecentLimit, "")
	if err != nil {
		return nil, err
	}

	errQuery := fmt.Sprintf(`{service=%q} |= "error" |= "exception" |= "panic"`, service)
	errored, err := c.queryRange(ctx, errQuery, lokiErrorLimit, "error")
	if err != nil {
		return nil, err
	}

	type logKey struct{ ts, msg string }
	seen := make(map[logKey]bool, len(recent)+len(errored))
	merged := make([]models.LogEntry, 0, len(recent)+len(errored))
	for _, entry := range append(recent, errored...) {
		k := logKey{entry.Timestamp, entry.Message}
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, entry)
		if len(merged) == lokiMergedCap {
			break
		}
	}
	return merged, nil
}

// lokiQueryResponse mirrors the slice of the query_range payload we read.
// Values arrive as [nanosecond-epoch string, line] pairs per stream.
type lokiQueryResponse struct {
	Data struct {
		Result []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

func (c *LokiClient) queryRange(ctx context.Context, query string, limit int, level string) ([]models.LogEntry, error) {
	end := time.Now()
	start := end.Add(-c.window)

	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(start.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(end.UnixNano(), 10))
	params.Set("limit", strconv.Itoa(limit))

	reqURL := c.baseURL + "/loki/api/v1/query_range?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query loki: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loki returned HTTP %d", resp.StatusCode)
	}

	var payload lokiQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode loki response: %w", err)
	}

	var entries []models.LogEntry
	for _, stream := range payload.Data.Result {
		for _, value := range stream.Values {
			entries = append(entries, models.LogEntry{
				Timestamp: value[0],
				Level:     level,
				Message:   value[1],
				Source:    "loki",
			})
		}
	}
	return entries, nil
}
