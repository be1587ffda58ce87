package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeminder/kubeminder/pkg/models"
)

func TestLokiMergesRecentAndErrorStreams(t *testing.T) {
	var limits []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		limits = append(limits, r.URL.Query().Get("limit"))

		values := [][2]string{
			{"1700000000000000001", "line A"},
			{"1700000000000000002", "line B"},
		}
		if strings.Contains(query, "|=") {
			values = [][2]string{
				{"1700000000000000002", "line B"},
				{"1700000000000000003", "panic in handler"},
			}
		}
		writeJSON(t, w, map[string]any{
			"data": map[string]any{
				"result": []map[string]any{{"stream": map[string]string{}, "values": values}},
			},
		})
	}))
	defer server.Close()

	client := NewLokiClient(server.URL, time.Hour)
	entries, err := client.RecentLogs(context.Background(), "checkout")
	require.NoError(t, err)

	// Shared line deduplicated, error-only line keeps its level.
	require.Len(t, entries, 3)
	assert.Equal(t, "line A", entries[0].Message)
	assert.Equal(t, "", entries[0].Level)
	assert.Equal(t, "loki", entries[0].Source)
	assert.Equal(t, "line B", entries[1].Message)
	assert.Equal(t, "", entries[1].Level)
	assert.Equal(t, "panic in handler", entries[2].Message)
	assert.Equal(t, "error", entries[2].Level)

	assert.Equal(t, []string{"1000", "500"}, limits)
}

func TestLokiErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewLokiClient(server.URL, time.Hour)
	_, err := client.RecentLogs(context.Background(), "checkout")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestChromaQueryConvertsDistances(t *testing.T) {
	var collectionCalls int
	var collectionBody map[string]any
	var queryBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/collections":
			collectionCalls++
			require.NoError(t, json.NewDecoder(r.Body).Decode(&collectionBody))
			writeJSON(t, w, map[string]any{"id": "coll-1"})
		case "/api/v1/collections/coll-1/query":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&queryBody))
			writeJSON(t, w, map[string]any{
				"ids":       [][]string{{"INC-9"}},
				"distances": [][]float64{{0.25}},
				"documents": [][]string{{"checkout OOM post-mortem"}},
				"metadatas": [][]map[string]any{{{"title": "Past OOM", "resolution": "restarted checkout"}}},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	index := NewChromaIndex(server.URL, "incidents", "all-MiniLM-L6-v2")
	matches, err := index.Query(context.Background(), "checkout OOMKilled", 5)
	require.NoError(t, err)

	require.Len(t, matches, 1)
	assert.Equal(t, "INC-9", matches[0].IncidentID)
	assert.InDelta(t, 0.75, matches[0].Similarity, 1e-9)
	assert.Equal(t, "checkout OOM post-mortem", matches[0].Summary)
	assert.Equal(t, "Past OOM", matches[0].Title)
	assert.Equal(t, "restarted checkout", matches[0].Resolution)

	assert.Equal(t, "incidents", collectionBody["name"])
	assert.Equal(t, map[string]any{"embedding_model": "all-MiniLM-L6-v2"}, collectionBody["metadata"])
	assert.Equal(t, []any{"checkout OOMKilled"}, queryBody["query_texts"])
	assert.Equal(t, float64(5), queryBody["n_results"])

	// Second query reuses the resolved collection id.
	_, err = index.Query(context.Background(), "another incident", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, collectionCalls)
}

func TestChromaUpsert(t *testing.T) {
	var upsertBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/collections":
			writeJSON(t, w, map[string]any{"id": "coll-1"})
		case "/api/v1/collections/coll-1/upsert":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&upsertBody))
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	index := NewChromaIndex(server.URL, "incidents", "")
	err := index.Upsert(context.Background(), "INC-1", "summary text", map[string]string{"service": "hello"})
	require.NoError(t, err)

	assert.Equal(t, []any{"INC-1"}, upsertBody["ids"])
	assert.Equal(t, []any{"summary text"}, upsertBody["documents"])
}

func TestSearchTextFlattensIncident(t *testing.T) {
	inc := &models.Incident{
		ID:              "INC-1",
		Title:           "checkout down",
		Hypothesis:      "OOM loop",
		Symptoms:        []string{"pod restarts"},
		AffectedService: "checkout",
		Logs: []models.LogEntry{
			{Message: "first"},
			{Message: ""},
			{Message: "second"},
		},
	}

	text := SearchText(inc)
	assert.Equal(t, "checkout down OOM loop pod restarts service: checkout first second", text)
}

func TestCodeHistoryMergesServiceAndDeploymentCommits(t *testing.T) {
	now := time.Now()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		since, err := time.Parse(time.RFC3339, r.URL.Query().Get("since"))
		require.NoError(t, err)

		if now.Sub(since) < 48*time.Hour {
			writeJSON(t, w, []map[string]any{
				commitItem("aaa1", "checkout: fix cart race", "alice", now.Add(-time.Hour)),
				commitItem("bbb2", "unrelated docs change", "bob", now.Add(-2*time.Hour)),
			})
			return
		}
		writeJSON(t, w, []map[string]any{
			commitItem("ccc3", "deploy checkout v2 helm chart", "carol", now.Add(-72*time.Hour)),
			commitItem("ddd4", "release notes for payments", "dave", now.Add(-96*time.Hour)),
		})
	}))
	defer server.Close()

	history := NewCodeHistory("acme/platform", "tok", 24*time.Hour)
	history.httpClient = &http.Client{Transport: &redirectTransport{target: server.URL}}

	commits, err := history.RecentCommits(context.Background(), "checkout")
	require.NoError(t, err)

	// Service-relevant recent commit plus the deployment commit mentioning
	// the service, newest first. The unrelated and wrong-service entries are
	// filtered out.
	require.Len(t, commits, 2)
	assert.Equal(t, "aaa1", commits[0].SHA)
	assert.Equal(t, "alice", commits[0].Author)
	assert.Equal(t, "ccc3", commits[1].SHA)
	assert.Equal(t, "deploy checkout v2 helm chart", commits[1].Message)
}

func TestSearchDeduplicatesAndRanks(t *testing.T) {
	var bodies []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)

		if body["query"] == "q1" {
			writeJSON(t, w, map[string]any{"results": []map[string]any{
				{"title": "T1", "url": "https://kubernetes.io/a", "score": 0.9},
				{"title": "T2", "url": "https://github.com/b", "score": 0.5},
			}})
			return
		}
		writeJSON(t, w, map[string]any{"results": []map[string]any{
			{"title": "T3", "url": "https://github.com/b", "score": 0.7},
			{"title": "T4", "url": "https://stackoverflow.com/c", "score": 0.8},
		}})
	}))
	defer server.Close()

	client := NewSearchClient(server.URL, "key", 1)
	results, err := client.Search(context.Background(), []string{"q1", "q2"})
	require.NoError(t, err)

	// Duplicate URL dropped, score-sorted, capped at 2×maxResults.
	require.Len(t, results, 2)
	assert.Equal(t, "T1", results[0].Title)
	assert.Equal(t, "T4", results[1].Title)

	require.Len(t, bodies, 2)
	assert.Equal(t, "key", bodies[0]["api_key"])
	assert.Contains(t, bodies[0]["include_domains"], "kubernetes.io")
}

func TestSearchToleratesPartialFailures(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(t, w, map[string]any{"results": []map[string]any{
			{"title": "T1", "url": "https://kubernetes.io/a", "score": 0.9},
		}})
	}))
	defer server.Close()

	client := NewSearchClient(server.URL, "key", 5)
	results, err := client.Search(context.Background(), []string{"q1", "q2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "T1", results[0].Title)
}

func TestSearchAllQueriesFailing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewSearchClient(server.URL, "key", 5)
	_, err := client.Search(context.Background(), []string{"q1", "q2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestBuildQueries(t *testing.T) {
	inc := &models.Incident{
		Title:           "checkout pods OOMKilled",
		AffectedService: "checkout",
		Symptoms:        []string{"pod restarts"},
		Logs: []models.LogEntry{
			{Message: "Error connecting to upstream database pool exhausted"},
		},
		Hypothesis: "memory limit too low",
	}

	queries := BuildQueries(inc)
	assert.Equal(t, []string{
		"checkout pods OOMKilled kubernetes solution",
		"checkout error troubleshooting kubernetes",
		"pod restarts kubernetes fix",
		"Error connecting upstream database pool kubernetes",
		"memory limit too low kubernetes resolution",
	}, queries)
}

func TestBuildQueriesCapsAtFive(t *testing.T) {
	inc := &models.Incident{
		Title:           "checkout pods OOMKilled",
		AffectedService: "checkout",
		Symptoms:        []string{"pod restarts", "latency spikes", "5xx responses", "queue backlog"},
		Hypothesis:      "memory limit too low",
	}

	queries := BuildQueries(inc)
	require.Len(t, queries, 5)
	// Only the first three symptoms are spent; the hypothesis falls off the
	// end of the budget.
	assert.Equal(t, "5xx responses kubernetes fix", queries[4])
}

func TestErrorLogQueries(t *testing.T) {
	logs := []models.LogEntry{
		{Message: "all good"},
		{Message: "panic: nil pointer dereference in handler v2"},
		{Message: "Error connecting to upstream database pool exhausted"},
		{Message: "fatal disk pressure on node seven detected"},
	}

	queries := errorLogQueries(logs)
	// Two queries max, non-error lines and short or non-alphabetic tokens
	// skipped.
	assert.Equal(t, []string{
		"pointer dereference handler kubernetes",
		"Error connecting upstream database pool kubernetes",
	}, queries)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func commitItem(sha, message, author string, date time.Time) map[string]any {
	return map[string]any{
		"sha": sha,
		"commit": map[string]any{
			"message": message,
			"author":  map[string]any{"name": author, "date": date.Format(time.RFC3339)},
		},
	}
}

// redirectTransport sends every request to the test server regardless of the
// host the client built into the URL.
type redirectTransport struct {
	target string
}

func (t *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	parsed, err := url.Parse(t.target)
	if err != nil {
		return nil, err
	}
	req.URL.Scheme = parsed.Scheme
	req.URL.Host = parsed.Host
	return http.DefaultTransport.RoundTrip(req)
}
