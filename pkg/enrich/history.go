package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kubeminder/kubeminder/pkg/models"
)

// ChromaIndex speaks to a Chroma-compatible vector store over REST and
// implements HistoryIndex. Documents are stored raw; the server owns the
// embedding function, so reads and writes stay plain text on this side.
type ChromaIndex struct {
	baseURL        string
	collection     string
	embeddingModel string
	httpClient     *http.Client

	// collectionID caches the server-side id after the first resolution.
	mu           sync.Mutex
	collectionID string
}

// NewChromaIndex creates an index client for the named collection. The
// collection is created on first use if it does not exist; embeddingModel,
// when set, is stamped on the collection metadata so reindexing under a
// different model is detectable server-side.
func NewChromaIndex(baseURL, collection, embeddingModel string) *ChromaIndex {
	return &ChromaIndex{
		baseURL:        strings.TrimRight(baseURL, "/"),
		collection:     collection,
		embeddingModel: embeddingModel,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
	}
}

// SearchText flattens an incident into the free text used for similarity
// lookup: title, hypothesis, symptoms, a service tag, and the first ten log
// messages.
func SearchText(inc *models.Incident) string {
	parts := make([]string, 0, 13+len(inc.Symptoms))
	if inc.Title != "" {
		parts = append(parts, inc.Title)
	}
	if inc.Hypothesis != "" {
		parts = append(parts, inc.Hypothesis)
	}
	parts = append(parts, inc.Symptoms...)
	if inc.AffectedService != "" {
		parts = append(parts, "service: "+inc.AffectedService)
	}
	logs := inc.Logs
	if len(logs) > 10 {
		logs = logs[:10]
	}
	for _, entry := range logs {
		if entry.Message != "" {
			parts = append(parts, entry.Message)
		}
	}
	return strings.Join(parts, " ")
}

// Query runs a KNN lookup and converts cosine distances to similarities
// (similarity = 1 - distance). Results come back best match first; callers
// apply their own retention floor.
func (c *ChromaIndex) Query(ctx context.Context, text string, limit int) ([]models.SimilarIncident, error) {
	id, err := c.ensureCollection(ctx)
	if err != nil {
		return nil, err
	}

	reqBody := map[string]any{
		"query_texts": []string{text},
		"n_results":   limit,
		"include":     []string{"metadatas", "distances", "documents"},
	}

	var payload struct {
		IDs       [][]string         `json:"ids"`
		Distances [][]float64        `json:"distances"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
	}
	if err := c.post(ctx, "/api/v1/collections/"+id+"/query", reqBody, &payload); err != nil {
		return nil, err
	}
	if len(payload.IDs) == 0 {
		return nil, nil
	}

	var matches []models.SimilarIncident
	for i, hitID := range payload.IDs[0] {
		match := models.SimilarIncident{IncidentID: hitID}
		if len(payload.Distances) > 0 && i < len(payload.Distances[0]) {
			match.Similarity = 1 - payload.Distances[0][i]
		}
		if len(payload.Documents) > 0 && i < len(payload.Documents[0]) {
			match.Summary = payload.Documents[0][i]
		}
		if len(payload.Metadatas) > 0 && i < len(payload.Metadatas[0]) {
			meta := payload.Metadatas[0][i]
			match.Title = metaString(meta, "title")
			match.Resolution = metaString(meta, "resolution")
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// Upsert stores or replaces the document under the incident id.
func (c *ChromaIndex) Upsert(ctx context.Context, id, document string, metadata map[string]string) error {
	collID, err := c.ensureCollection(ctx)
	if err != nil {
		return err
	}

	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	reqBody := map[string]any{
		"ids":       []string{id},
		"documents": []string{document},
		"metadatas": []map[string]any{meta},
	}
	return c.post(ctx, "/api/v1/collections/"+collID+"/upsert", reqBody, nil)
}

// ensureCollection resolves the collection id, creating the collection on
// first use.
func (c *ChromaIndex) ensureCollection(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collectionID != "" {
		return c.collectionID, nil
	}

	reqBody := map[string]any{
		"name":          c.collection,
		"get_or_create": true,
	}
	if c.embeddingModel != "" {
		reqBody["metadata"] = map[string]any{"embedding_model": c.embeddingModel}
	}
	var payload struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/api/v1/collections", reqBody, &payload); err != nil {
		return "", fmt.Errorf("ensure collection %q: %w", c.collection, err)
	}
	if payload.ID == "" {
		return "", fmt.Errorf("ensure collection %q: empty id in response", c.collection)
	}
	c.collectionID = payload.ID
	return c.collectionID, nil
}

func (c *ChromaIndex) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call history index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("history index returned HTTP %d for %s", resp.StatusCode, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}
