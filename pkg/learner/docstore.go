package learner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kubeminder/kubeminder/pkg/config"
	"github.com/kubeminder/kubeminder/pkg/version"
)

// notionVersion pins the doc store API revision the payloads target.
const notionVersion = "2022-06-28"

// DocStore publishes post-mortem pages to a Notion-compatible document
// API. Optional wiring: a nil *DocStore disables publishing entirely.
type DocStore struct {
	baseURL    string
	token      string
	database   string
	httpClient *http.Client
}

// NewDocStore builds the client, or returns nil when no URL is configured.
func NewDocStore(cfg *config.LearnerConfig) *DocStore {
	if cfg.DocStoreURL == "" {
		return nil
	}
	return &DocStore{
		baseURL:    strings.TrimRight(cfg.DocStoreURL, "/"),
		token:      cfg.DocStoreToken,
		database:   cfg.DocStoreDatabase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// CreatePostMortem writes the summary as a new page in the configured
// database.
func (d *DocStore) CreatePostMortem(ctx context.Context, rec *Record, summary string) error {
	title := "Post-mortem: " + rec.Resolution.IncidentID
	if rec.Incident != nil && rec.Incident.Title != "" {
		title = "Post-mortem: " + rec.Incident.Title
	}

	page := map[string]any{
		"parent": map[string]any{"database_id": d.database},
		"properties": map[string]any{
			"title": map[string]any{
				"title": []map[string]any{
					{"text": map[string]any{"content": title}},
				},
			},
		},
		"children": []map[string]any{
			{
				"object": "block",
				"type":   "paragraph",
				"paragraph": map[string]any{
					"rich_text": []map[string]any{
						{"type": "text", "text": map[string]any{"content": summary}},
					},
				},
			},
		},
	}

	raw, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("encode post-mortem: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/pages", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.token)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("User-Agent", version.Full())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call doc store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("doc store returned HTTP %d", resp.StatusCode)
	}
	return nil
}
