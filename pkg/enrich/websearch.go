package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/kubeminder/kubeminder/pkg/models"
)

// maxSearchQueries bounds how many derived queries one incident may spend.
const maxSearchQueries = 5

// searchIncludeDomains restricts results to documentation and Q&A sites.
var searchIncludeDomains = []string{
	"stackoverflow.com",
	"github.com",
	"kubernetes.io",
	"docs.aws.amazon.com",
}

// SearchClient queries a Tavily-compatible search API for public knowledge
// about an incident.
type SearchClient struct {
	endpoint   string
	apiKey     string
	maxResults int
	httpClient *http.Client
}

// NewSearchClient creates a search client. maxResults is the per-query
// result count; Search returns at most twice that after merging.
func NewSearchClient(endpoint, apiKey string, maxResults int) *SearchClient {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &SearchClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Search runs each query, tolerating per-query failures, then deduplicates
// by URL, sorts by score and returns the top 2×maxResults.
func (c *SearchClient) Search(ctx context.Context, queries []string) ([]models.WebResult, error) {
	var all []models.WebResult
	var lastErr error
	for _, query := range queries {
		results, err := c.searchOne(ctx, query)
		if err != nil {
			slog.Warn("Web search query failed", "query", query, "error", err)
			lastErr = err
			continue
		}
		all = append(all, results...)
	}
	if len(all) == 0 && lastErr != nil {
		return nil, lastErr
	}

	seen := make(map[string]bool, len(all))
	unique := all[:0]
	for _, result := range all {
		if result.URL == "" || seen[result.URL] {
			continue
		}
		seen[result.URL] = true
		unique = append(unique, result)
	}
	sort.SliceStable(unique, func(i, j int) bool { return unique[i].Score > unique[j].Score })

	if limit := 2 * c.maxResults; len(unique) > limit {
		unique = unique[:limit]
	}
	return unique, nil
}

func (c *SearchClient) searchOne(ctx context.Context, query string) ([]models.WebResult, error) {
	reqBody := map[string]any{
		"api_key":         c.apiKey,
		"query":           query,
		"search_depth":    "basic",
		"max_results":     c.maxResults,
		"include_domains": searchIncludeDomains,
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]models.WebResult, 0, len(payload.Results))
	for _, r := range payload.Results {
		results = append(results, models.WebResult{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
			Score:   r.Score,
		})
	}
	return results, nil
}

// BuildQueries derives up to five search queries from the incident: title,
// service, leading symptoms, tokenized error-log messages, and hypothesis,
// each anchored to the cluster platform.
func BuildQueries(inc *models.Incident) []string {
	var queries []string
	if inc.Title != "" {
		queries = append(queries, inc.Title+" kubernetes solution")
	}
	if inc.AffectedService != "" {
		queries = append(queries, inc.AffectedService+" error troubleshooting kubernetes")
	}

	symptoms := inc.Symptoms
	if len(symptoms) > 3 {
		symptoms = symptoms[:3]
	}
	for _, symptom := range symptoms {
		queries = append(queries, symptom+" kubernetes fix")
	}

	queries = append(queries, errorLogQueries(inc.Logs)...)

	if inc.Hypothesis != "" {
		queries = append(queries, inc.Hypothesis+" kubernetes resolution")
	}

	if len(queries) > maxSearchQueries {
		queries = queries[:maxSearchQueries]
	}
	return queries
}

// errorLogQueries extracts up to two queries from error-looking log lines:
// of the first ten words, keep alphabetic tokens longer than three
// characters and join the first five.
func errorLogQueries(logs []models.LogEntry) []string {
	if len(logs) > 5 {
		logs = logs[:5]
	}

	var queries []string
	for _, entry := range logs {
		lower := strings.ToLower(entry.Message)
		if !strings.Contains(lower, "error") && !strings.Contains(lower, "exception") &&
			!strings.Contains(lower, "panic") && !strings.Contains(lower, "fatal") {
			continue
		}

		words := strings.Fields(entry.Message)
		if len(words) > 10 {
			words = words[:10]
		}
		var terms []string
		for _, word := range words {
			if len(word) > 3 && isAlphabetic(word) {
				terms = append(terms, word)
			}
		}
		if len(terms) == 0 {
			continue
		}
		if len(terms) > 5 {
			terms = terms[:5]
		}
		queries = append(queries, strings.Join(terms, " ")+" kubernetes")
		if len(queries) == 2 {
			break
		}
	}
	return queries
}

func isAlphabetic(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
