package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kubeminder/kubeminder/pkg/models"
)

const (
	// recentCommitCap bounds plain recent commits before the merge.
	recentCommitCap = 10
	// mergedCommitCap bounds the merged recent + deployment list.
	mergedCommitCap = 15
)

// deploymentKeywords flag commits that changed how the service is shipped
// rather than what it does.
var deploymentKeywords = []string{"deploy", "release", "version", "config", "helm", "k8s", "kubernetes"}

// CodeHistory lists recent commits from a GitHub repository that look
// relevant to a service: changes inside the commit window whose message
// mentions the service, merged with deployment-flavored commits over a
// window seven times longer.
type CodeHistory struct {
	repo       string // "owner/name"
	token      string
	window     time.Duration
	httpClient *http.Client
}

// NewCodeHistory creates a commit source for the repository. token may be
// empty (public repos only, lower rate limits).
func NewCodeHistory(repo, token string, window time.Duration) *CodeHistory {
	return &CodeHistory{
		repo:       repo,
		token:      token,
		window:     window,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RecentCommits returns service-relevant commits merged with deployment
// commits, newest first, capped.
func (c *CodeHistory) RecentCommits(ctx context.Context, service string) ([]models.GitCommit, error) {
	now := time.Now()

	recent, err := c.listCommits(ctx, now.Add(-c.window))
	if err != nil {
		return nil, err
	}
	var relevant []models.GitCommit
	for _, commit := range recent {
		if !relatedToService(commit, service) {
			continue
		}
		relevant = append(relevant, commit)
		if len(relevant) == recentCommitCap {
			break
		}
	}

	deployWindow := 7 * c.window
	older, err := c.listCommits(ctx, now.Add(-deployWindow))
	if err != nil {
		return nil, err
	}
	var deployment []models.GitCommit
	for _, commit := range older {
		if isDeploymentCommit(commit) && relatedToService(commit, service) {
			deployment = append(deployment, commit)
		}
	}

	merged := append(relevant, deployment...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	if len(merged) > mergedCommitCap {
		merged = merged[:mergedCommitCap]
	}
	return merged, nil
}

// githubCommitItem mirrors the slice of the commits list payload we read.
type githubCommitItem struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

func (c *CodeHistory) listCommits(ctx context.Context, since time.Time) ([]models.GitCommit, error) {
	apiURL := fmt.Sprintf("https://api.github.com/repos/%s/commits?since=%s&per_page=100",
		c.repo, since.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list commits for %s: %w", c.repo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned HTTP %d for %s", resp.StatusCode, c.repo)
	}

	var items []githubCommitItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode commits response: %w", err)
	}

	commits := make([]models.GitCommit, 0, len(items))
	for _, item := range items {
		commits = append(commits, models.GitCommit{
			SHA:       item.SHA,
			Message:   item.Commit.Message,
			Author:    item.Commit.Author.Name,
			Timestamp: item.Commit.Author.Date,
		})
	}
	return commits, nil
}

func relatedToService(commit models.GitCommit, service string) bool {
	return strings.Contains(strings.ToLower(commit.Message), strings.ToLower(service))
}

func isDeploymentCommit(commit models.GitCommit) bool {
	message := strings.ToLower(commit.Message)
	for _, keyword := range deploymentKeywords {
		if strings.Contains(message, keyword) {
			return true
		}
	}
	return false
}
