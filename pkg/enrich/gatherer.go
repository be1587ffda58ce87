package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/kubeminder/kubeminder/pkg/config"
	"github.com/kubeminder/kubeminder/pkg/models"
)

const (
	// historyQueryLimit is how many candidates the index is asked for.
	historyQueryLimit = 5

	// similarityFloor drops weak matches before they influence confidence.
	similarityFloor = 0.7
)

// Gatherer fans context gathering out across the configured sources. Any
// source may be nil (disabled); any source may fail, in which case the
// error lands in gathering_errors and the rest of the context survives. A
// completely empty context is a valid synthesis input.
type Gatherer struct {
	cfg     *config.EnrichConfig
	logs    LogSource
	history HistoryIndex
	commits CommitSource
	web     WebSearcher
}

// NewGatherer wires a gatherer from its sources. Pass nil for sources that
// are not configured.
func NewGatherer(cfg *config.EnrichConfig, logs LogSource, history HistoryIndex, commits CommitSource, web WebSearcher) *Gatherer {
	return &Gatherer{cfg: cfg, logs: logs, history: history, commits: commits, web: web}
}

// Enrich gathers everything the planner needs around one incident. Internal
// sources run in parallel; public search runs afterwards, gated on how well
// the history index covered the incident.
func (g *Gatherer) Enrich(ctx context.Context, inc *models.Incident) *models.EnrichedContext {
	start := time.Now()
	ec := &models.EnrichedContext{}

	var mu sync.Mutex
	fail := func(source string, err error) {
		slog.Warn("Context source failed", "source", source, "incident_id", inc.ID, "error", err)
		mu.Lock()
		defer mu.Unlock()
		if ec.GatheringErrors == nil {
			ec.GatheringErrors = make(map[string]string)
		}
		ec.GatheringErrors[source] = err.Error()
	}

	grp := new(errgroup.Group)
	grp.SetLimit(g.cfg.MaxParallel)

	if g.logs != nil {
		ec.SourcesUsed = append(ec.SourcesUsed, SourceLoki)
		grp.Go(func() error {
			err := g.withRetry(ctx, func() error {
				entries, err := g.logs.RecentLogs(ctx, inc.AffectedService)
				if err != nil {
					return err
				}
				ec.RecentLogs = entries
				return nil
			})
			if err != nil {
				fail(SourceLoki, err)
			}
			return nil
		})
	}

	if g.history != nil {
		ec.SourcesUsed = append(ec.SourcesUsed, SourceHistory)
		text := SearchText(inc)
		grp.Go(func() error {
			err := g.withRetry(ctx, func() error {
				matches, err := g.history.Query(ctx, text, historyQueryLimit)
				if err != nil {
					return err
				}
				ec.SimilarIncidents = retainSimilar(matches)
				return nil
			})
			if err != nil {
				fail(SourceHistory, err)
			}
			return nil
		})
	}

	if g.commits != nil {
		ec.SourcesUsed = append(ec.SourcesUsed, SourceGitHub)
		grp.Go(func() error {
			err := g.withRetry(ctx, func() error {
				commits, err := g.commits.RecentCommits(ctx, inc.AffectedService)
				if err != nil {
					return err
				}
				ec.RecentCommits = commits
				return nil
			})
			if err != nil {
				fail(SourceGitHub, err)
			}
			return nil
		})
	}

	// Goroutines never return errors; failures are per-source.
	_ = grp.Wait()

	ec.InternalConfidence = confidenceScore(ec.SimilarIncidents)
	g.gatherPublicKnowledge(ctx, inc, ec)

	ec.GatheringTimeMS = time.Since(start).Milliseconds()
	slog.Info("Context gathered",
		"incident_id", inc.ID,
		"logs", len(ec.RecentLogs),
		"similar_incidents", len(ec.SimilarIncidents),
		"commits", len(ec.RecentCommits),
		"web_results", len(ec.WebResults),
		"confidence", ec.InternalConfidence,
		"duration_ms", ec.GatheringTimeMS)
	return ec
}

// gatherPublicKnowledge decides whether public search is worth spending and
// runs it. Triggered when the index produced nothing, or produced matches
// too weak to clear the confidence threshold.
func (g *Gatherer) gatherPublicKnowledge(ctx context.Context, inc *models.Incident, ec *models.EnrichedContext) {
	threshold := g.cfg.ConfidenceThreshold
	triggered := len(ec.SimilarIncidents) == 0 || ec.InternalConfidence < threshold
	ec.WebSearchTriggered = triggered

	if !triggered {
		ec.WebSearchReason = fmt.Sprintf("High internal confidence (%.3f >= %g)", ec.InternalConfidence, threshold)
		return
	}

	ec.WebSearchReason = fmt.Sprintf("Low internal confidence (%.3f < %g)", ec.InternalConfidence, threshold)
	if g.web == nil {
		return
	}

	queries := BuildQueries(inc)
	err := g.withRetry(ctx, func() error {
		results, err := g.web.Search(ctx, queries)
		if err != nil {
			return err
		}
		ec.WebResults = results
		return nil
	})
	if err != nil {
		ec.WebSearchReason = fmt.Sprintf("Web search failed: %v", err)
		if ec.GatheringErrors == nil {
			ec.GatheringErrors = make(map[string]string)
		}
		ec.GatheringErrors[SourceWeb] = err.Error()
		return
	}
	ec.SourcesUsed = append(ec.SourcesUsed, SourceWeb)
}

// withRetry wraps one source call in jittered exponential backoff.
func (g *Gatherer) withRetry(ctx context.Context, op backoff.Operation) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.cfg.Retry.InitialInterval
	bo.MaxInterval = g.cfg.Retry.MaxInterval
	bo.Multiplier = g.cfg.Retry.Multiplier
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(g.cfg.Retry.MaxRetries)), ctx))
}

// retainSimilar keeps matches at or above the similarity floor.
func retainSimilar(matches []models.SimilarIncident) []models.SimilarIncident {
	var kept []models.SimilarIncident
	for _, match := range matches {
		if match.Similarity >= similarityFloor {
			kept = append(kept, match)
		}
	}
	return kept
}

// confidenceScore rates how well the index covered the incident: the
// strongest similarity, boosted by a tenth of the mean when at least two
// matches agree, clamped to 1. Zero without matches.
func confidenceScore(matches []models.SimilarIncident) float64 {
	if len(matches) == 0 {
		return 0
	}
	var best, sum float64
	for _, match := range matches {
		if match.Similarity > best {
			best = match.Similarity
		}
		sum += match.Similarity
	}
	if len(matches) > 1 {
		mean := sum / float64(len(matches))
		best = math.Min(1.0, best+0.1*mean)
	}
	return best
}
