// Package learner closes the feedback loop: every resolution event becomes
// a searchable entry in the incident history index, which is what the
// context gatherer queries for similar past incidents. A doc store
// post-mortem is published on the side when one is configured.
package learner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kubeminder/kubeminder/pkg/bus"
	"github.com/kubeminder/kubeminder/pkg/enrich"
	"github.com/kubeminder/kubeminder/pkg/metrics"
	"github.com/kubeminder/kubeminder/pkg/models"
	"github.com/kubeminder/kubeminder/pkg/version"
)

// indexRetries bounds the upsert retry loop. The index is the one write
// that matters here, so it gets more patience than a single attempt.
const indexRetries = 3

// RecordReader loads the durable records behind a resolution.
type RecordReader interface {
	GetIncident(ctx context.Context, incidentID string) (*models.Incident, error)
	GetPlan(ctx context.Context, planID string) (*models.Plan, error)
}

// Record bundles everything known about one resolved incident. Incident
// and Plan stay nil when the store has nothing; the summary degrades to
// what the resolution itself carries.
type Record struct {
	Resolution *models.Resolution
	Incident   *models.Incident
	Plan       *models.Plan
}

// Service is the learner agent: the q.incidents.resolved consumer.
type Service struct {
	index   enrich.HistoryIndex
	records RecordReader
	docs    *DocStore
	metrics *metrics.Metrics

	retryInterval time.Duration
}

// NewService wires the learner. index, records and docs may each be nil;
// whatever is wired gets written.
func NewService(index enrich.HistoryIndex, records RecordReader, docs *DocStore, m *metrics.Metrics) *Service {
	return &Service{
		index:         index,
		records:       records,
		docs:          docs,
		metrics:       m,
		retryInterval: time.Second,
	}
}

// HandleResolved processes one resolution event. Resolved incidents are
// terminal: every failure past decoding is logged and the delivery is
// acknowledged, because redelivery cannot improve a finished incident.
func (s *Service) HandleResolved(ctx context.Context, d amqp.Delivery) bus.Verdict {
	s.metrics.EventConsumed(bus.QueueIncidentsResolved)

	var res models.Resolution
	if err := json.Unmarshal(d.Body, &res); err != nil {
		slog.Error("Discarding unparseable resolution", "message_id", d.MessageId, "error", err)
		return bus.Reject
	}
	if res.IncidentID == "" {
		slog.Error("Discarding resolution without incident id", "message_id", d.MessageId)
		return bus.Reject
	}

	rec := s.load(ctx, &res)
	summary := Summarize(rec)

	if err := s.indexRecord(ctx, rec, summary); err != nil {
		slog.Error("Failed to index resolved incident", "incident_id", res.IncidentID, "error", err)
	}
	s.publishPostMortem(ctx, rec, summary)

	return bus.Ack
}

// load pulls the incident and plan records behind the resolution. Both
// reads are best effort.
func (s *Service) load(ctx context.Context, res *models.Resolution) *Record {
	rec := &Record{Resolution: res}
	if s.records == nil {
		return rec
	}

	inc, err := s.records.GetIncident(ctx, res.IncidentID)
	if err != nil {
		slog.Warn("Incident record unavailable for summary", "incident_id", res.IncidentID, "error", err)
	} else {
		rec.Incident = inc
	}

	if res.PlanID != "" {
		plan, err := s.records.GetPlan(ctx, res.PlanID)
		if err != nil {
			slog.Warn("Plan record unavailable for summary", "plan_id", res.PlanID, "error", err)
		} else {
			rec.Plan = plan
		}
	}
	return rec
}

// indexRecord upserts the summary into the history index under the
// incident id, with retries; from then on the incident is retrievable as
// context for future planning.
func (s *Service) indexRecord(ctx context.Context, rec *Record, summary string) error {
	if s.index == nil {
		return nil
	}

	meta := indexMetadata(rec)
	err := s.withRetry(ctx, func() error {
		return s.index.Upsert(ctx, rec.Resolution.IncidentID, summary, meta)
	})
	if err != nil {
		return err
	}

	slog.Info("Resolved incident indexed",
		"incident_id", rec.Resolution.IncidentID,
		"status", rec.Resolution.Status)
	return nil
}

// publishPostMortem writes the external document when a doc store is
// configured. Failures never block: the index is the system of record.
func (s *Service) publishPostMortem(ctx context.Context, rec *Record, summary string) {
	if s.docs == nil {
		return
	}
	if err := s.docs.CreatePostMortem(ctx, rec, summary); err != nil {
		slog.Warn("Failed to publish post-mortem",
			"incident_id", rec.Resolution.IncidentID, "error", err)
		return
	}
	slog.Info("Post-mortem published", "incident_id", rec.Resolution.IncidentID)
}

func (s *Service) withRetry(ctx context.Context, op backoff.Operation) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInterval
	bo.Multiplier = 2
	bo.MaxInterval = time.Minute
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, indexRetries), ctx))
}

// Summarize renders the record as the free-text document stored in the
// index. Lines for absent fields are skipped, so a resolution that lost
// its incident record still produces a usable document.
func Summarize(rec *Record) string {
	var b strings.Builder
	line := func(label, value string) {
		if value == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(value)
	}

	line("Incident", rec.Resolution.IncidentID)
	if inc := rec.Incident; inc != nil {
		line("Title", inc.Title)
		line("Service", inc.AffectedService)
		line("Severity", string(inc.Severity))
		line("Description", inc.Description)
	}
	line("Hypothesis", rec.hypothesis())
	if c := rec.confidence(); c > 0 {
		line("Confidence", fmt.Sprintf("%.2f", c))
	}
	line("Resolution", rec.Resolution.ResolutionAction)
	line("Notes", rec.Resolution.Notes)
	return b.String()
}

// hypothesis prefers the synthesized root cause over the producer's guess.
func (r *Record) hypothesis() string {
	if r.Plan != nil && r.Plan.RootCause != "" {
		return r.Plan.RootCause
	}
	if r.Incident != nil {
		return r.Incident.Hypothesis
	}
	return ""
}

// confidence is the history-index coverage score the plan's context had at
// synthesis time. Zero when the plan record is gone.
func (r *Record) confidence() float64 {
	if r.Plan != nil && r.Plan.Metadata != nil {
		return r.Plan.Metadata.InternalConfidence
	}
	return 0
}

// indexMetadata builds the filterable tags stored next to the document.
func indexMetadata(rec *Record) map[string]string {
	meta := map[string]string{
		"timestamp": resolvedAt(rec.Resolution).Format(time.RFC3339),
		"source":    version.AppName,
	}
	if inc := rec.Incident; inc != nil {
		if inc.AffectedService != "" {
			meta["service"] = inc.AffectedService
		}
		if inc.Severity != "" {
			meta["severity"] = string(inc.Severity)
		}
		if inc.Source != "" {
			meta["source"] = inc.Source
		}
	}
	if rec.Resolution.ResolutionAction != "" {
		meta["resolution"] = rec.Resolution.ResolutionAction
	}
	return meta
}

func resolvedAt(res *models.Resolution) time.Time {
	if res.Timestamp != nil {
		return res.Timestamp.UTC()
	}
	return time.Now().UTC()
}
