package learner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeminder/kubeminder/pkg/bus"
	"github.com/kubeminder/kubeminder/pkg/models"
)

type indexUpsert struct {
	id       string
	document string
	metadata map[string]string
}

type fakeIndex struct {
	upserts []indexUpsert
	err     error
}

func (f *fakeIndex) Query(context.Context, string, int) ([]models.SimilarIncident, error) {
	return nil, nil
}

func (f *fakeIndex) Upsert(_ context.Context, id, document string, metadata map[string]string) error {
	f.upserts = append(f.upserts, indexUpsert{id: id, document: document, metadata: metadata})
	return f.err
}

type fakeRecords struct {
	incidents map[string]*models.Incident
	plans     map[string]*models.Plan
}

func (f *fakeRecords) GetIncident(_ context.Context, incidentID string) (*models.Incident, error) {
	if inc, ok := f.incidents[incidentID]; ok {
		return inc, nil
	}
	return nil, errors.New("incident not found: " + incidentID)
}

func (f *fakeRecords) GetPlan(_ context.Context, planID string) (*models.Plan, error) {
	if plan, ok := f.plans[planID]; ok {
		return plan, nil
	}
	return nil, errors.New("plan not found: " + planID)
}

func newLearnerService(index *fakeIndex, records RecordReader) *Service {
	svc := NewService(index, records, nil, nil)
	svc.retryInterval = time.Millisecond
	return svc
}

func resolvedDelivery(t *testing.T, res *models.Resolution) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(res)
	require.NoError(t, err)
	return amqp.Delivery{Body: body, MessageId: res.IncidentID}
}

func fullRecord() (*models.Resolution, *fakeRecords) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	res := &models.Resolution{
		IncidentID:       "inc-1",
		PlanID:           "plan-1",
		Status:           models.ResolutionResolved,
		ResolutionAction: "Executed plan: plan-1",
		Notes:            "clean rollout",
		Timestamp:        &ts,
	}
	records := &fakeRecords{
		incidents: map[string]*models.Incident{
			"inc-1": {
				ID:              "inc-1",
				Source:          "prometheus",
				Title:           "Checkout latency spike",
				AffectedService: "checkout",
				Severity:        models.SeverityHigh,
				Description:     "p95 latency over 2s",
				Hypothesis:      "connection pool exhaustion",
			},
		},
		plans: map[string]*models.Plan{
			"plan-1": {
				ID:         "plan-1",
				IncidentID: "inc-1",
				RootCause:  "Connection pool exhausted after deploy",
				Metadata:   &models.PlanMetadata{InternalConfidence: 0.83},
			},
		},
	}
	return res, records
}

func TestSummarizeFullRecord(t *testing.T) {
	res, records := fullRecord()
	rec := &Record{
		Resolution: res,
		Incident:   records.incidents["inc-1"],
		Plan:       records.plans["plan-1"],
	}

	want := "Incident: inc-1\n" +
		"Title: Checkout latency spike\n" +
		"Service: checkout\n" +
		"Severity: high\n" +
		"Description: p95 latency over 2s\n" +
		"Hypothesis: Connection pool exhausted after deploy\n" +
		"Confidence: 0.83\n" +
		"Resolution: Executed plan: plan-1\n" +
		"Notes: clean rollout"
	assert.Equal(t, want, Summarize(rec))
}

func TestSummarizeDegradedRecord(t *testing.T) {
	rec := &Record{
		Resolution: &models.Resolution{
			IncidentID:       "inc-1",
			Status:           models.ResolutionSkipped,
			ResolutionAction: "Skipped plan: plan-1",
		},
	}

	assert.Equal(t, "Incident: inc-1\nResolution: Skipped plan: plan-1", Summarize(rec))
}

func TestSummarizeHypothesisFallsBackToIncident(t *testing.T) {
	rec := &Record{
		Resolution: &models.Resolution{IncidentID: "inc-1"},
		Incident:   &models.Incident{ID: "inc-1", Hypothesis: "bad deploy"},
		Plan:       &models.Plan{ID: "plan-1"},
	}

	assert.Contains(t, Summarize(rec), "Hypothesis: bad deploy")
}

func TestHandleResolvedIndexesIncident(t *testing.T) {
	index := &fakeIndex{}
	res, records := fullRecord()
	svc := newLearnerService(index, records)

	verdict := svc.HandleResolved(context.Background(), resolvedDelivery(t, res))

	assert.Equal(t, bus.Ack, verdict)
	require.Len(t, index.upserts, 1)

	up := index.upserts[0]
	assert.Equal(t, "inc-1", up.id)
	assert.Contains(t, up.document, "Title: Checkout latency spike")
	assert.Contains(t, up.document, "Confidence: 0.83")

	assert.Equal(t, "checkout", up.metadata["service"])
	assert.Equal(t, "high", up.metadata["severity"])
	assert.Equal(t, "prometheus", up.metadata["source"])
	assert.Equal(t, "Executed plan: plan-1", up.metadata["resolution"])
	assert.Equal(t, "2025-06-01T12:00:00Z", up.metadata["timestamp"])
}

func TestHandleResolvedDegradesWithoutRecords(t *testing.T) {
	index := &fakeIndex{}
	svc := newLearnerService(index, &fakeRecords{})

	res := &models.Resolution{
		IncidentID:       "inc-1",
		PlanID:           "plan-1",
		Status:           models.ResolutionResolved,
		ResolutionAction: "Executed plan: plan-1",
	}
	verdict := svc.HandleResolved(context.Background(), resolvedDelivery(t, res))

	assert.Equal(t, bus.Ack, verdict)
	require.Len(t, index.upserts, 1)

	up := index.upserts[0]
	assert.Equal(t, "Incident: inc-1\nResolution: Executed plan: plan-1", up.document)
	assert.NotContains(t, up.metadata, "service")
	assert.NotContains(t, up.metadata, "severity")
	assert.Equal(t, "kubeminder", up.metadata["source"])
}

func TestHandleResolvedIndexFailureStillAcks(t *testing.T) {
	index := &fakeIndex{err: errors.New("index unavailable")}
	res, records := fullRecord()
	svc := newLearnerService(index, records)

	verdict := svc.HandleResolved(context.Background(), resolvedDelivery(t, res))

	// Terminal events are never requeued; the upsert is retried in place
	// and the failure is surfaced through logs only.
	assert.Equal(t, bus.Ack, verdict)
	assert.Len(t, index.upserts, 1+indexRetries)
}

func TestHandleResolvedRejectsMalformed(t *testing.T) {
	svc := newLearnerService(&fakeIndex{}, &fakeRecords{})

	verdict := svc.HandleResolved(context.Background(), amqp.Delivery{Body: []byte(`{"incident`)})
	assert.Equal(t, bus.Reject, verdict)

	verdict = svc.HandleResolved(context.Background(), amqp.Delivery{Body: []byte(`{"plan_id": "plan-1"}`)})
	assert.Equal(t, bus.Reject, verdict)
}
