package collab

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeminder/kubeminder/pkg/bus"
	"github.com/kubeminder/kubeminder/pkg/config"
	"github.com/kubeminder/kubeminder/pkg/models"
)

type statusUpdate struct {
	planID string
	status models.PlanStatus
	extra  map[string]any
}

type fakePlanStore struct {
	plans   map[string]*models.Plan
	updates []statusUpdate
	err     error
}

func (f *fakePlanStore) GetPlan(_ context.Context, planID string) (*models.Plan, error) {
	if plan, ok := f.plans[planID]; ok {
		return plan, nil
	}
	return nil, errors.New("plan not found: " + planID)
}

func (f *fakePlanStore) UpdateStatus(_ context.Context, planID string, status models.PlanStatus, extra map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, statusUpdate{planID: planID, status: status, extra: extra})
	return nil
}

type fakeApprovedPublisher struct {
	published []*models.Plan
	err       error
}

func (f *fakeApprovedPublisher) PublishPlanApproved(_ context.Context, plan *models.Plan) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, plan)
	return nil
}

func newCollabService(store *fakePlanStore, pub *fakeApprovedPublisher) *Service {
	return NewService(config.DefaultCollabConfig(), store, pub, nil)
}

func planDelivery(t *testing.T, plan *models.Plan) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(plan)
	require.NoError(t, err)
	return amqp.Delivery{Body: body, MessageId: plan.ID}
}

func TestHandleProposedAutoApprovesLowRisk(t *testing.T) {
	store := &fakePlanStore{}
	pub := &fakeApprovedPublisher{}
	svc := newCollabService(store, pub)

	plan := &models.Plan{ID: "plan-1", IncidentID: "inc-1", Status: models.PlanStatusProposed, RiskLevel: models.RiskLow}
	verdict := svc.HandleProposed(context.Background(), planDelivery(t, plan))

	assert.Equal(t, bus.Ack, verdict)
	require.Len(t, pub.published, 1)

	approved := pub.published[0]
	assert.Equal(t, models.PlanStatusApproved, approved.Status)
	assert.Equal(t, AutoApprover, approved.ApprovedBy)
	require.NotNil(t, approved.ApprovalTimestamp)

	require.Len(t, store.updates, 1)
	assert.Equal(t, "plan-1", store.updates[0].planID)
	assert.Equal(t, models.PlanStatusApproved, store.updates[0].status)
	assert.Equal(t, AutoApprover, store.updates[0].extra["approved_by"])

	assert.Empty(t, svc.Pending())
}

func TestHandleProposedAutoApprovesAtThreshold(t *testing.T) {
	pub := &fakeApprovedPublisher{}
	svc := newCollabService(&fakePlanStore{}, pub)

	// Medium scores exactly the default ceiling; the gate is inclusive.
	plan := &models.Plan{ID: "plan-1", IncidentID: "inc-1", RiskLevel: models.RiskMedium}
	verdict := svc.HandleProposed(context.Background(), planDelivery(t, plan))

	assert.Equal(t, bus.Ack, verdict)
	assert.Len(t, pub.published, 1)
}

func TestHandleProposedHoldsHighRisk(t *testing.T) {
	store := &fakePlanStore{}
	pub := &fakeApprovedPublisher{}
	svc := newCollabService(store, pub)

	plan := &models.Plan{ID: "plan-1", IncidentID: "inc-1", RiskLevel: models.RiskHigh}
	verdict := svc.HandleProposed(context.Background(), planDelivery(t, plan))

	assert.Equal(t, bus.Ack, verdict)
	assert.Empty(t, pub.published)
	assert.Empty(t, store.updates)

	pending := svc.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "plan-1", pending[0].ID)
}

func TestHandleProposedNumericRiskWins(t *testing.T) {
	pub := &fakeApprovedPublisher{}
	svc := newCollabService(&fakePlanStore{}, pub)

	// Producer-supplied numeric risk overrides the level.
	risk := 0.9
	plan := &models.Plan{ID: "plan-1", IncidentID: "inc-1", Risk: &risk, RiskLevel: models.RiskLow}
	svc.HandleProposed(context.Background(), planDelivery(t, plan))

	assert.Empty(t, pub.published)
	assert.Len(t, svc.Pending(), 1)
}

func TestHandleProposedRejectsMalformedPayload(t *testing.T) {
	svc := newCollabService(&fakePlanStore{}, &fakeApprovedPublisher{})

	verdict := svc.HandleProposed(context.Background(), amqp.Delivery{Body: []byte(`{"id":`)})
	assert.Equal(t, bus.Reject, verdict)

	verdict = svc.HandleProposed(context.Background(), amqp.Delivery{Body: []byte(`{"incident_id": "inc-1"}`)})
	assert.Equal(t, bus.Reject, verdict)
}

func TestHandleProposedRequeuesOnStoreFailure(t *testing.T) {
	store := &fakePlanStore{err: errors.New("mongo unavailable")}
	svc := newCollabService(store, &fakeApprovedPublisher{})

	plan := &models.Plan{ID: "plan-1", IncidentID: "inc-1", RiskLevel: models.RiskLow}
	verdict := svc.HandleProposed(context.Background(), planDelivery(t, plan))

	assert.Equal(t, bus.Retry, verdict)
}

func TestHandleProposedRequeuesOnPublishFailure(t *testing.T) {
	pub := &fakeApprovedPublisher{err: errors.New("channel closed")}
	svc := newCollabService(&fakePlanStore{}, pub)

	plan := &models.Plan{ID: "plan-1", IncidentID: "inc-1", RiskLevel: models.RiskLow}
	verdict := svc.HandleProposed(context.Background(), planDelivery(t, plan))

	assert.Equal(t, bus.Retry, verdict)
}

func TestApproveHeldPlan(t *testing.T) {
	store := &fakePlanStore{}
	pub := &fakeApprovedPublisher{}
	svc := newCollabService(store, pub)

	held := &models.Plan{ID: "plan-1", IncidentID: "inc-1", RiskLevel: models.RiskHigh}
	svc.HandleProposed(context.Background(), planDelivery(t, held))
	require.Len(t, svc.Pending(), 1)

	plan, err := svc.Approve(context.Background(), "plan-1", "alice@corp")
	require.NoError(t, err)

	assert.Equal(t, models.PlanStatusApproved, plan.Status)
	assert.Equal(t, "alice@corp", plan.ApprovedBy)
	require.Len(t, pub.published, 1)
	assert.Empty(t, svc.Pending())
}

func TestApproveFallsBackToStore(t *testing.T) {
	stored := &models.Plan{ID: "plan-1", IncidentID: "inc-1", Status: models.PlanStatusProposed, RiskLevel: models.RiskHigh}
	store := &fakePlanStore{plans: map[string]*models.Plan{"plan-1": stored}}
	pub := &fakeApprovedPublisher{}
	svc := newCollabService(store, pub)

	// Nothing held in memory, e.g. after a restart.
	plan, err := svc.Approve(context.Background(), "plan-1", "alice@corp")
	require.NoError(t, err)
	assert.Equal(t, "alice@corp", plan.ApprovedBy)
	assert.Len(t, pub.published, 1)
}

func TestApproveUnknownPlan(t *testing.T) {
	svc := newCollabService(&fakePlanStore{}, &fakeApprovedPublisher{})

	_, err := svc.Approve(context.Background(), "no-such", "alice@corp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such")
}

func TestReapprovalRepublishes(t *testing.T) {
	stored := &models.Plan{ID: "plan-1", IncidentID: "inc-1", Status: models.PlanStatusApproved, RiskLevel: models.RiskHigh}
	store := &fakePlanStore{plans: map[string]*models.Plan{"plan-1": stored}}
	pub := &fakeApprovedPublisher{}
	svc := newCollabService(store, pub)

	_, err := svc.Approve(context.Background(), "plan-1", "alice@corp")
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), "plan-1", "bob@corp")
	require.NoError(t, err)

	// The actor's idempotency gate absorbs the duplicate downstream.
	assert.Len(t, pub.published, 2)
}

func TestRejectMarksSkipped(t *testing.T) {
	store := &fakePlanStore{}
	pub := &fakeApprovedPublisher{}
	svc := newCollabService(store, pub)

	held := &models.Plan{ID: "plan-1", IncidentID: "inc-1", RiskLevel: models.RiskHigh}
	svc.HandleProposed(context.Background(), planDelivery(t, held))

	require.NoError(t, svc.Reject(context.Background(), "plan-1", "too risky for Friday"))

	require.Len(t, store.updates, 1)
	assert.Equal(t, models.PlanStatusSkipped, store.updates[0].status)
	assert.Equal(t, "too risky for Friday", store.updates[0].extra["rejection_reason"])

	// No plan event: the incident stays open for a new proposal.
	assert.Empty(t, pub.published)
	assert.Empty(t, svc.Pending())
}

func TestRejectStoreFailure(t *testing.T) {
	store := &fakePlanStore{err: errors.New("mongo unavailable")}
	svc := newCollabService(store, &fakeApprovedPublisher{})

	err := svc.Reject(context.Background(), "plan-1", "nope")
	require.Error(t, err)
}
