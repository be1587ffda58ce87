package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/kubeminder/kubeminder/pkg/models"
)

// SavePlan upserts a plan by id. created_at is written once on first
// insert; updated_at moves on every save. Republishing a cached plan or a
// redelivered proposal therefore never rewrites history.
func (s *Store) SavePlan(ctx context.Context, plan *models.Plan) error {
	if plan.ID == "" {
		return errors.New("plan id is required")
	}
	if plan.IncidentID == "" {
		return errors.New("incident id is required")
	}

	now := time.Now().UTC()
	doc := fromPlan(plan)
	doc.UpdatedAt = now

	createdAt := now
	if plan.CreatedAt != nil {
		createdAt = plan.CreatedAt.UTC()
	}

	update := bson.M{
		"$set":         setFields(doc),
		"$setOnInsert": bson.M{"created_at": createdAt},
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.coll.UpdateOne(ctx, bson.M{"id": plan.ID}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save plan %s: %w", plan.ID, err)
	}
	return nil
}

// setFields converts the document to the $set payload, dropping created_at
// so the upsert never rewrites it.
func setFields(doc planDocument) bson.M {
	raw, err := bson.Marshal(doc)
	if err != nil {
		// bson.Marshal of a tagged struct only fails on unsupported types,
		// which the document types do not contain.
		panic(fmt.Sprintf("marshal plan document: %v", err))
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		panic(fmt.Sprintf("unmarshal plan document: %v", err))
	}
	delete(m, "created_at")
	return m
}

// UpdateStatus transitions a plan's status, optionally setting extra fields
// such as approved_by or error in the same write.
func (s *Store) UpdateStatus(ctx context.Context, planID string, status models.PlanStatus, extra map[string]any) error {
	if planID == "" {
		return errors.New("plan id is required")
	}

	set := bson.M{
		"status":     string(status),
		"updated_at": time.Now().UTC(),
	}
	for k, v := range extra {
		set[k] = v
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.coll.UpdateOne(ctx, bson.M{"id": planID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update plan %s status: %w", planID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, planID)
	}
	return nil
}

// GetPlan loads one plan by id.
func (s *Store) GetPlan(ctx context.Context, planID string) (*models.Plan, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc planDocument
	if err := s.coll.FindOne(ctx, bson.M{"id": planID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, planID)
		}
		return nil, fmt.Errorf("failed to load plan %s: %w", planID, err)
	}
	return doc.toPlan(), nil
}

// ListByIncident returns an incident's plans, newest first. An empty status
// matches all statuses.
func (s *Store) ListByIncident(ctx context.Context, incidentID string, status models.PlanStatus) ([]*models.Plan, error) {
	filter := bson.M{"incident_id": incidentID}
	if status != "" {
		filter["status"] = string(status)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cursor, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list plans for incident %s: %w", incidentID, err)
	}

	var docs []planDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode plans for incident %s: %w", incidentID, err)
	}

	plans := make([]*models.Plan, 0, len(docs))
	for _, doc := range docs {
		plans = append(plans, doc.toPlan())
	}
	return plans, nil
}

// DeleteTerminalBefore removes completed, failed and skipped plans created
// before the cutoff. Used by the retention sweeper.
func (s *Store) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"status": bson.M{"$in": []string{
			string(models.PlanStatusCompleted),
			string(models.PlanStatusFailed),
			string(models.PlanStatusSkipped),
		}},
		"created_at": bson.M{"$lt": cutoff.UTC()},
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old plans: %w", err)
	}
	return res.DeletedCount, nil
}
