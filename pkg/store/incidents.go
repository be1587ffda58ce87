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

// incidentDocument is the stored shape of an incident: the descriptive
// core plus normalization results. Heavyweight evidence (logs, events,
// commits) stays on the bus; the record exists for queries and for the
// post-resolution summary.
type incidentDocument struct {
	ID              string   `bson:"id"`
	Source          string   `bson:"source,omitempty"`
	Title           string   `bson:"title,omitempty"`
	Description     string   `bson:"description,omitempty"`
	AffectedService string   `bson:"affected_service,omitempty"`
	Severity        string   `bson:"severity,omitempty"`
	Status          string   `bson:"status,omitempty"`
	Hypothesis      string   `bson:"hypothesis,omitempty"`
	Symptoms        []string `bson:"symptoms,omitempty"`
	ErrorLogCount   int      `bson:"error_log_count,omitempty"`

	CreatedAt  time.Time  `bson:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at"`
	ResolvedAt *time.Time `bson:"resolved_at,omitempty"`
}

func fromIncident(inc *models.Incident) incidentDocument {
	return incidentDocument{
		ID:              inc.ID,
		Source:          inc.Source,
		Title:           inc.Title,
		Description:     inc.Description,
		AffectedService: inc.AffectedService,
		Severity:        string(inc.Severity),
		Status:          string(inc.Status),
		Hypothesis:      inc.Hypothesis,
		Symptoms:        inc.Symptoms,
		ErrorLogCount:   inc.ErrorLogCount,
	}
}

func (doc incidentDocument) toIncident() *models.Incident {
	inc := &models.Incident{
		ID:              doc.ID,
		Source:          doc.Source,
		Title:           doc.Title,
		Description:     doc.Description,
		AffectedService: doc.AffectedService,
		Severity:        models.Severity(doc.Severity),
		Status:          models.IncidentStatus(doc.Status),
		Hypothesis:      doc.Hypothesis,
		Symptoms:        doc.Symptoms,
		ErrorLogCount:   doc.ErrorLogCount,
	}
	if !doc.CreatedAt.IsZero() {
		created := doc.CreatedAt
		inc.CreatedAt = &created
	}
	return inc
}

// SaveIncident upserts an incident record by id. Like plans, created_at is
// written once on first insert so redeliveries never rewrite history.
func (s *Store) SaveIncident(ctx context.Context, inc *models.Incident) error {
	if inc.ID == "" {
		return errors.New("incident id is required")
	}

	now := time.Now().UTC()
	doc := fromIncident(inc)
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = string(models.IncidentStatusNew)
	}

	createdAt := now
	if inc.CreatedAt != nil {
		createdAt = inc.CreatedAt.UTC()
	}

	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode incident %s: %w", inc.ID, err)
	}
	var set bson.M
	if err := bson.Unmarshal(raw, &set); err != nil {
		return fmt.Errorf("failed to encode incident %s: %w", inc.ID, err)
	}
	delete(set, "created_at")

	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": createdAt},
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err = s.incidents.UpdateOne(ctx, bson.M{"id": inc.ID}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save incident %s: %w", inc.ID, err)
	}
	return nil
}

// GetIncident loads one incident record by id.
func (s *Store) GetIncident(ctx context.Context, incidentID string) (*models.Incident, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc incidentDocument
	if err := s.incidents.FindOne(ctx, bson.M{"id": incidentID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrIncidentNotFound, incidentID)
		}
		return nil, fmt.Errorf("failed to load incident %s: %w", incidentID, err)
	}
	return doc.toIncident(), nil
}

// UpdateIncidentStatus transitions an incident's status. Terminal statuses
// also stamp resolved_at.
func (s *Store) UpdateIncidentStatus(ctx context.Context, incidentID string, status models.IncidentStatus) error {
	if incidentID == "" {
		return errors.New("incident id is required")
	}

	now := time.Now().UTC()
	set := bson.M{
		"status":     string(status),
		"updated_at": now,
	}
	switch status {
	case models.IncidentStatusResolved, models.IncidentStatusFailed, models.IncidentStatusSkipped:
		set["resolved_at"] = now
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.incidents.UpdateOne(ctx, bson.M{"id": incidentID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update incident %s status: %w", incidentID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrIncidentNotFound, incidentID)
	}
	return nil
}
