// Package store persists plan and incident records in MongoDB. The
// collections are the durable record of every lifecycle; the bus only
// carries transitions.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/kubeminder/kubeminder/pkg/config"
)

// ErrNotFound indicates the requested plan does not exist.
var ErrNotFound = errors.New("plan not found")

// ErrIncidentNotFound indicates the requested incident does not exist.
var ErrIncidentNotFound = errors.New("incident not found")

// Store is the MongoDB-backed record store.
type Store struct {
	client    *mongo.Client
	coll      *mongo.Collection
	incidents *mongo.Collection
	cfg       *config.StoreConfig
}

// Connect establishes the MongoDB connection, verifies it with a ping and
// ensures the plan indexes exist.
func Connect(ctx context.Context, cfg *config.StoreConfig) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client:    client,
		coll:      db.Collection(cfg.Collection),
		incidents: db.Collection(cfg.IncidentCollection),
		cfg:       cfg,
	}

	idxCtx, cancelIdx := context.WithTimeout(ctx, cfg.OpTimeout)
	defer cancelIdx()
	if err := s.ensureIndexes(idxCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	slog.Info("Connected to record store",
		"database", cfg.Database,
		"plans", cfg.Collection,
		"incidents", cfg.IncidentCollection)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	planIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "incident_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "incident_id", Value: 1}, {Key: "status", Value: 1}}},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, planIndexes); err != nil {
		return err
	}

	incidentIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "affected_service", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	}
	_, err := s.incidents.Indexes().CreateMany(ctx, incidentIndexes)
	return err
}

// withTimeout applies the configured operation timeout when the caller's
// context carries no deadline.
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}

// HealthStatus reports store reachability for the health endpoint.
type HealthStatus struct {
	Status         string `json:"status"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

// Health pings the store and reports latency.
func (s *Store) Health(ctx context.Context) HealthStatus {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	err := s.client.Ping(ctx, readpref.Primary())
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return HealthStatus{Status: "unhealthy", ResponseTimeMS: elapsed, Error: err.Error()}
	}
	return HealthStatus{Status: "healthy", ResponseTimeMS: elapsed}
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
