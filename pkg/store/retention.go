package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/kubeminder/kubeminder/pkg/config"
)

// Sweeper periodically removes terminal plans past the retention window.
// Deletions are idempotent and safe to run from multiple replicas.
type Sweeper struct {
	store *Store
	cfg   *config.StoreConfig

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a retention sweeper over the plan store.
func NewSweeper(store *Store, cfg *config.StoreConfig) *Sweeper {
	return &Sweeper{store: store, cfg: cfg}
}

// Start launches the background sweep loop. A retention of zero days
// disables sweeping entirely.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	if s.cfg.RetentionDays == 0 {
		slog.Info("Plan retention sweeping disabled")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention sweeper started",
		"retention_days", s.cfg.RetentionDays,
		"interval", s.cfg.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	count, err := s.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: plan sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: removed old terminal plans", "count", count, "cutoff", cutoff)
	}
}
