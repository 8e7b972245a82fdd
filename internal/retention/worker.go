// Package retention drops saved sessions nobody has touched for a while and
// evicts idle sessions from memory.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/quizdeck/internal/shared"
	"github.com/robfig/cron/v3"
)

const (
	deleteAttempts  = 3
	deleteBaseDelay = 100 * time.Millisecond
)

// Sweeper deletes stored sessions.
type Sweeper interface {
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Evictor drops idle in-memory sessions.
type Evictor interface {
	EvictIdle(ctx context.Context, ttl time.Duration) int
}

// Config controls both sweeps.
type Config struct {
	// TTL is how long a saved session survives without an update.
	TTL time.Duration
	// Schedule is a cron expression for the store sweep.
	Schedule string
	// IdleTTL is how long a live session may sit untouched. The idle sweep
	// runs every IdleTTL/2.
	IdleTTL time.Duration
}

// Worker runs the sweeps on a cron scheduler.
type Worker struct {
	repo    Sweeper
	evictor Evictor
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
}

// NewWorker creates a worker. evictor may be nil.
func NewWorker(repo Sweeper, evictor Evictor, cfg Config) *Worker {
	return &Worker{
		repo:    repo,
		evictor: evictor,
		cfg:     cfg,
		now:     time.Now,
		logger:  slog.Default().With("component", "retention"),
	}
}

// Run schedules the sweeps and blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))

	if _, err := c.AddFunc(w.cfg.Schedule, func() {
		if _, err := w.SweepStore(ctx); err != nil {
			w.logger.Error("Retention sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}

	if w.evictor != nil && w.cfg.IdleTTL > 0 {
		interval := max(w.cfg.IdleTTL/2, time.Second)
		c.Schedule(cron.Every(interval), cron.FuncJob(func() {
			w.evictor.EvictIdle(ctx, w.cfg.IdleTTL)
		}))
	}

	c.Start()
	w.logger.Info("Retention worker started", "schedule", w.cfg.Schedule, "ttl", w.cfg.TTL, "idle_ttl", w.cfg.IdleTTL)

	<-ctx.Done()
	<-c.Stop().Done()
	w.logger.Info("Retention worker stopped", "reason", ctx.Err())
	return nil
}

// SweepStore deletes sessions not updated within the TTL, retrying SQLite
// lock conflicts. It returns the number of deleted documents.
func (w *Worker) SweepStore(ctx context.Context) (int64, error) {
	cutoff := w.now().Add(-w.cfg.TTL)

	var deleted int64
	err := shared.RetryOnConflict(ctx, deleteAttempts, deleteBaseDelay, func() error {
		n, err := w.repo.DeleteSessionsBefore(ctx, cutoff)
		if err != nil {
			if shared.IsSQLiteConflictError(err) {
				w.logger.Debug("Database locked during retention sweep, retrying", "error", err)
			}
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete sessions before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	if deleted > 0 {
		w.logger.Info("Deleted stale sessions", "count", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}
