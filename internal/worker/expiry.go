package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/duelbot/internal/config"
	"github.com/duelbot/internal/domain"
)

// StaleLister finds pending duels nobody answered
type StaleLister interface {
	StalePending(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
}

// Expirer moves a pending duel to timeout
type Expirer interface {
	Expire(ctx context.Context, duelID int64) (*domain.Duel, error)
}

// ExpiryWorker times out challenges left pending longer than the
// configured timeout
type ExpiryWorker struct {
	lister    StaleLister
	expirer   Expirer
	config    *config.ExpiryConfig
	now       func() time.Time
	logger    *slog.Logger
	scheduler gocron.Scheduler
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(lister StaleLister, expirer Expirer, cfg *config.ExpiryConfig, logger *slog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		lister:  lister,
		expirer: expirer,
		config:  cfg,
		now:     time.Now,
		logger:  logger,
	}
}

// Start schedules the sweep at the configured interval
func (w *ExpiryWorker) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(w.config.Interval),
		gocron.NewTask(func() {
			w.RunOnce(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("scheduling expiry sweep: %w", err)
	}

	sched.Start()
	w.scheduler = sched
	w.logger.Info("expiry worker started",
		"interval", w.config.Interval,
		"pending_timeout", w.config.PendingTimeout,
	)
	return nil
}

// Stop waits for a running sweep and shuts the scheduler down
func (w *ExpiryWorker) Stop() error {
	if w.scheduler == nil {
		return nil
	}
	err := w.scheduler.Shutdown()
	w.scheduler = nil
	w.logger.Info("expiry worker stopped")
	return err
}

// RunOnce expires one batch of stale challenges and returns how many
// were timed out
func (w *ExpiryWorker) RunOnce(ctx context.Context) int {
	cutoff := w.now().Add(-w.config.PendingTimeout)
	ids, err := w.lister.StalePending(ctx, cutoff, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to list stale duels", "error", err)
		return 0
	}

	expired := 0
	for _, id := range ids {
		_, err := w.expirer.Expire(ctx, id)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, domain.ErrWrongState):
			// accepted or declined since the listing
		default:
			w.logger.Error("failed to expire duel", "duel_id", id, "error", err)
		}
	}

	if expired > 0 {
		w.logger.Info("expired stale challenges", "count", expired)
	}
	return expired
}
