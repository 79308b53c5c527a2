package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/duelbot/internal/config"
)

// Rebuilder recomputes a guild's ranking cache from the durable records
type Rebuilder interface {
	Guilds(ctx context.Context) ([]int64, error)
	Rebuild(ctx context.Context, guildID int64) (int, error)
}

// SyncWorker periodically rebuilds the ranking cache from storage so
// missed or dropped outcome events cannot leave it permanently wrong
type SyncWorker struct {
	rebuilder Rebuilder
	config    *config.SyncConfig
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(rebuilder Rebuilder, cfg *config.SyncConfig, logger *slog.Logger) *SyncWorker {
	return &SyncWorker{
		rebuilder: rebuilder,
		config:    cfg,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce rebuilds every guild's rankings. It returns the number of
// guilds rebuilt and the number that failed.
func (w *SyncWorker) RunOnce(ctx context.Context) (synced, failed int) {
	startTime := time.Now()

	guilds, err := w.rebuilder.Guilds(ctx)
	if err != nil {
		w.logger.Error("failed to list guilds for sync", "error", err)
		return 0, 0
	}

	for _, guildID := range guilds {
		n, err := w.rebuilder.Rebuild(ctx, guildID)
		if err != nil {
			w.logger.Error("failed to rebuild rankings", "guild_id", guildID, "error", err)
			failed++
			continue
		}
		w.logger.Debug("rebuilt rankings", "guild_id", guildID, "users", n)
		synced++
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"synced", synced,
		"errors", failed,
	)
	return synced, failed
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
