package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/runscore/internal/config"
	"github.com/runscore/internal/period"
)

// Rebuilder recomputes one week's rankings and refreshes the redis mirror
type Rebuilder interface {
	RebuildPeriod(ctx context.Context, periodStart time.Time) error
}

// SyncWorker periodically rebuilds rankings so the mirror converges even
// when a broadcast-time refresh was skipped or redis restarted.
type SyncWorker struct {
	service Rebuilder
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(service Rebuilder, cfg *config.SyncConfig, logger *slog.Logger) *SyncWorker {
	return &SyncWorker{
		service: service,
		config:  cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
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

// run is the main worker loop
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
			w.syncCycle(ctx)
		}
	}
}

// syncCycle rebuilds the current and the previous week. The previous week
// is included because sessions for it can still arrive shortly after the
// rollover.
func (w *SyncWorker) syncCycle(ctx context.Context) {
	w.logger.Info("starting sync cycle")
	startTime := time.Now()

	current, _ := period.CurrentWeek()
	previous := current.AddDate(0, 0, -7)

	errorCount := 0
	for _, start := range []time.Time{current, previous} {
		if err := w.service.RebuildPeriod(ctx, start); err != nil {
			w.logger.Error("failed to rebuild period",
				"period", period.Key(start),
				"error", err,
			)
			errorCount++
		}
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"errors", errorCount,
	)
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle. Called at startup so the mirror is
// populated from postgres before the server takes traffic.
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncCycle(ctx)
}
