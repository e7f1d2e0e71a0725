package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/kurihiro0119/project-analytics/internal/aggregator"
)

// RefreshFunc rebuilds the catalog before the dashboard reloads
type RefreshFunc func(ctx context.Context) error

// Refresher periodically invalidates the metric cache and tells connected
// dashboards to reload
type Refresher struct {
	agg       aggregator.Aggregator
	hub       *Hub
	etl       RefreshFunc
	interval  time.Duration
	logger    *slog.Logger
	scheduler *gocron.Scheduler

	mu sync.Mutex
}

// NewRefresher creates a refresher. etl may be nil to only reload.
func NewRefresher(agg aggregator.Aggregator, hub *Hub, etl RefreshFunc, interval time.Duration, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		agg:       agg,
		hub:       hub,
		etl:       etl,
		interval:  interval,
		logger:    logger,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Refresh runs the ETL if configured, then invalidates and notifies.
// Concurrent calls are serialized.
func (r *Refresher) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.etl != nil {
		// a partial load still changes the catalog, so reload either way
		if err = r.etl(ctx); err != nil {
			r.logger.Warn("refresh ETL failed", "error", err)
		}
	}
	r.agg.Invalidate()
	if r.hub != nil {
		r.hub.Broadcast(Event{Type: "refresh", At: time.Now().UTC()})
	}
	return err
}

// Start schedules Refresh every interval until ctx is done
func (r *Refresher) Start(ctx context.Context) error {
	r.scheduler.SingletonModeAll()
	_, err := r.scheduler.Every(r.interval).WaitForSchedule().Do(func() {
		r.logger.Info("refreshing dashboard", "interval", r.interval)
		if err := r.Refresh(ctx); err != nil {
			r.logger.Error("scheduled refresh failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule refresh: %w", err)
	}
	r.scheduler.StartAsync()

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop stops the scheduler
func (r *Refresher) Stop() {
	if r.scheduler.IsRunning() {
		r.scheduler.Stop()
	}
}
