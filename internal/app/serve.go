package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kurihiro0119/project-analytics/internal/api"
	"github.com/kurihiro0119/project-analytics/internal/domain"
)

// Serve runs the dashboard until ctx is done. With RefreshETL set the
// refresher re-runs the ETL over every source before reloading.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	agg := a.Aggregator()
	hub := api.NewHub(a.Logger)
	defer hub.Close()

	var refresh api.RefreshFunc
	if cfg.RefreshETL {
		refresh = func(ctx context.Context) error {
			_, err := a.Pipeline.Run(ctx, domain.AllSources)
			return err
		}
	}
	refresher := api.NewRefresher(agg, hub, refresh, cfg.RefreshInterval, a.Logger)
	if err := refresher.Start(ctx); err != nil {
		return err
	}
	defer refresher.Stop()

	handler := api.NewHandler(agg, a.Runs, cfg.Project.RollingDays)
	router := api.SetupRoutes(handler, hub, a.Logger)

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("starting dashboard", "addr", addr, "storage", cfg.StorageType, "refresh", cfg.RefreshInterval)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	a.Logger.Info("shutting down dashboard")
	return srv.Shutdown(shutdownCtx)
}
