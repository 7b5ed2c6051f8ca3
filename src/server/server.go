package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"

	"coinpulse/src/auth"
	"coinpulse/src/handler"
)

type Deps struct {
	Users     auth.UserLoader
	Positions handler.PositionQueries
	Syncer    handler.SyncStatusReader
	Orders    handler.OrderSearcher
	Triggers  handler.Triggers
}

// NewRouter exposes the read-only status queries and the administrative triggers.
func NewRouter(deps Deps, adminToken string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireToken(adminToken))

		r.Post("/sync", handler.TriggerSyncHandler(deps.Triggers))

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Use(auth.UserFromPath(deps.Users))
			r.Get("/positions", handler.OpenPositionsHandler(deps.Positions))
			r.Get("/statistics", handler.StatisticsHandler(deps.Positions))
			r.Get("/budget", handler.BudgetHandler(deps.Positions))
			r.Get("/history", handler.HistoryHandler(deps.Positions))
			r.Get("/orders", handler.SearchOrdersHandler(deps.Orders))
			r.Get("/sync-status", handler.SyncStatusHandler(deps.Syncer))
			r.Post("/cycle", handler.ManualCycleHandler(deps.Triggers))
		})
	})
	return r
}

// StartServer serves h on port until ctx is done, then shuts down gracefully.
func StartServer(ctx context.Context, port string, h http.Handler) error {
	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Server crashed")
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
