package handler

import (
	"context"
	"errors"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"coinpulse/src/auth"
	"coinpulse/src/model"
	"coinpulse/src/position"
	"coinpulse/src/trading"
)

type SyncStatusReader interface {
	GetSyncStatus(ctx context.Context, userID uint) ([]model.SyncCursor, error)
}

// Triggers are the administrative hooks that force an out-of-schedule run.
type Triggers interface {
	TriggerIncrementalSync() bool
	TriggerManualCycle(ctx context.Context, userID uint) (trading.CycleReport, error)
}

func SyncStatusHandler(q SyncStatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		cursors, err := q.GetSyncStatus(r.Context(), user.ID)
		if err != nil {
			logger.WithError(err).WithField("user_id", user.ID).Error("failed to read sync status")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if cursors == nil {
			cursors = []model.SyncCursor{}
		}
		writeJSON(w, http.StatusOK, cursors)
	}
}

type triggerResponse struct {
	Queued bool `json:"queued"`
}

// TriggerSyncHandler queues an incremental sync for every user. A request made
// while one is already pending is accepted and coalesced.
func TriggerSyncHandler(t Triggers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, triggerResponse{Queued: t.TriggerIncrementalSync()})
	}
}

// ManualCycleHandler runs one trading cycle for the user in the path and returns its report.
func ManualCycleHandler(t Triggers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		report, err := t.TriggerManualCycle(r.Context(), user.ID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, report)
		case errors.Is(err, trading.ErrCycleInProgress):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, trading.ErrTradingDisabled),
			errors.Is(err, position.ErrNoTradingConfig),
			errors.Is(err, position.ErrInvalidConfig):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			logger.WithError(err).WithField("user_id", user.ID).Error("manual cycle failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}
}
