package handler

import (
	"context"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"coinpulse/src/auth"
	"coinpulse/src/model"
	"coinpulse/src/position"
)

type PositionQueries interface {
	GetOpenPositions(ctx context.Context, userID uint) ([]model.Position, error)
	GetStatistics(ctx context.Context, userID uint) (position.Statistics, error)
	AvailableBudget(ctx context.Context, userID uint) (float64, error)
	GetHistory(ctx context.Context, userID uint, limit int) ([]model.PositionHistory, error)
}

// OpenPositionsHandler lists the open positions of the user in the path.
func OpenPositionsHandler(q PositionQueries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		positions, err := q.GetOpenPositions(r.Context(), user.ID)
		if err != nil {
			logger.WithError(err).WithField("user_id", user.ID).Error("failed to list open positions")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if positions == nil {
			positions = []model.Position{}
		}
		writeJSON(w, http.StatusOK, positions)
	}
}

func StatisticsHandler(q PositionQueries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		stats, err := q.GetStatistics(r.Context(), user.ID)
		if err != nil {
			logger.WithError(err).WithField("user_id", user.ID).Error("failed to compute statistics")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

type budgetResponse struct {
	UserID          uint    `json:"user_id"`
	AvailableBudget float64 `json:"available_budget"`
}

func BudgetHandler(q PositionQueries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		available, err := q.AvailableBudget(r.Context(), user.ID)
		if err != nil {
			logger.WithError(err).WithField("user_id", user.ID).Error("failed to compute available budget")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, budgetResponse{UserID: user.ID, AvailableBudget: available})
	}
}

// HistoryHandler lists closed trades newest first; ?limit= caps the result (default 50).
func HistoryHandler(q PositionQueries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		limit, ok := limitParam(r, 50, 500)
		if !ok {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		history, err := q.GetHistory(r.Context(), user.ID, limit)
		if err != nil {
			logger.WithError(err).WithField("user_id", user.ID).Error("failed to list position history")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if history == nil {
			history = []model.PositionHistory{}
		}
		writeJSON(w, http.StatusOK, history)
	}
}
