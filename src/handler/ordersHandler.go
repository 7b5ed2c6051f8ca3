package handler

import (
	"context"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"coinpulse/src/auth"
	"coinpulse/src/model"
	"coinpulse/src/repository"
)

type OrderSearcher interface {
	ListByUser(ctx context.Context, userID uint, opts repository.OrderSearchOptions) ([]model.Order, error)
}

// SearchOrdersHandler lists the ledger orders of the user in the path, newest execution first.
// Supports filters market, state and limit.
func SearchOrdersHandler(repo OrderSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		state := r.URL.Query().Get("state")
		switch state {
		case "", model.OrderStateWait, model.OrderStateDone, model.OrderStateCancelled:
		default:
			http.Error(w, "invalid state", http.StatusBadRequest)
			return
		}

		limit, ok := limitParam(r, 100, 1000)
		if !ok {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}

		orders, err := repo.ListByUser(r.Context(), user.ID, repository.OrderSearchOptions{
			Market: r.URL.Query().Get("market"),
			State:  state,
			Limit:  limit,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search orders")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if orders == nil {
			orders = []model.Order{}
		}
		writeJSON(w, http.StatusOK, orders)
	}
}
