package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"coinpulse/src/model"
	"coinpulse/src/position"
	"coinpulse/src/repository"
	"coinpulse/src/trading"
)

type stubUsers map[uint]*model.User

func (s stubUsers) GetByID(_ context.Context, id uint) (*model.User, error) {
	return s[id], nil
}

type stubPositions struct{}

func (stubPositions) GetOpenPositions(context.Context, uint) ([]model.Position, error) {
	return nil, nil
}

func (stubPositions) GetStatistics(context.Context, uint) (position.Statistics, error) {
	return position.Statistics{}, nil
}

func (stubPositions) AvailableBudget(context.Context, uint) (float64, error) { return 0, nil }

func (stubPositions) GetHistory(context.Context, uint, int) ([]model.PositionHistory, error) {
	return nil, nil
}

type stubSync struct{}

func (stubSync) GetSyncStatus(context.Context, uint) ([]model.SyncCursor, error) { return nil, nil }

type stubOrders struct{}

func (stubOrders) ListByUser(context.Context, uint, repository.OrderSearchOptions) ([]model.Order, error) {
	return nil, nil
}

type stubTriggers struct{}

func (stubTriggers) TriggerIncrementalSync() bool { return true }

func (stubTriggers) TriggerManualCycle(context.Context, uint) (trading.CycleReport, error) {
	return trading.CycleReport{}, nil
}

func testRouter(token string) http.Handler {
	return NewRouter(Deps{
		Users:     stubUsers{1: {ID: 1}},
		Positions: stubPositions{},
		Syncer:    stubSync{},
		Orders:    stubOrders{},
		Triggers:  stubTriggers{},
	}, token)
}

func TestRouter(t *testing.T) {
	tests := []struct {
		method, path, token string
		want                int
	}{
		{http.MethodGet, "/healthcheck", "", http.StatusOK},
		{http.MethodGet, "/users/1/positions", "", http.StatusOK},
		{http.MethodGet, "/users/1/statistics", "", http.StatusOK},
		{http.MethodGet, "/users/1/budget", "", http.StatusOK},
		{http.MethodGet, "/users/1/history", "", http.StatusOK},
		{http.MethodGet, "/users/1/orders", "", http.StatusOK},
		{http.MethodGet, "/users/1/sync-status", "", http.StatusOK},
		{http.MethodPost, "/users/1/cycle", "", http.StatusOK},
		{http.MethodPost, "/sync", "", http.StatusAccepted},
		{http.MethodGet, "/users/2/positions", "", http.StatusNotFound},
		{http.MethodGet, "/users/abc/positions", "", http.StatusBadRequest},
	}
	router := testRouter("")
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestRouterAdminToken(t *testing.T) {
	router := testRouter("s3cret")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/sync", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
