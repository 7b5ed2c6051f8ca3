package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"coinpulse/src/connectors"
	"coinpulse/src/database"
	"coinpulse/src/model"
	"coinpulse/src/repository"
	"coinpulse/src/retry"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(database.Config{
		DatabaseDriver:  "sqlite",
		DatabaseURLMain: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		GormLogLevel:    1,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

var baseTime = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func makeRecord(i int) connectors.OrderRecord {
	rec := connectors.OrderRecord{
		UUID:           fmt.Sprintf("order-%04d", i),
		Side:           connectors.SideBid,
		OrdType:        connectors.OrdTypePrice,
		Price:          decimal.NewFromInt(10000),
		State:          connectors.OrderStateDone,
		Market:         "KRW-BTC",
		CreatedAt:      baseTime.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
		ExecutedVolume: decimal.RequireFromString("0.0002"),
		ExecutedFunds:  decimal.NewFromInt(10000),
		PaidFee:        decimal.NewFromInt(5),
	}
	rec.Raw, _ = json.Marshal(map[string]string{"uuid": rec.UUID})
	return rec
}

// fakeSource serves a newest-first history with page/limit pagination.
type fakeSource struct {
	mu        sync.Mutex
	orders    []connectors.OrderRecord
	next      int
	failPages map[int]int
	failErr   error
	calls     int
}

func newFakeSource(n int) *fakeSource {
	f := &fakeSource{failPages: map[int]int{}}
	f.add(n)
	return f
}

// add puts n newer orders at the head of the history.
func (f *fakeSource) add(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fresh := make([]connectors.OrderRecord, 0, n+len(f.orders))
	for i := f.next + n; i > f.next; i-- {
		fresh = append(fresh, makeRecord(i))
	}
	f.orders = append(fresh, f.orders...)
	f.next += n
}

func (f *fakeSource) GetOrderHistory(_ context.Context, q connectors.OrderHistoryQuery) ([]connectors.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if n := f.failPages[q.Page]; n > 0 {
		f.failPages[q.Page] = n - 1
		return nil, f.failErr
	}
	start := (q.Page - 1) * q.Limit
	if start >= len(f.orders) {
		return nil, nil
	}
	end := start + q.Limit
	if end > len(f.orders) {
		end = len(f.orders)
	}
	return append([]connectors.OrderRecord(nil), f.orders[start:end]...), nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PageDelay = 0
	cfg.MaxIncrementalPages = 2
	cfg.Retry = retry.Policy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return cfg
}

func newTestSyncer(t *testing.T, src HistorySource) (*Syncer, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	factory := func(context.Context, uint) (HistorySource, error) { return src, nil }
	return NewSyncer(db, factory, testConfig()), db
}

func ledgerCount(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()
	n, err := (&repository.OrderRepository{}).WithDB(db).CountByUser(context.Background(), userID)
	require.NoError(t, err)
	return n
}

func TestFullSyncThenIncrementalIsNoOp(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(150)
	s, db := newTestSyncer(t, src)

	res, err := s.FullSync(ctx, 1, "", 200)
	require.NoError(t, err)
	assert.Equal(t, 150, res.SyncedCount)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, model.OutcomeSucceeded, res.Outcome)
	assert.True(t, res.CursorAdvanced)
	assert.Equal(t, int64(150), ledgerCount(t, db, 1))

	before, err := s.cursors.Get(ctx, 1, model.SyncScopeAll)
	require.NoError(t, err)
	require.NotNil(t, before)
	assert.Equal(t, "order-0150", before.LastOrderUUID)
	ordersBefore, err := s.orders.ListByUser(ctx, 1, repository.OrderSearchOptions{})
	require.NoError(t, err)

	res, err = s.IncrementalSync(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.SyncedCount)
	assert.False(t, res.CursorAdvanced)
	assert.Equal(t, model.OutcomeSucceeded, res.Outcome)

	after, err := s.cursors.Get(ctx, 1, model.SyncScopeAll)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	ordersAfter, err := s.orders.ListByUser(ctx, 1, repository.OrderSearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, ordersBefore, ordersAfter)
}

func TestIncrementalSyncPicksUpNewOrders(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(150)
	s, db := newTestSyncer(t, src)

	_, err := s.FullSync(ctx, 1, "", 200)
	require.NoError(t, err)

	src.add(3)
	res, err := s.IncrementalSync(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.SyncedCount)
	assert.True(t, res.CursorAdvanced)
	assert.Equal(t, int64(153), ledgerCount(t, db, 1))

	cursor, err := s.cursors.Get(ctx, 1, model.SyncScopeAll)
	require.NoError(t, err)
	assert.Equal(t, "order-0153", cursor.LastOrderUUID)
	assert.Equal(t, int64(153), cursor.SyncedCount)
	assert.Empty(t, cursor.LastError)
}

func TestIncrementalSyncSurfacesGap(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(50)
	s, db := newTestSyncer(t, src)

	_, err := s.FullSync(ctx, 1, "", 200)
	require.NoError(t, err)

	src.add(250)
	res, err := s.IncrementalSync(ctx, 1, "")
	require.ErrorIs(t, err, ErrGapDetected)
	assert.True(t, res.GapDetected)
	assert.False(t, res.CursorAdvanced)
	assert.Equal(t, 200, res.SyncedCount)
	assert.Equal(t, model.OutcomePartial, res.Outcome)

	cursor, err := s.cursors.Get(ctx, 1, model.SyncScopeAll)
	require.NoError(t, err)
	assert.Equal(t, "order-0050", cursor.LastOrderUUID)
	assert.Contains(t, cursor.LastError, "gap")

	// the full sync safety net closes the gap
	res, err = s.FullSync(ctx, 1, "", 1000)
	require.NoError(t, err)
	assert.Equal(t, 300, res.SyncedCount)
	assert.Equal(t, int64(300), ledgerCount(t, db, 1))

	cursor, err = s.cursors.Get(ctx, 1, model.SyncScopeAll)
	require.NoError(t, err)
	assert.Equal(t, "order-0300", cursor.LastOrderUUID)
	assert.Empty(t, cursor.LastError)
}

func TestBoundedFullSyncKeepsGapOpen(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(50)
	s, db := newTestSyncer(t, src)

	_, err := s.FullSync(ctx, 1, "", 200)
	require.NoError(t, err)

	src.add(500)
	_, err = s.IncrementalSync(ctx, 1, "")
	require.ErrorIs(t, err, ErrGapDetected)

	res, err := s.FullSync(ctx, 1, "", 300)
	require.ErrorIs(t, err, ErrGapDetected)
	assert.True(t, res.GapDetected)
	assert.False(t, res.CursorAdvanced)
	assert.Equal(t, 300, res.SyncedCount)
	assert.Equal(t, model.OutcomePartial, res.Outcome)

	cursor, err := s.cursors.Get(ctx, 1, model.SyncScopeAll)
	require.NoError(t, err)
	assert.Equal(t, "order-0050", cursor.LastOrderUUID)
	assert.Contains(t, cursor.LastError, "gap")

	// the next incremental run still reports the gap
	res, err = s.IncrementalSync(ctx, 1, "")
	require.ErrorIs(t, err, ErrGapDetected)
	assert.True(t, res.GapDetected)

	res, err = s.FullSync(ctx, 1, "", 1000)
	require.NoError(t, err)
	assert.False(t, res.GapDetected)
	assert.True(t, res.CursorAdvanced)
	assert.Equal(t, int64(550), ledgerCount(t, db, 1))

	cursor, err = s.cursors.Get(ctx, 1, model.SyncScopeAll)
	require.NoError(t, err)
	assert.Equal(t, "order-0550", cursor.LastOrderUUID)
	assert.Empty(t, cursor.LastError)
}

func TestFullSyncWithFailedPageBeforeCursorKeepsGapOpen(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(50)
	s, _ := newTestSyncer(t, src)

	_, err := s.FullSync(ctx, 1, "", 200)
	require.NoError(t, err)

	src.add(250)
	src.failPages[2] = 10
	src.failErr = &connectors.APIError{StatusCode: 502}

	res, err := s.FullSync(ctx, 1, "", 1000)
	require.ErrorIs(t, err, ErrGapDetected)
	assert.True(t, res.GapDetected)
	assert.False(t, res.CursorAdvanced)
	assert.Equal(t, 200, res.SyncedCount)

	cursor, err := s.cursors.Get(ctx, 1, model.SyncScopeAll)
	require.NoError(t, err)
	assert.Equal(t, "order-0050", cursor.LastOrderUUID)
	assert.Contains(t, cursor.LastError, "gap")
}

func TestFirstIncrementalSyncRunsBaseline(t *testing.T) {
	src := newFakeSource(30)
	s, db := newTestSyncer(t, src)

	res, err := s.IncrementalSync(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 30, res.SyncedCount)
	assert.Equal(t, int64(30), ledgerCount(t, db, 1))
}

func TestFullSyncRetriesTransientPageFailure(t *testing.T) {
	src := newFakeSource(150)
	src.failPages[2] = 1
	src.failErr = &connectors.APIError{StatusCode: 503}
	s, _ := newTestSyncer(t, src)

	res, err := s.FullSync(context.Background(), 1, "", 200)
	require.NoError(t, err)
	assert.Equal(t, 150, res.SyncedCount)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 3, src.calls)
}

func TestFullSyncSkipsFailedPageAndKeepsPaging(t *testing.T) {
	src := newFakeSource(350)
	src.failPages[2] = 10
	src.failErr = &connectors.APIError{StatusCode: 502}
	s, db := newTestSyncer(t, src)

	res, err := s.FullSync(context.Background(), 1, "", 1000)
	require.NoError(t, err)
	assert.Equal(t, 250, res.SyncedCount)
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, model.OutcomePartial, res.Outcome)
	assert.Equal(t, int64(250), ledgerCount(t, db, 1))
	assert.True(t, res.CursorAdvanced)
}

func TestFullSyncAbortsWhenExchangeUnreachable(t *testing.T) {
	src := newFakeSource(350)
	for page := 1; page <= 5; page++ {
		src.failPages[page] = 10
	}
	src.failErr = context.DeadlineExceeded
	s, db := newTestSyncer(t, src)

	res, err := s.FullSync(context.Background(), 1, "", 1000)
	require.ErrorIs(t, err, ErrSyncAborted)
	assert.Equal(t, 0, res.SyncedCount)
	assert.Equal(t, model.OutcomeNotExecuted, res.Outcome)
	assert.Len(t, res.Errors, 3)
	assert.Equal(t, int64(0), ledgerCount(t, db, 1))

	cursor, err := s.cursors.Get(context.Background(), 1, model.SyncScopeAll)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Empty(t, cursor.LastOrderUUID)
	assert.NotEmpty(t, cursor.LastError)
}

func TestFatalErrorStopsWithoutRetry(t *testing.T) {
	src := newFakeSource(10)
	src.failPages[1] = 10
	src.failErr = &connectors.APIError{StatusCode: 401, Name: "invalid_access_key"}
	s, _ := newTestSyncer(t, src)

	_, err := s.FullSync(context.Background(), 1, "", 100)
	require.ErrorIs(t, err, ErrSyncAborted)
	assert.Equal(t, 1, src.calls)
}

func TestResyncUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(20)
	s, db := newTestSyncer(t, src)

	_, err := s.FullSync(ctx, 1, "", 100)
	require.NoError(t, err)

	src.orders[5].PaidFee = decimal.NewFromInt(42)
	src.orders[5].State = connectors.OrderStateCancel
	_, err = s.FullSync(ctx, 1, "", 100)
	require.NoError(t, err)

	assert.Equal(t, int64(20), ledgerCount(t, db, 1))
	o, err := s.orders.FindByUUID(ctx, src.orders[5].UUID)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "42", o.PaidFee.String())
	assert.Equal(t, model.OrderStateCancelled, o.State)
}

func TestMalformedRecordIsCountedAndSkipped(t *testing.T) {
	src := newFakeSource(20)
	src.orders[3].Side = "sideways"
	s, db := newTestSyncer(t, src)

	res, err := s.FullSync(context.Background(), 1, "", 100)
	require.NoError(t, err)
	assert.Equal(t, 19, res.SyncedCount)
	assert.Equal(t, 1, res.DataErrors)
	assert.Equal(t, model.OutcomePartial, res.Outcome)
	assert.Equal(t, int64(19), ledgerCount(t, db, 1))
}

func TestScopedCursorsAreIndependent(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(5)
	s, _ := newTestSyncer(t, src)

	_, err := s.FullSync(ctx, 1, "", 100)
	require.NoError(t, err)
	_, err = s.FullSync(ctx, 1, "KRW-BTC", 100)
	require.NoError(t, err)

	status, err := s.GetSyncStatus(ctx, 1)
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.Equal(t, model.SyncScopeAll, status[0].Scope)
	assert.Equal(t, "KRW-BTC", status[1].Scope)
}

func TestMissingCredentialsDoesNotExecute(t *testing.T) {
	db := newTestDB(t)
	factory := func(context.Context, uint) (HistorySource, error) { return nil, connectors.ErrMissingCredentials }
	s := NewSyncer(db, factory, testConfig())

	res, err := s.FullSync(context.Background(), 1, "", 100)
	require.ErrorIs(t, err, ErrSyncAborted)
	assert.Equal(t, model.OutcomeNotExecuted, res.Outcome)
}
