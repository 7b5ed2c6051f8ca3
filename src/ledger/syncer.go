// Package ledger keeps the local order ledger in step with the exchange order history.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coinpulse/src/connectors"
	"coinpulse/src/mapper"
	"coinpulse/src/model"
	"coinpulse/src/repository"
	"coinpulse/src/retry"
)

var (
	// ErrGapDetected means paging never reached the stored cursor, so orders may be missing.
	ErrGapDetected = errors.New("sync did not reach the stored cursor")
	ErrSyncAborted = errors.New("sync aborted")
)

const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// HistorySource is the part of the exchange client the sync reads from.
type HistorySource interface {
	GetOrderHistory(ctx context.Context, q connectors.OrderHistoryQuery) ([]connectors.OrderRecord, error)
}

// SourceFactory returns the history source of one user.
type SourceFactory func(ctx context.Context, userID uint) (HistorySource, error)

type Config struct {
	PageSize                   int
	PageDelay                  time.Duration
	MaxIncrementalPages        int
	MaxConsecutivePageFailures int
	BaselineMaxOrders          int
	States                     []string
	Retry                      retry.Policy
}

func DefaultConfig() Config {
	return Config{
		PageSize:                   connectors.MaxHistoryPageSize,
		PageDelay:                  200 * time.Millisecond,
		MaxIncrementalPages:        5,
		MaxConsecutivePageFailures: 3,
		BaselineMaxOrders:          2000,
		States:                     []string{connectors.OrderStateDone, connectors.OrderStateCancel},
		Retry:                      retry.Default,
	}
}

type SyncResult struct {
	UserID         uint             `json:"user_id"`
	Scope          string           `json:"scope"`
	Mode           string           `json:"mode"`
	Outcome        model.RunOutcome `json:"outcome"`
	SyncedCount    int              `json:"synced_count"`
	Pages          int              `json:"pages"`
	DataErrors     int              `json:"data_errors"`
	Errors         []string         `json:"errors,omitempty"`
	GapDetected    bool             `json:"gap_detected"`
	CursorAdvanced bool             `json:"cursor_advanced"`
}

func (r *SyncResult) addError(err error) {
	r.Errors = append(r.Errors, err.Error())
}

func (r *SyncResult) finish(committed bool) {
	switch {
	case len(r.Errors) == 0 && !r.GapDetected:
		r.Outcome = model.OutcomeSucceeded
	case committed || r.SyncedCount > 0:
		r.Outcome = model.OutcomePartial
	default:
		r.Outcome = model.OutcomeNotExecuted
	}
}

type Syncer struct {
	orders  *repository.OrderRepository
	cursors *repository.SyncCursorRepository
	sources SourceFactory
	cfg     Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSyncer(db *gorm.DB, sources SourceFactory, cfg Config) *Syncer {
	if cfg.PageSize <= 0 || cfg.PageSize > connectors.MaxHistoryPageSize {
		cfg.PageSize = connectors.MaxHistoryPageSize
	}
	if cfg.MaxIncrementalPages <= 0 {
		cfg.MaxIncrementalPages = 1
	}
	if cfg.MaxConsecutivePageFailures <= 0 {
		cfg.MaxConsecutivePageFailures = 1
	}
	if len(cfg.States) == 0 {
		cfg.States = DefaultConfig().States
	}
	return &Syncer{
		orders:  (&repository.OrderRepository{}).WithDB(db),
		cursors: (&repository.SyncCursorRepository{}).WithDB(db),
		sources: sources,
		cfg:     cfg,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func scopeKey(market string) string {
	if market == "" {
		return model.SyncScopeAll
	}
	return market
}

func (s *Syncer) fetchPage(ctx context.Context, src HistorySource, market string, page int) ([]connectors.OrderRecord, error) {
	return retry.Value(ctx, s.cfg.Retry, fmt.Sprintf("order history page %d", page),
		func(ctx context.Context) ([]connectors.OrderRecord, error) {
			return src.GetOrderHistory(ctx, connectors.OrderHistoryQuery{
				Market:  market,
				States:  s.cfg.States,
				Page:    page,
				Limit:   s.cfg.PageSize,
				OrderBy: "desc",
			})
		})
}

// mapRecords converts records to ledger rows, counting unusable ones as data errors.
func mapRecords(records []connectors.OrderRecord, userID uint, res *SyncResult) []model.Order {
	rows := make([]model.Order, 0, len(records))
	for _, rec := range records {
		row, err := mapper.UpbitOrderToLedger(rec, userID)
		if err != nil {
			res.DataErrors++
			res.addError(err)
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func (s *Syncer) source(ctx context.Context, userID uint) (HistorySource, error) {
	src, err := s.sources(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange client for user %d: %v", ErrSyncAborted, userID, err)
	}
	return src, nil
}

// FullSync pages backward through the whole history until a short page or maxOrders.
// Each page commits on its own; a failed page is recorded and skipped. The cursor is
// moved to the newest order of the first page once that page has committed, unless a
// cursor already exists and the stored pages do not reach back to it (or to the end of
// history) without a hole. In that case the cursor stays, the gap is recorded on it and
// ErrGapDetected is returned.
func (s *Syncer) FullSync(ctx context.Context, userID uint, market string, maxOrders int) (SyncResult, error) {
	res := SyncResult{UserID: userID, Scope: scopeKey(market), Mode: ModeFull}
	log := logger.WithFields(map[string]interface{}{
		"component": "ledger",
		"op":        "FullSync",
		"user_id":   userID,
		"scope":     res.Scope,
	})

	src, err := s.source(ctx, userID)
	if err != nil {
		res.addError(err)
		res.finish(false)
		return res, err
	}
	if maxOrders <= 0 {
		maxOrders = s.cfg.BaselineMaxOrders
	}
	prev, err := s.cursors.Get(ctx, userID, res.Scope)
	if err != nil {
		res.addError(err)
		res.finish(false)
		return res, fmt.Errorf("%w: read cursor: %v", ErrSyncAborted, err)
	}
	var prevUUID string
	if prev != nil {
		prevUUID = prev.LastOrderUUID
	}

	var newest string
	var abortErr error
	failures := 0
	// reached: the stored pages meet the previous cursor or the end of history
	reached := prevUUID == ""
	holes := false

	for page := 1; res.SyncedCount < maxOrders; page++ {
		if page > 1 {
			if err := s.sleep(ctx, s.cfg.PageDelay); err != nil {
				abortErr = err
				break
			}
		}

		records, err := s.fetchPage(ctx, src, market, page)
		if err != nil {
			res.addError(err)
			if connectors.IsFatal(err) || ctx.Err() != nil {
				abortErr = err
				break
			}
			if !reached {
				holes = true
			}
			failures++
			if failures >= s.cfg.MaxConsecutivePageFailures {
				abortErr = fmt.Errorf("%d consecutive page failures: %w", failures, err)
				break
			}
			log.WithError(err).WithField("page", page).Warn("page failed, continuing with the next one")
			continue
		}
		failures = 0
		res.Pages++

		if page == 1 && len(records) > 0 {
			newest = records[0].UUID
		}

		take := records
		if left := maxOrders - res.SyncedCount; len(take) > left {
			take = take[:left]
		}
		rows := mapRecords(take, userID, &res)
		if err := s.orders.UpsertBatch(ctx, rows); err != nil {
			// the store is unreachable; nothing more can be committed
			res.addError(err)
			abortErr = err
			if page == 1 {
				newest = ""
			}
			break
		}
		res.SyncedCount += len(rows)

		if !reached && containsOrder(take, prevUUID) {
			reached = true
		}
		if len(records) < s.cfg.PageSize {
			if len(take) == len(records) {
				reached = true
			}
			break
		}
	}

	res.GapDetected = !reached || holes
	switch {
	case res.GapDetected:
		msg := fmt.Sprintf("gap: full sync of %d orders did not reach cursor %s", res.SyncedCount, prevUUID)
		if holes {
			msg = fmt.Sprintf("gap: pages failed before cursor %s was reached", prevUUID)
		}
		res.Errors = append(res.Errors, msg)
		s.recordError(ctx, userID, res.Scope, strings.Join(res.Errors, "; "))
	case newest != "":
		total := int64(res.SyncedCount)
		if prev != nil {
			total += prev.SyncedCount
		}
		if err := s.advanceCursor(ctx, userID, res.Scope, newest, total, res.Errors); err != nil {
			res.addError(err)
			log.WithError(err).Error("failed to store sync cursor")
		} else {
			res.CursorAdvanced = true
		}
	case len(res.Errors) > 0:
		s.recordError(ctx, userID, res.Scope, strings.Join(res.Errors, "; "))
	}

	res.finish(res.SyncedCount > 0)
	entry := log.WithFields(map[string]interface{}{
		"synced":  res.SyncedCount,
		"pages":   res.Pages,
		"errors":  len(res.Errors),
		"outcome": res.Outcome,
	})
	if abortErr != nil {
		entry.WithError(abortErr).Error("full sync aborted")
		return res, fmt.Errorf("%w: %v", ErrSyncAborted, abortErr)
	}
	if res.GapDetected {
		entry.WithField("cursor", prevUUID).Error("full sync did not close the gap")
		return res, ErrGapDetected
	}
	entry.Info("full sync finished")
	return res, nil
}

func containsOrder(records []connectors.OrderRecord, orderUUID string) bool {
	for _, rec := range records {
		if rec.UUID == orderUUID {
			return true
		}
	}
	return false
}

// IncrementalSync fetches newest-first pages until it meets the stored cursor.
// Without a cursor it runs a bounded FullSync to set the baseline. When the cursor is
// not met within MaxIncrementalPages the fetched rows are still stored, the cursor
// stays where it is and ErrGapDetected is returned.
func (s *Syncer) IncrementalSync(ctx context.Context, userID uint, market string) (SyncResult, error) {
	scope := scopeKey(market)
	cursor, err := s.cursors.Get(ctx, userID, scope)
	if err != nil {
		res := SyncResult{UserID: userID, Scope: scope, Mode: ModeIncremental}
		res.addError(err)
		res.finish(false)
		return res, fmt.Errorf("%w: read cursor: %v", ErrSyncAborted, err)
	}
	if cursor == nil || cursor.LastOrderUUID == "" {
		return s.FullSync(ctx, userID, market, s.cfg.BaselineMaxOrders)
	}

	res := SyncResult{UserID: userID, Scope: scope, Mode: ModeIncremental}
	log := logger.WithFields(map[string]interface{}{
		"component": "ledger",
		"op":        "IncrementalSync",
		"user_id":   userID,
		"scope":     scope,
	})

	src, err := s.source(ctx, userID)
	if err != nil {
		res.addError(err)
		res.finish(false)
		return res, err
	}

	var (
		rows     []model.Order
		newest   string
		complete bool
	)
	for page := 1; page <= s.cfg.MaxIncrementalPages; page++ {
		if page > 1 {
			if err := s.sleep(ctx, s.cfg.PageDelay); err != nil {
				res.addError(err)
				res.finish(false)
				return res, fmt.Errorf("%w: %v", ErrSyncAborted, err)
			}
		}

		records, err := s.fetchPage(ctx, src, market, page)
		if err != nil {
			res.addError(err)
			s.recordError(ctx, userID, scope, err.Error())
			res.finish(false)
			log.WithError(err).WithField("page", page).Error("incremental sync aborted")
			return res, fmt.Errorf("%w: %v", ErrSyncAborted, err)
		}
		res.Pages++

		fresh := records
		for i, rec := range records {
			if rec.UUID == cursor.LastOrderUUID {
				fresh = records[:i]
				complete = true
				break
			}
		}
		if page == 1 && len(fresh) > 0 {
			newest = fresh[0].UUID
		}
		rows = append(rows, mapRecords(fresh, userID, &res)...)

		// a short page is the end of history: everything has been seen
		if complete || len(records) < s.cfg.PageSize {
			complete = true
			break
		}
	}

	if len(rows) > 0 {
		if err := s.orders.UpsertBatch(ctx, rows); err != nil {
			res.addError(err)
			res.finish(false)
			log.WithError(err).Error("failed to store incremental batch")
			return res, fmt.Errorf("%w: %v", ErrSyncAborted, err)
		}
		res.SyncedCount = len(rows)
	}

	if !complete {
		res.GapDetected = true
		msg := fmt.Sprintf("gap: cursor %s not found within %d pages", cursor.LastOrderUUID, s.cfg.MaxIncrementalPages)
		res.Errors = append(res.Errors, msg)
		s.recordError(ctx, userID, scope, msg)
		res.finish(res.SyncedCount > 0)
		log.WithField("synced", res.SyncedCount).Warn("incremental sync detected a gap")
		return res, ErrGapDetected
	}

	if newest != "" {
		if err := s.advanceCursor(ctx, userID, scope, newest, cursor.SyncedCount+int64(res.SyncedCount), res.Errors); err != nil {
			res.addError(err)
			log.WithError(err).Error("failed to store sync cursor")
		} else {
			res.CursorAdvanced = true
		}
	}

	res.finish(res.SyncedCount > 0)
	log.WithFields(map[string]interface{}{
		"synced":  res.SyncedCount,
		"pages":   res.Pages,
		"outcome": res.Outcome,
	}).Debug("incremental sync finished")
	return res, nil
}

func (s *Syncer) advanceCursor(ctx context.Context, userID uint, scope, newest string, total int64, errs []string) error {
	now := s.now()
	return s.cursors.Save(ctx, &model.SyncCursor{
		UserID:        userID,
		Scope:         scope,
		LastOrderUUID: newest,
		LastSyncedAt:  &now,
		SyncedCount:   total,
		LastError:     strings.Join(errs, "; "),
	})
}

func (s *Syncer) recordError(ctx context.Context, userID uint, scope, msg string) {
	if err := s.cursors.RecordError(context.WithoutCancel(ctx), userID, scope, msg); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "ledger",
			"user_id":   userID,
			"scope":     scope,
		}).WithError(err).Error("failed to record sync error")
	}
}

// GetSyncStatus returns every cursor of the user.
func (s *Syncer) GetSyncStatus(ctx context.Context, userID uint) ([]model.SyncCursor, error) {
	return s.cursors.ListByUser(ctx, userID)
}
