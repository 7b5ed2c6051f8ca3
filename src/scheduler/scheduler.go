// Package scheduler drives the ledger sync timer and one cycle timer per trading user.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"coinpulse/src/ledger"
	"coinpulse/src/model"
	"coinpulse/src/notify"
	"coinpulse/src/trading"
)

// ErrSyncInProgress is returned by SyncAll while another sync pass runs.
var ErrSyncInProgress = errors.New("ledger sync already running")

type Syncer interface {
	FullSync(ctx context.Context, userID uint, market string, maxOrders int) (ledger.SyncResult, error)
	IncrementalSync(ctx context.Context, userID uint, market string) (ledger.SyncResult, error)
}

// CycleRunner is one user's trading cycle. *trading.Orchestrator satisfies it.
type CycleRunner interface {
	RunCycle(ctx context.Context) (trading.CycleReport, error)
	State() trading.CycleState
}

type RunnerFactory func(ctx context.Context, userID uint) (CycleRunner, error)

type UserLister func(ctx context.Context) ([]uint, error)

type ExceptionCapturer interface {
	Capture(ctx context.Context, service, module, method, level string, userID uint, err error, contextData map[string]interface{})
}

type Config struct {
	SyncInterval        time.Duration
	FullSyncInterval    time.Duration
	FullSyncMaxOrders   int
	SyncTimeout         time.Duration
	CycleInterval       time.Duration
	CycleTimeout        time.Duration
	UserRefreshInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		SyncInterval:        time.Minute,
		FullSyncInterval:    24 * time.Hour,
		FullSyncMaxOrders:   2000,
		SyncTimeout:         5 * time.Minute,
		CycleInterval:       time.Minute,
		CycleTimeout:        2 * time.Minute,
		UserRefreshInterval: 5 * time.Minute,
	}
}

type Deps struct {
	Syncer       Syncer
	Runners      RunnerFactory
	SyncUsers    UserLister // users with exchange credentials
	TradingUsers UserLister // users with trading enabled
	Notifier     notify.Notifier
	Exceptions   ExceptionCapturer
}

type worker struct {
	userID  uint
	runner  CycleRunner
	cancel  context.CancelFunc
	trigger chan struct{}

	mu   sync.Mutex
	last *trading.CycleReport
}

type Scheduler struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	workers map[uint]*worker
	// one guard per user, shared by scheduled and manual cycles
	cycleLocks map[uint]*sync.Mutex

	syncMu      sync.Mutex
	syncTrigger chan struct{}
	fullMu      sync.Mutex
	lastFull    map[uint]time.Time

	wg  sync.WaitGroup
	now func() time.Time
}

func New(cfg Config, deps Deps) *Scheduler {
	if deps.Notifier == nil {
		deps.Notifier = notify.LogNotifier{}
	}
	return &Scheduler{
		cfg:         cfg,
		deps:        deps,
		workers:     make(map[uint]*worker),
		cycleLocks:  make(map[uint]*sync.Mutex),
		syncTrigger: make(chan struct{}, 1),
		lastFull:    make(map[uint]time.Time),
		now:         time.Now,
	}
}

// Start launches the sync loop and the user refresh loop. Everything stops when ctx is done;
// Wait blocks until it has.
func (s *Scheduler) Start(ctx context.Context) {
	logger.WithFields(map[string]interface{}{
		"component":      "Scheduler",
		"sync_interval":  s.cfg.SyncInterval.String(),
		"cycle_interval": s.cfg.CycleInterval.String(),
	}).Info("scheduler starting")

	s.RefreshUsers(ctx)

	s.wg.Add(2)
	go s.syncLoop(ctx)
	go s.refreshLoop(ctx)
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) syncLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		if _, err := s.SyncAll(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			logger.WithField("component", "Scheduler").WithError(err).Error("ledger sync pass failed")
		}
		select {
		case <-ctx.Done():
			logger.WithField("component", "Scheduler").Info("sync loop stopped")
			return
		case <-ticker.C:
		case <-s.syncTrigger:
		}
	}
}

func (s *Scheduler) refreshLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.UserRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopWorkers()
			return
		case <-ticker.C:
			s.RefreshUsers(ctx)
		}
	}
}

// TriggerIncrementalSync asks the sync loop for an immediate pass. It reports false
// when a request is already pending.
func (s *Scheduler) TriggerIncrementalSync() bool {
	select {
	case s.syncTrigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// SyncAll runs an incremental sync for every user with credentials. A gap escalates
// to a full sync right away; otherwise a full sync runs once per FullSyncInterval.
// One user's failure never stops the others.
func (s *Scheduler) SyncAll(ctx context.Context) ([]ledger.SyncResult, error) {
	if !s.syncMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.syncMu.Unlock()

	users, err := s.deps.SyncUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sync users: %w", err)
	}

	var results []ledger.SyncResult
	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		results = append(results, s.syncUser(ctx, userID)...)
	}
	return results, nil
}

func (s *Scheduler) syncUser(ctx context.Context, userID uint) (results []ledger.SyncResult) {
	log := logger.WithFields(map[string]interface{}{
		"component": "Scheduler",
		"op":        "syncUser",
		"user_id":   userID,
	})
	defer s.recoverPanic(ctx, "syncUser", userID)

	ctx, cancel := s.withTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()

	res, err := s.deps.Syncer.IncrementalSync(ctx, userID, "")
	results = append(results, res)

	needFull := false
	switch {
	case errors.Is(err, ledger.ErrGapDetected):
		log.Warn("gap detected, running full sync")
		s.deps.Notifier.Notify(ctx, userID, notify.EventSyncGapDetected, map[string]interface{}{
			"synced_count": res.SyncedCount,
			"pages":        res.Pages,
		})
		needFull = true
	case err != nil:
		log.WithError(err).Error("incremental sync failed")
		return results
	case res.Mode == ledger.ModeFull:
		// first run established the baseline
		s.markFull(userID)
	default:
		needFull = s.fullSyncDue(userID)
	}
	if !needFull {
		return results
	}

	full, err := s.deps.Syncer.FullSync(ctx, userID, "", s.cfg.FullSyncMaxOrders)
	results = append(results, full)
	if err != nil {
		log.WithError(err).Error("full sync failed")
		return results
	}
	s.markFull(userID)
	return results
}

// fullSyncDue reports whether the periodic full sync is due. A user seen for the first
// time starts the interval now.
func (s *Scheduler) fullSyncDue(userID uint) bool {
	if s.cfg.FullSyncInterval <= 0 {
		return false
	}
	s.fullMu.Lock()
	defer s.fullMu.Unlock()
	last, ok := s.lastFull[userID]
	if !ok {
		s.lastFull[userID] = s.now()
		return false
	}
	return s.now().Sub(last) >= s.cfg.FullSyncInterval
}

func (s *Scheduler) markFull(userID uint) {
	s.fullMu.Lock()
	s.lastFull[userID] = s.now()
	s.fullMu.Unlock()
}

// RefreshUsers starts a cycle worker for every newly enabled user and stops the
// workers of users no longer enabled.
func (s *Scheduler) RefreshUsers(ctx context.Context) {
	log := logger.WithField("component", "Scheduler")
	users, err := s.deps.TradingUsers(ctx)
	if err != nil {
		log.WithError(err).Error("list trading users failed, keeping current workers")
		return
	}

	wanted := make(map[uint]bool, len(users))
	for _, id := range users {
		wanted[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.workers {
		if !wanted[id] {
			w.cancel()
			delete(s.workers, id)
			log.WithField("user_id", id).Info("cycle worker stopped")
		}
	}
	for _, id := range users {
		if _, ok := s.workers[id]; ok {
			continue
		}
		runner, err := s.deps.Runners(ctx, id)
		if err != nil {
			log.WithField("user_id", id).WithError(err).Error("cannot build trading cycle")
			continue
		}
		wctx, cancel := context.WithCancel(ctx)
		w := &worker{userID: id, runner: runner, cancel: cancel, trigger: make(chan struct{}, 1)}
		s.workers[id] = w
		s.wg.Add(1)
		go s.runWorker(wctx, w)
		log.WithField("user_id", id).Info("cycle worker started")
	}
}

func (s *Scheduler) stopWorkers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.workers {
		w.cancel()
		delete(s.workers, id)
	}
}

func (s *Scheduler) runWorker(ctx context.Context, w *worker) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.trigger:
		}
		if _, err := s.runCycle(ctx, w); err != nil && !errors.Is(err, trading.ErrCycleInProgress) {
			logger.WithFields(map[string]interface{}{
				"component": "Scheduler",
				"user_id":   w.userID,
			}).WithError(err).Warn("cycle not executed")
		}
	}
}

func (s *Scheduler) cycleLock(userID uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.cycleLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.cycleLocks[userID] = l
	}
	return l
}

// runCycle runs one cycle of w unless another cycle of the same user is in flight,
// whichever runner that one uses.
func (s *Scheduler) runCycle(ctx context.Context, w *worker) (report trading.CycleReport, err error) {
	lock := s.cycleLock(w.userID)
	if !lock.TryLock() {
		return trading.CycleReport{UserID: w.userID, Outcome: model.OutcomeNotExecuted}, trading.ErrCycleInProgress
	}
	defer lock.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
			s.capture(ctx, "runCycle", w.userID, err)
			report.Outcome = model.OutcomeNotExecuted
		}
	}()

	ctx, cancel := s.withTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	report, err = w.runner.RunCycle(ctx)
	if err == nil {
		w.mu.Lock()
		w.last = &report
		w.mu.Unlock()
	}
	return report, err
}

// TriggerManualCycle runs one cycle for userID now and returns its report. Users without
// a worker get a fresh runner. Either way it returns trading.ErrCycleInProgress while
// another cycle of the user runs.
func (s *Scheduler) TriggerManualCycle(ctx context.Context, userID uint) (trading.CycleReport, error) {
	s.mu.Lock()
	w, ok := s.workers[userID]
	s.mu.Unlock()

	if !ok {
		runner, err := s.deps.Runners(ctx, userID)
		if err != nil {
			return trading.CycleReport{UserID: userID, Outcome: model.OutcomeNotExecuted}, err
		}
		w = &worker{userID: userID, runner: runner}
	}
	return s.runCycle(ctx, w)
}

type WorkerStatus struct {
	UserID     uint                 `json:"user_id"`
	State      string               `json:"state"`
	LastReport *trading.CycleReport `json:"last_report,omitempty"`
}

func (s *Scheduler) Status() []WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerStatus, 0, len(s.workers))
	for _, w := range s.workers {
		w.mu.Lock()
		st := WorkerStatus{UserID: w.userID, State: w.runner.State().String(), LastReport: w.last}
		w.mu.Unlock()
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (s *Scheduler) recoverPanic(ctx context.Context, method string, userID uint) {
	if r := recover(); r != nil {
		s.capture(ctx, method, userID, fmt.Errorf("panic: %v", r))
	}
}

func (s *Scheduler) capture(ctx context.Context, method string, userID uint, err error) {
	logger.WithFields(map[string]interface{}{
		"component": "Scheduler",
		"op":        method,
		"user_id":   userID,
	}).WithError(err).Error("recovered from panic")
	if s.deps.Exceptions != nil {
		s.deps.Exceptions.Capture(context.WithoutCancel(ctx), "scheduler", "Scheduler", method, "panic", userID, err, nil)
	}
}
