package connectors

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter is the request budget shared by every goroutine talking to the exchange.
// A token bucket paces requests; 429 answers and a drained Remaining-Req header
// pause everyone until the window passes.
type RateLimiter struct {
	limiter *rate.Limiter

	mu          sync.Mutex
	pausedUntil time.Time
	basePenalty time.Duration
	penalty     time.Duration
	maxPause    time.Duration
	now         func() time.Time
}

func NewRateLimiter(perSecond float64, burst int, penalty, maxPause time.Duration) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	if penalty <= 0 {
		penalty = time.Second
	}
	if maxPause < penalty {
		maxPause = penalty
	}
	return &RateLimiter{
		limiter:     rate.NewLimiter(rate.Limit(perSecond), burst),
		basePenalty: penalty,
		penalty:     penalty,
		maxPause:    maxPause,
		now:         time.Now,
	}
}

var (
	sharedLimiterOnce sync.Once
	sharedLimiter     *RateLimiter
)

// SharedRateLimiter returns the process-wide limiter built from env config.
func SharedRateLimiter() *RateLimiter {
	sharedLimiterOnce.Do(func() {
		cfg := GetConfig()
		sharedLimiter = NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, cfg.RateLimitPenalty, cfg.RateLimitMaxPause)
	})
	return sharedLimiter
}

// Wait blocks until a request may be sent or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if d := rl.pauseLeft(); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return rl.limiter.Wait(ctx)
}

func (rl *RateLimiter) pauseLeft() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.pausedUntil.Sub(rl.now())
}

// OnRateLimited pauses all callers; consecutive 429s double the pause up to maxPause.
func (rl *RateLimiter) OnRateLimited() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	until := rl.now().Add(rl.penalty)
	if until.After(rl.pausedUntil) {
		rl.pausedUntil = until
	}
	logger.WithFields(map[string]interface{}{
		"component": "rate_limiter",
		"pause":     rl.penalty.String(),
	}).Warn("exchange answered 429, pausing requests")

	rl.penalty *= 2
	if rl.penalty > rl.maxPause {
		rl.penalty = rl.maxPause
	}
}

// UpdateFromHeader reads the Remaining-Req header ("group=default; min=1799; sec=29").
// When the per-second allowance is spent the limiter waits for the next second.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	sec, ok := parseRemainingSec(headerValue)
	if !ok {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// a successful answer ends the 429 escalation
	rl.penalty = rl.basePenalty

	if sec <= 0 {
		until := rl.now().Truncate(time.Second).Add(time.Second)
		if until.After(rl.pausedUntil) {
			rl.pausedUntil = until
		}
	}
}

func parseRemainingSec(headerValue string) (int, bool) {
	for _, part := range strings.Split(headerValue, ";") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || k != "sec" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
