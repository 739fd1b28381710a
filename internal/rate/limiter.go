// Package rate implements fixed-window request limiting keyed by client IP.
package rate

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"minigate/gate-service/internal/metrics"
)

// Result describes one admission decision. ResetAt is the end of the current
// window regardless of outcome.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfterSec returns the whole seconds until the window resets, rounded
// up, never below 1.
func (r Result) RetryAfterSec(now time.Time) int {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 1
	}
	sec := int((d + time.Second - 1) / time.Second)
	if sec < 1 {
		sec = 1
	}
	return sec
}

// Backend tracks per-key counters. Incr starts a new window when the current
// one has lapsed and returns the count within the active window.
type Backend interface {
	Incr(ctx context.Context, key string, window time.Duration, now time.Time) (count int64, resetAt time.Time, err error)
}

type Limiter struct {
	tier    string
	limit   int
	window  time.Duration
	backend Backend

	log     zerolog.Logger
	nowFunc func() time.Time
}

func NewLimiter(tier string, limit int, window time.Duration, backend Backend, log zerolog.Logger) *Limiter {
	return &Limiter{
		tier:    tier,
		limit:   limit,
		window:  window,
		backend: backend,
		log:     log,
		nowFunc: time.Now,
	}
}

func (l *Limiter) Limit() int { return l.limit }

// Allow counts one request against key. A backend failure admits the request
// so a degraded counter store cannot take down traffic.
func (l *Limiter) Allow(ctx context.Context, key string) Result {
	now := l.nowFunc()
	count, resetAt, err := l.backend.Incr(ctx, l.tier+":"+key, l.window, now)
	if err != nil {
		l.log.Warn().Err(err).Str("tier", l.tier).Msg("rate backend failed, admitting request")
		return Result{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: now.Add(l.window)}
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	allowed := int(count) <= l.limit
	if !allowed {
		metrics.RateLimitHits.WithLabelValues(l.tier).Inc()
	}
	return Result{Allowed: allowed, Limit: l.limit, Remaining: remaining, ResetAt: resetAt}
}

// SetHeaders writes the standard X-RateLimit trio.
func SetHeaders(h interface{ Set(string, string) }, res Result) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}
