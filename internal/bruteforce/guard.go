// Package bruteforce locks out clients that fail authentication repeatedly.
package bruteforce

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"minigate/gate-service/internal/metrics"
)

// Status reports the lockout state for one key.
type Status struct {
	Locked      bool
	LockedUntil time.Time
	Failures    int
}

// RemainingMinutes returns whole minutes until unlock, rounded up, never
// below 1 while locked.
func (s Status) RemainingMinutes(now time.Time) int {
	d := s.LockedUntil.Sub(now)
	if d <= 0 {
		return 1
	}
	m := int((d + time.Minute - 1) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}

type Backend interface {
	// Fail counts a failure and returns the resulting status. The backend
	// sets LockedUntil once failures reach threshold.
	Fail(ctx context.Context, key string, now time.Time, threshold int, lockout time.Duration) (Status, error)
	Status(ctx context.Context, key string, now time.Time) (Status, error)
	Reset(ctx context.Context, key string) error
}

type Guard struct {
	threshold int
	lockout   time.Duration
	backend   Backend

	log     zerolog.Logger
	nowFunc func() time.Time
}

func NewGuard(threshold int, lockout time.Duration, backend Backend, log zerolog.Logger) *Guard {
	return &Guard{
		threshold: threshold,
		lockout:   lockout,
		backend:   backend,
		log:       log,
		nowFunc:   time.Now,
	}
}

// Check reports the current status without counting anything. Backend
// failures report unlocked so a degraded counter store cannot lock everyone
// out.
func (g *Guard) Check(ctx context.Context, key string) Status {
	st, err := g.backend.Status(ctx, key, g.nowFunc())
	if err != nil {
		g.log.Warn().Err(err).Msg("lockout backend failed on check")
		return Status{}
	}
	return st
}

// Fail records one failed attempt and returns the updated status.
func (g *Guard) Fail(ctx context.Context, key string) Status {
	st, err := g.backend.Fail(ctx, key, g.nowFunc(), g.threshold, g.lockout)
	if err != nil {
		g.log.Warn().Err(err).Msg("lockout backend failed on record")
		return Status{}
	}
	if st.Locked && st.Failures == g.threshold {
		metrics.Lockouts.Inc()
		g.log.Warn().
			Int("failures", st.Failures).
			Time("locked_until", st.LockedUntil).
			Msg("client locked out")
	}
	return st
}

// Success clears the failure count after a successful authentication.
func (g *Guard) Success(ctx context.Context, key string) {
	if err := g.backend.Reset(ctx, key); err != nil {
		g.log.Warn().Err(err).Msg("lockout backend failed on reset")
	}
}
