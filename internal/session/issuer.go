// Package session turns a verified Telegram identity into a persistent
// account and a signed session token.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"minigate/gate-service/internal/breaker"
	"minigate/gate-service/internal/metrics"
	"minigate/gate-service/internal/store"
	"minigate/gate-service/internal/telegram"
)

var (
	// ErrInvalidInitData covers every verification failure; callers never
	// learn which check rejected the payload.
	ErrInvalidInitData = errors.New("invalid telegram init data")
	// ErrUserBlocked marks an account that verified fine but is disabled.
	ErrUserBlocked = errors.New("user is blocked")
	// ErrStoreUnavailable signals a backend outage, not a credential
	// problem. Maps to 503, never 401.
	ErrStoreUnavailable = errors.New("auth store unavailable")
)

// PlaceholderEmailDomain is used to synthesize an email for accounts created
// from a Telegram identity, which carries no email of its own.
const PlaceholderEmailDomain = "miniapp.local"

func placeholderEmail(telegramID string) string {
	return "telegram_" + telegramID + "@" + PlaceholderEmailDomain
}

type Issuer struct {
	verifier *telegram.Verifier
	store    store.Store
	breaker  *breaker.Breaker
	allow    *Allowlist
	keyring  *Keyring

	maxAge     time.Duration
	renewAfter time.Duration

	log     zerolog.Logger
	nowFunc func() time.Time
}

func NewIssuer(verifier *telegram.Verifier, st store.Store, br *breaker.Breaker, allow *Allowlist, kr *Keyring, maxAge, renewAfter time.Duration, log zerolog.Logger) *Issuer {
	return &Issuer{
		verifier:   verifier,
		store:      st,
		breaker:    br,
		allow:      allow,
		keyring:    kr,
		maxAge:     maxAge,
		renewAfter: renewAfter,
		log:        log,
		nowFunc:    time.Now,
	}
}

// Keyring exposes the signing keyring for cookie verification in middleware.
func (i *Issuer) Keyring() *Keyring { return i.keyring }

// RenewAfter reports the sliding-renewal age for session tokens.
func (i *Issuer) RenewAfter() time.Duration { return i.renewAfter }

// Authenticate verifies raw initData, finds or creates the matching account
// and returns it together with a fresh session token.
func (i *Issuer) Authenticate(ctx context.Context, initData string) (*store.User, string, error) {
	ident, ok := i.verifier.Verify(initData)
	if !ok {
		metrics.AuthAttempts.WithLabelValues("rejected").Inc()
		return nil, "", ErrInvalidInitData
	}

	u, err := i.resolveUser(ctx, ident)
	if err != nil {
		if errors.Is(err, ErrUserBlocked) {
			metrics.AuthAttempts.WithLabelValues("blocked").Inc()
			return nil, "", err
		}
		metrics.AuthAttempts.WithLabelValues("store_error").Inc()
		return nil, "", err
	}

	tok, err := i.keyring.Sign(u.ID, string(u.Role), i.maxAge)
	if err != nil {
		return nil, "", fmt.Errorf("sign session: %w", err)
	}
	metrics.AuthAttempts.WithLabelValues("ok").Inc()
	metrics.SessionsIssued.Inc()
	i.log.Info().
		Str("user_id", u.ID).
		Str("role", string(u.Role)).
		Msg("session issued")
	return u, tok, nil
}

// Reissue signs a new token for an already verified session, refreshing the
// role from the claims supplied by the caller.
func (i *Issuer) Reissue(uid, role string) (string, error) {
	return i.keyring.Sign(uid, role, i.maxAge)
}

// RefreshClaims reloads the account behind a session so role and status
// changes take effect without waiting for token expiry.
func (i *Issuer) RefreshClaims(ctx context.Context, uid string) (*store.User, error) {
	var u *store.User
	err := i.breaker.Do(func() error {
		var err error
		u, err = i.store.GetUserByID(ctx, uid)
		if errors.Is(err, store.ErrUserNotFound) {
			u = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if u == nil {
		return nil, store.ErrUserNotFound
	}
	if u.Status == store.StatusBlocked {
		return nil, ErrUserBlocked
	}
	return u, nil
}

// resolveUser finds the account for a verified identity, creating or linking
// it as needed. Store failures trip the circuit; a missing record does not.
func (i *Issuer) resolveUser(ctx context.Context, ident *telegram.Identity) (*store.User, error) {
	tgID := strconv.FormatInt(ident.ID, 10)
	now := i.nowFunc()

	u, err := i.getByTelegramID(ctx, tgID)
	if err != nil {
		return nil, err
	}

	if u == nil {
		// An account created through another channel may already hold the
		// placeholder email. Link it instead of colliding on insert.
		u, err = i.getByEmail(ctx, placeholderEmail(tgID))
		if err != nil {
			return nil, err
		}
	}

	if u == nil {
		created, err := i.createUser(ctx, ident, tgID, now)
		if err != nil {
			return nil, err
		}
		return created, nil
	}

	if u.Status == store.StatusBlocked {
		return nil, ErrUserBlocked
	}

	u.Name = ident.Name()
	u.TelegramID = tgID
	u.TelegramFirstName = ident.FirstName
	u.TelegramUsername = ident.Username
	u.TelegramPhoto = ident.PhotoURL
	if u.TelegramLinkedAt == nil {
		u.TelegramLinkedAt = &now
	}
	u.LastLoginAt = &now
	if i.allow.IsPrivileged(ident.ID) && u.Role != store.RoleAdmin {
		u.Role = store.RoleAdmin
	}

	if err := i.updateLogin(ctx, u); err != nil {
		return nil, err
	}
	i.audit(ctx, u.ID, "telegram_login", "telegram_id="+tgID)
	return u, nil
}

func (i *Issuer) createUser(ctx context.Context, ident *telegram.Identity, tgID string, now time.Time) (*store.User, error) {
	role := store.RoleUser
	if i.allow.IsPrivileged(ident.ID) {
		role = store.RoleAdmin
	}
	u := &store.User{
		Email:             placeholderEmail(tgID),
		Name:              ident.Name(),
		TelegramID:        tgID,
		TelegramFirstName: ident.FirstName,
		TelegramUsername:  ident.Username,
		TelegramPhoto:     ident.PhotoURL,
		TelegramLinkedAt:  &now,
		LastLoginAt:       &now,
		Role:              role,
		Status:            store.StatusActive,
	}

	var dup bool
	err := i.breaker.Do(func() error {
		err := i.store.CreateUser(ctx, u)
		if errors.Is(err, store.ErrDuplicate) {
			dup = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if dup {
		// Concurrent login created the row first; adopt it.
		existing, err := i.getByTelegramID(ctx, tgID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: duplicate without matching account", ErrStoreUnavailable)
		}
		return existing, nil
	}

	i.audit(ctx, u.ID, "telegram_signup", "telegram_id="+tgID)
	return u, nil
}

func (i *Issuer) getByTelegramID(ctx context.Context, tgID string) (*store.User, error) {
	var u *store.User
	err := i.breaker.Do(func() error {
		var err error
		u, err = i.store.GetUserByTelegramID(ctx, tgID)
		if errors.Is(err, store.ErrUserNotFound) {
			u = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return u, nil
}

func (i *Issuer) getByEmail(ctx context.Context, email string) (*store.User, error) {
	var u *store.User
	err := i.breaker.Do(func() error {
		var err error
		u, err = i.store.GetUserByEmail(ctx, email)
		if errors.Is(err, store.ErrUserNotFound) {
			u = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return u, nil
}

func (i *Issuer) updateLogin(ctx context.Context, u *store.User) error {
	err := i.breaker.Do(func() error {
		return i.store.UpdateUserLogin(ctx, u)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// audit writes best-effort; a failed audit insert never fails the login.
func (i *Issuer) audit(ctx context.Context, userID, action, details string) {
	if err := i.store.AppendAudit(ctx, store.AuditEntry{
		UserID:  userID,
		Action:  action,
		Details: details,
	}); err != nil {
		i.log.Warn().Err(err).Str("action", action).Msg("audit append failed")
	}
}
