// Package api implements the auth endpoints served by the gate itself; all
// other routes pass through to the storefront upstream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"minigate/gate-service/internal/bruteforce"
	"minigate/gate-service/internal/config"
	"minigate/gate-service/internal/csrf"
	"minigate/gate-service/internal/httputil"
	"minigate/gate-service/internal/session"
	"minigate/gate-service/internal/store"
	"minigate/gate-service/internal/telegram"
)

type Handler struct {
	cfg       *config.Config
	issuer    *session.Issuer
	verifier  *telegram.Verifier
	users     store.UserRepository
	csrfGuard *csrf.Guard
	lockouts  *bruteforce.Guard
	readiness func(ctx context.Context) error

	log zerolog.Logger
}

func NewHandler(cfg *config.Config, issuer *session.Issuer, verifier *telegram.Verifier,
	users store.UserRepository, csrfGuard *csrf.Guard, lockouts *bruteforce.Guard,
	readiness func(ctx context.Context) error, log zerolog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		issuer:    issuer,
		verifier:  verifier,
		users:     users,
		csrfGuard: csrfGuard,
		lockouts:  lockouts,
		readiness: readiness,
		log:       log,
	}
}

// Register wires the handler's routes into mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/telegram", h.AuthTelegram)
	mux.HandleFunc("GET /api/telegram/me", h.Me)
	mux.HandleFunc("GET /api/csrf-token", h.CSRFToken)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

type authRequest struct {
	InitData string `json:"initData"`
}

type userPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
	Photo    string `json:"photo,omitempty"`
	Role     string `json:"role"`
}

func userToPayload(u *store.User) userPayload {
	return userPayload{
		ID:       u.ID,
		Name:     u.Name,
		Username: u.TelegramUsername,
		Photo:    u.TelegramPhoto,
		Role:     string(u.Role),
	}
}

// AuthTelegram exchanges a Telegram initData payload for a session cookie,
// creating the account on first login. Failures count toward the address
// lockout the gate enforces.
func (h *Handler) AuthTelegram(w http.ResponseWriter, r *http.Request) {
	ip := httputil.ClientIPFromHeadersWithTrustedProxies(r, httputil.GetTrustedProxies(r.Context()))

	initData := telegram.InitDataFromRequest(r)
	if initData == "" && r.Body != nil {
		var req authRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err == nil {
			initData = req.InitData
		}
	}
	if initData == "" {
		h.lockouts.Fail(r.Context(), ip)
		httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		return
	}

	u, tok, err := h.issuer.Authenticate(r.Context(), initData)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrInvalidInitData):
		h.lockouts.Fail(r.Context(), ip)
		httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		return
	case errors.Is(err, session.ErrUserBlocked):
		httputil.WriteJSON(w, http.StatusForbidden, map[string]string{"error": "Account disabled"})
		return
	case errors.Is(err, session.ErrStoreUnavailable):
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Authentication service unavailable"})
		return
	default:
		logger := httputil.GetLogger(r.Context())
		logger.Error().Err(err).Msg("authenticate failed")
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
		return
	}

	h.lockouts.Success(r.Context(), ip)
	http.SetCookie(w, httputil.BuildSessionCookie(h.cfg, tok))
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"user":      userToPayload(u),
		"expiresIn": h.cfg.Session.MaxAgeSec,
	})
}

// Me verifies initData without issuing a session and reports the linked
// account, if any. The storefront uses it to render the profile shell before
// login completes.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	initData := telegram.InitDataFromRequest(r)
	ident, ok := h.verifier.Verify(initData)
	if !ok {
		httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		return
	}

	resp := map[string]any{
		"telegramId": strconv.FormatInt(ident.ID, 10),
		"name":       ident.Name(),
		"username":   ident.Username,
		"photo":      ident.PhotoURL,
		"registered": false,
	}
	u, err := h.users.GetUserByTelegramID(r.Context(), strconv.FormatInt(ident.ID, 10))
	if err == nil {
		resp["registered"] = true
		resp["user"] = userToPayload(u)
	} else if !errors.Is(err, store.ErrUserNotFound) {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Authentication service unavailable"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// CSRFToken mints the double-submit pair: the token goes out both as a
// readable cookie and in the body.
func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	tok, err := csrf.NewToken()
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
		return
	}
	http.SetCookie(w, h.csrfGuard.Cookie(tok))
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"csrfToken": tok})
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.readiness != nil {
		if err := h.readiness(r.Context()); err != nil {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
