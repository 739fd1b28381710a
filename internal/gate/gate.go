// Package gate sequences the per-request security checks and short-circuits
// on the first deny.
package gate

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"minigate/gate-service/internal/bruteforce"
	"minigate/gate-service/internal/config"
	"minigate/gate-service/internal/cors"
	"minigate/gate-service/internal/csrf"
	"minigate/gate-service/internal/httputil"
	"minigate/gate-service/internal/ipfilter"
	"minigate/gate-service/internal/metrics"
	"minigate/gate-service/internal/rate"
	"minigate/gate-service/internal/session"
	"minigate/gate-service/internal/store"
	"minigate/gate-service/internal/telegram"
)

// deny is a terminal gate outcome. Exactly one of body or plain is set.
type deny struct {
	step       string
	status     int
	body       any
	plain      string
	retryAfter int
	rateRes    *rate.Result
}

type Gate struct {
	cfg           *config.Config
	filter        *ipfilter.Filter
	lockouts      *bruteforce.Guard
	apiLimiter    *rate.Limiter
	globalLimiter *rate.Limiter
	csrfGuard     *csrf.Guard
	origins       *cors.Guard
	issuer        *session.Issuer

	ipHashKey []byte
	log       zerolog.Logger
	nowFunc   func() time.Time
}

func New(cfg *config.Config, filter *ipfilter.Filter, lockouts *bruteforce.Guard,
	apiLimiter, globalLimiter *rate.Limiter, csrfGuard *csrf.Guard,
	origins *cors.Guard, issuer *session.Issuer, ipHashKey []byte, log zerolog.Logger) *Gate {
	return &Gate{
		cfg:           cfg,
		filter:        filter,
		lockouts:      lockouts,
		apiLimiter:    apiLimiter,
		globalLimiter: globalLimiter,
		csrfGuard:     csrfGuard,
		origins:       origins,
		issuer:        issuer,
		ipHashKey:     ipHashKey,
		log:           log,
		nowFunc:       time.Now,
	}
}

// Lockouts exposes the brute-force guard so auth handlers can record
// failures against the same state the gate checks.
func (g *Gate) Lockouts() *bruteforce.Guard { return g.lockouts }

var staticPrefixes = []string{"/static/", "/assets/", "/_app/", "/uploads/"}

func isStaticAsset(path string) bool {
	if path == "/favicon.ico" || path == "/robots.txt" {
		return true
	}
	for _, p := range staticPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func hasPrefix(prefixes []string, path string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isAPIPath(path string) bool { return strings.HasPrefix(path, "/api") }

func (g *Gate) isAuthRoute(path string) bool {
	return hasPrefix(g.cfg.Routes.AuthPrefixes, path)
}

func (g *Gate) isProtected(path string) bool {
	return hasPrefix(g.cfg.Routes.ProtectedPrefixes, path)
}

func newNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return base64.RawStdEncoding.EncodeToString(buf)
}

func securityHeaders(h http.Header, nonce string) {
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("X-DNS-Prefetch-Control", "off")
	if nonce != "" {
		h.Set("Content-Security-Policy",
			"default-src 'self'; script-src 'self' 'nonce-"+nonce+"' https://telegram.org; "+
				"frame-ancestors https://web.telegram.org https://telegram.org; "+
				"connect-src 'self' https://api.telegram.org")
	}
}

// Middleware runs the check chain in front of next. Order: preflight and
// static assets skip everything, then platform check, IP filter, lockout on
// auth routes, rate tiers, CSRF on mutating requests, CORS annotation, and
// finally session resolution on protected routes.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := g.nowFunc()
		if g.origins.Preflight(w, r) {
			return
		}
		// Identity headers are minted here; client-supplied values must
		// never survive.
		r.Header.Del("X-User-ID")
		r.Header.Del("X-User-Role")
		r.Header.Del("x-nonce")

		path := r.URL.Path
		if isStaticAsset(path) {
			next.ServeHTTP(w, r)
			return
		}

		ip := httputil.ClientIPFromHeadersWithTrustedProxies(r, httputil.GetTrustedProxies(r.Context()))

		if d := g.check(r, ip, path); d != nil {
			g.writeDeny(w, r, ip, *d)
			metrics.GateDuration.Observe(g.nowFunc().Sub(start).Seconds())
			return
		}

		g.origins.Apply(w, r)
		nonce := newNonce()
		securityHeaders(w.Header(), nonce)
		if nonce != "" {
			r.Header.Set("x-nonce", nonce)
		}

		if g.isProtected(path) {
			u, d := g.resolveSession(w, r)
			if d != nil {
				g.writeDeny(w, r, ip, *d)
				metrics.GateDuration.Observe(g.nowFunc().Sub(start).Seconds())
				return
			}
			r.Header.Set("X-User-ID", u.ID)
			r.Header.Set("X-User-Role", string(u.Role))
		}

		metrics.GateDecision.WithLabelValues("gate", "allow").Inc()
		metrics.GateDuration.Observe(g.nowFunc().Sub(start).Seconds())
		next.ServeHTTP(w, r)
	})
}

func (g *Gate) check(r *http.Request, ip, path string) *deny {
	if !telegram.AllowedPlatform(r, g.cfg.Modes.StrictMobile) {
		return &deny{step: "platform", status: http.StatusForbidden,
			body: map[string]string{"error": "Access denied"}}
	}

	if g.cfg.Modes.IPFiltering && !g.filter.Allowed(ip) {
		d := &deny{step: "ipfilter", status: http.StatusForbidden}
		if isAPIPath(path) {
			d.body = map[string]string{"error": "Forbidden"}
		} else {
			d.plain = "Forbidden"
		}
		return d
	}

	if g.cfg.Modes.BruteForce && g.isAuthRoute(path) {
		st := g.lockouts.Check(r.Context(), ip)
		if st.Locked {
			now := g.nowFunc()
			retryAfter := int(st.LockedUntil.Sub(now) / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			return &deny{
				step:       "lockout",
				status:     http.StatusTooManyRequests,
				retryAfter: retryAfter,
				body: map[string]any{
					"error":            "Too many failed attempts",
					"lockedUntil":      st.LockedUntil.UTC().Format(time.RFC3339),
					"remainingMinutes": st.RemainingMinutes(now),
				},
			}
		}
	}

	if g.cfg.Modes.RateLimiting {
		res := g.globalLimiter.Allow(r.Context(), ip)
		if !res.Allowed {
			return g.throttle("rate_global", res)
		}
		if isAPIPath(path) && !hasPrefix(g.cfg.Routes.RateSkipPrefixes, path) {
			res := g.apiLimiter.Allow(r.Context(), ip)
			if !res.Allowed {
				return g.throttle("rate_api", res)
			}
		}
	}

	if !g.csrfGuard.Check(r) {
		return &deny{step: "csrf", status: http.StatusForbidden,
			body: map[string]string{"error": "CSRF Token Invalid"}}
	}
	return nil
}

func (g *Gate) throttle(step string, res rate.Result) *deny {
	return &deny{
		step:       step,
		status:     http.StatusTooManyRequests,
		retryAfter: res.RetryAfterSec(g.nowFunc()),
		body:       map[string]string{"error": "Too many requests"},
		rateRes:    &res,
	}
}

// resolveSession verifies the session cookie on a protected route, refreshes
// role and status from the store and re-issues an aged cookie.
func (g *Gate) resolveSession(w http.ResponseWriter, r *http.Request) (*store.User, *deny) {
	cookie, err := r.Cookie(g.cfg.Cookie.Name)
	if err != nil || cookie.Value == "" {
		return nil, g.unauthenticated(r)
	}

	claims, fresh, err := g.issuer.Keyring().Verify(cookie.Value, g.issuer.RenewAfter())
	if err != nil || claims == nil {
		return nil, g.unauthenticated(r)
	}

	u, err := g.issuer.RefreshClaims(r.Context(), claims.UID)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrStoreUnavailable):
		return nil, &deny{step: "session", status: http.StatusServiceUnavailable,
			body: map[string]string{"error": "Authentication service unavailable"}}
	default:
		return nil, g.unauthenticated(r)
	}

	if !fresh || string(u.Role) != claims.Role {
		if tok, err := g.issuer.Reissue(u.ID, string(u.Role)); err == nil {
			http.SetCookie(w, httputil.BuildSessionCookie(g.cfg, tok))
		}
	}
	return u, nil
}

// unauthenticated redirects page navigation to the login flow; API callers
// get a structured 401.
func (g *Gate) unauthenticated(r *http.Request) *deny {
	if isAPIPath(r.URL.Path) {
		return &deny{step: "session", status: http.StatusUnauthorized,
			body: map[string]string{"error": "Unauthorized"}}
	}
	return &deny{step: "session", status: http.StatusFound}
}

func (g *Gate) writeDeny(w http.ResponseWriter, r *http.Request, ip string, d deny) {
	metrics.GateDecision.WithLabelValues(d.step, "deny").Inc()

	// API callers in the webview need to read structured deny bodies
	// cross-origin.
	if isAPIPath(r.URL.Path) {
		g.origins.Apply(w, r)
	}

	logger := httputil.GetLogger(r.Context())
	logger.Warn().
		Str("step", d.step).
		Int("status", d.status).
		Str("path", r.URL.Path).
		Str("ip_hash", httputil.HMACIP(ip, g.ipHashKey)).
		Msg("request denied")

	if d.rateRes != nil {
		rate.SetHeaders(w.Header(), *d.rateRes)
	}
	if d.retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(d.retryAfter))
	}

	if d.status == http.StatusFound {
		target := httputil.SanitizeReturnPath(r.URL.RequestURI())
		loginURL := g.cfg.Routes.LoginPath + "?redirect=" + url.QueryEscape(target)
		http.Redirect(w, r, loginURL, http.StatusFound)
		return
	}
	if d.body != nil {
		httputil.WriteJSON(w, d.status, d.body)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(d.status)
	_, _ = w.Write([]byte(d.plain))
}
