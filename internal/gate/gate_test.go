package gate

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"minigate/gate-service/internal/api"
	"minigate/gate-service/internal/breaker"
	"minigate/gate-service/internal/bruteforce"
	"minigate/gate-service/internal/config"
	"minigate/gate-service/internal/cors"
	"minigate/gate-service/internal/csrf"
	"minigate/gate-service/internal/ipfilter"
	"minigate/gate-service/internal/rate"
	"minigate/gate-service/internal/session"
	"minigate/gate-service/internal/store"
	"minigate/gate-service/internal/store/memory"
	"minigate/gate-service/internal/telegram"
)

const testBotToken = "12345:TEST_TOKEN"

func signInitData(botToken string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+fields[k])
	}
	secret := hmac.New(sha256.New, []byte(botToken))
	secret.Write([]byte("WebAppData"))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))

	v := url.Values{}
	for k, val := range fields {
		v.Set(k, val)
	}
	v.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return v.Encode()
}

func initDataFor(userJSON string) string {
	return signInitData(testBotToken, map[string]string{
		"auth_date": "1700000000",
		"user":      userJSON,
	})
}

type env struct {
	gate    *Gate
	handler http.Handler
	mem     *memory.Store
	cfg     *config.Config
}

// newTestEnv wires the full chain with in-memory backends. Lockout and rate
// windows are kept short so expiry paths run in real time.
func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *env {
	t.Helper()

	key := base64.RawURLEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	cfg := &config.Config{}
	cfg.Modes = config.ModesCfg{Enforce: true, IPFiltering: true, StrictMobile: false, RateLimiting: true, BruteForce: true}
	cfg.Cookie = config.CookieCfg{Name: "minigate-session", Path: "/", MaxAgeSec: 30 * 24 * 3600, SameSite: "Lax", HTTPOnly: true}
	cfg.Session = config.SessionCfg{Alg: "HS256", Keys: map[string]string{"k1": key}, CurrentKID: "k1", Issuer: "minigate", SkewSec: 30, MaxAgeSec: 30 * 24 * 3600, RenewSec: 24 * 3600}
	cfg.Telegram = config.TelegramCfg{BotToken: testBotToken}
	cfg.Rate = config.RateCfg{Backend: "memory", API: config.RateTierCfg{Limit: 100, WindowMs: 60_000}, Global: config.RateTierCfg{Limit: 1000, WindowMs: 900_000}}
	cfg.BruteForce = config.BruteForceCfg{MaxAttempts: 10, LockoutMinutes: 15}
	cfg.CSRF = config.CSRFCfg{CookieName: "csrf-token", HeaderName: "x-csrf-token", TokenTTLSec: 86400, ExemptPaths: []string{"/api/auth/", "/api/telegram/webhook", "/api/csrf-token"}, APIKey: "service-key"}
	cfg.CORS = config.CORSCfg{AppOrigin: "https://shop.example.com", MaxAgeSec: 86400}
	cfg.Routes = config.RouteCfg{
		ProtectedPrefixes: []string{"/user/profile", "/api/admin", "/api/user"},
		AuthPrefixes:      []string{"/api/auth/", "/login"},
		RateSkipPrefixes:  []string{"/api/auth/", "/api/telegram/webhook"},
		LoginPath:         "/login",
	}
	if mutate != nil {
		mutate(cfg)
	}

	mem := memory.New()
	verifier := telegram.NewVerifier(cfg.Telegram.BotToken, 0)
	br := breaker.New("store", breaker.DefaultConfig())
	allow := session.NewAllowlist(cfg.Telegram.AdminIDs, "")
	kr, err := session.NewKeyring(cfg.Session.Alg, cfg.Session.Keys, cfg.Session.CurrentKID, cfg.Session.Issuer, cfg.Session.SkewSec, cfg.SessionMaxAge())
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	issuer := session.NewIssuer(verifier, mem, br, allow, kr, cfg.SessionMaxAge(), cfg.SessionRenewAfter(), zerolog.Nop())

	filter := ipfilter.New(mem, zerolog.Nop())
	if err := filter.Reload(t.Context()); err != nil {
		t.Fatalf("filter reload: %v", err)
	}
	lockouts := bruteforce.NewGuard(cfg.BruteForce.MaxAttempts, cfg.LockoutDuration(), bruteforce.NewMemoryBackend(), zerolog.Nop())
	apiLimiter := rate.NewLimiter("api", cfg.Rate.API.Limit, time.Duration(cfg.Rate.API.WindowMs)*time.Millisecond, rate.NewMemoryBackend(), zerolog.Nop())
	globalLimiter := rate.NewLimiter("global", cfg.Rate.Global.Limit, time.Duration(cfg.Rate.Global.WindowMs)*time.Millisecond, rate.NewMemoryBackend(), zerolog.Nop())
	csrfGuard := csrf.NewGuard(cfg.CSRF.CookieName, cfg.CSRF.HeaderName, time.Duration(cfg.CSRF.TokenTTLSec)*time.Second, cfg.CSRF.ExemptPaths, cfg.CSRF.APIKey, false)
	origins := cors.NewGuard(cfg.CORS.AppOrigin, cfg.CORS.ExtraOrigins, "86400")

	g := New(cfg, filter, lockouts, apiLimiter, globalLimiter, csrfGuard, origins, issuer, []byte("ip-hash-key"), zerolog.Nop())

	mux := http.NewServeMux()
	h := api.NewHandler(cfg, issuer, verifier, mem, csrfGuard, lockouts, nil, zerolog.Nop())
	h.Register(mux)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("upstream"))
	})

	return &env{gate: g, handler: g.Middleware(mux), mem: mem, cfg: cfg}
}

func (e *env) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func authRequest(initData string) *http.Request {
	body, _ := json.Marshal(map[string]string{"initData": initData})
	r := httptest.NewRequest(http.MethodPost, "/api/auth/telegram", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.RemoteAddr = "203.0.113.10:50000"
	return r
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return m
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

func TestNewIdentityRegistersUser(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.do(authRequest(initDataFor(`{"id":123456789,"first_name":"Alice"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeJSON(t, w)
	user := resp["user"].(map[string]any)
	if user["role"] != "USER" {
		t.Fatalf("role = %v, want USER", user["role"])
	}
	if user["id"] == "" {
		t.Fatal("missing user id")
	}
	sessionCookie(t, w, e.cfg.Cookie.Name)

	stored, err := e.mem.GetUserByTelegramID(t.Context(), "123456789")
	if err != nil {
		t.Fatalf("store lookup: %v", err)
	}
	if stored.ID != user["id"] {
		t.Fatalf("stored id %q != response id %v", stored.ID, user["id"])
	}
}

func TestRepeatLoginReusesUser(t *testing.T) {
	e := newTestEnv(t, nil)
	initData := initDataFor(`{"id":123456789,"first_name":"Alice"}`)

	w1 := e.do(authRequest(initData))
	if w1.Code != http.StatusOK {
		t.Fatalf("first login: %d", w1.Code)
	}
	first := decodeJSON(t, w1)["user"].(map[string]any)

	w2 := e.do(authRequest(initData))
	if w2.Code != http.StatusOK {
		t.Fatalf("second login: %d", w2.Code)
	}
	second := decodeJSON(t, w2)["user"].(map[string]any)

	if first["id"] != second["id"] {
		t.Fatalf("second login returned different user: %v vs %v", first["id"], second["id"])
	}
	stored, err := e.mem.GetUserByTelegramID(t.Context(), "123456789")
	if err != nil {
		t.Fatalf("store lookup: %v", err)
	}
	if stored.LastLoginAt == nil {
		t.Fatal("lastLoginAt not set")
	}
}

func TestLockoutLifecycle(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.Config) {
		cfg.BruteForce.MaxAttempts = 10
	})
	// The guard reads LockoutMinutes through the duration passed at
	// construction; rebuild with a short lockout instead.
	lockouts := bruteforce.NewGuard(10, 150*time.Millisecond, bruteforce.NewMemoryBackend(), zerolog.Nop())
	e.gate.lockouts = lockouts

	mux := http.NewServeMux()
	bad := signInitData("other-token", map[string]string{
		"auth_date": "1700000000",
		"user":      `{"id":123456789,"first_name":"Alice"}`,
	})
	h := api.NewHandler(e.cfg, e.gate.issuer, telegram.NewVerifier(testBotToken, 0), e.mem, e.gate.csrfGuard, lockouts, nil, zerolog.Nop())
	h.Register(mux)
	e.handler = e.gate.Middleware(mux)

	for i := 0; i < 10; i++ {
		w := e.do(authRequest(bad))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d", i+1, w.Code)
		}
	}

	// 11th request is stopped at the gate before the handler runs.
	w := e.do(authRequest(initDataFor(`{"id":123456789,"first_name":"Alice"}`)))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("locked attempt: status = %d", w.Code)
	}
	resp := decodeJSON(t, w)
	if resp["lockedUntil"] == nil || resp["remainingMinutes"] == nil {
		t.Fatalf("lockout body missing fields: %v", resp)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After missing")
	}

	time.Sleep(200 * time.Millisecond)
	w = e.do(authRequest(initDataFor(`{"id":123456789,"first_name":"Alice"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("post-lockout valid attempt: status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestRateLimitOnAPIRoutes(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.Config) {
		cfg.Rate.API = config.RateTierCfg{Limit: 3, WindowMs: 60_000}
	})
	e.gate.apiLimiter = rate.NewLimiter("api", 3, time.Minute, rate.NewMemoryBackend(), zerolog.Nop())

	get := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/products", nil)
		r.RemoteAddr = "203.0.113.10:50000"
		return e.do(r)
	}

	for i := 0; i < 3; i++ {
		if w := get(); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, w.Code)
		}
	}
	w := get()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("throttled request: status = %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "3" {
		t.Fatalf("X-RateLimit-Limit = %q", w.Header().Get("X-RateLimit-Limit"))
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q", w.Header().Get("X-RateLimit-Remaining"))
	}
	if w.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatal("X-RateLimit-Reset missing")
	}
	if got := decodeJSON(t, w)["error"]; got != "Too many requests" {
		t.Fatalf("error = %v", got)
	}
}

func TestAPIDenialCarriesCORSHeaders(t *testing.T) {
	e := newTestEnv(t, nil)
	e.gate.apiLimiter = rate.NewLimiter("api", 1, time.Minute, rate.NewMemoryBackend(), zerolog.Nop())

	get := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/products", nil)
		r.RemoteAddr = "203.0.113.10:50000"
		r.Header.Set("Origin", "https://web.telegram.org")
		return e.do(r)
	}

	if w := get(); w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", w.Code)
	}
	w := get()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("throttled request: status = %d", w.Code)
	}
	// The webview client reads the backoff body cross-origin.
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://web.telegram.org" {
		t.Fatalf("allow-origin = %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("credentials header missing")
	}
}

func TestAuthRoutesSkipAPIRateTier(t *testing.T) {
	e := newTestEnv(t, nil)
	e.gate.apiLimiter = rate.NewLimiter("api", 1, time.Minute, rate.NewMemoryBackend(), zerolog.Nop())
	initData := initDataFor(`{"id":123456789,"first_name":"Alice"}`)

	for i := 0; i < 5; i++ {
		if w := e.do(authRequest(initData)); w.Code != http.StatusOK {
			t.Fatalf("auth request %d throttled: %d", i+1, w.Code)
		}
	}
}

func TestCSRFDenialBody(t *testing.T) {
	e := newTestEnv(t, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/cart", strings.NewReader("{}"))
	r.RemoteAddr = "203.0.113.10:50000"
	w := e.do(r)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeJSON(t, w)["error"]; got != "CSRF Token Invalid" {
		t.Fatalf("error = %v", got)
	}
}

func TestCSRFPairAndAPIKeyPass(t *testing.T) {
	e := newTestEnv(t, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/cart", strings.NewReader("{}"))
	r.RemoteAddr = "203.0.113.10:50000"
	r.AddCookie(&http.Cookie{Name: "csrf-token", Value: "tok-1"})
	r.Header.Set("x-csrf-token", "tok-1")
	if w := e.do(r); w.Code != http.StatusOK {
		t.Fatalf("matched pair: status = %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodPost, "/api/cart", strings.NewReader("{}"))
	r.RemoteAddr = "203.0.113.10:50000"
	r.Header.Set("x-api-key", "service-key")
	if w := e.do(r); w.Code != http.StatusOK {
		t.Fatalf("api key: status = %d", w.Code)
	}
}

func TestIPBlockRuleDenies(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mem.SetIPRules([]store.IPRule{
		{Pattern: "203.0.113.0/24", Disposition: store.DispositionBlock, Active: true},
	})
	if err := e.gate.filter.Reload(t.Context()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	r.RemoteAddr = "203.0.113.10:50000"
	w := e.do(r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeJSON(t, w)["error"]; got != "Forbidden" {
		t.Fatalf("error = %v", got)
	}

	// Page routes get plain text.
	r = httptest.NewRequest(http.MethodGet, "/user", nil)
	r.RemoteAddr = "203.0.113.10:50000"
	w = e.do(r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("page status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Forbidden") {
		t.Fatalf("page body = %q", w.Body.String())
	}

	// Loopback traffic still passes.
	r = httptest.NewRequest(http.MethodGet, "/api/products", nil)
	r.RemoteAddr = "127.0.0.1:50000"
	if w := e.do(r); w.Code != http.StatusOK {
		t.Fatalf("loopback status = %d", w.Code)
	}
}

func TestProtectedRouteRequiresSession(t *testing.T) {
	e := newTestEnv(t, nil)

	// API route without a session: structured 401.
	r := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	r.RemoteAddr = "203.0.113.10:50000"
	w := e.do(r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("api status = %d", w.Code)
	}

	// Page route redirects to login.
	r = httptest.NewRequest(http.MethodGet, "/user/profile", nil)
	r.RemoteAddr = "203.0.113.10:50000"
	w = e.do(r)
	if w.Code != http.StatusFound {
		t.Fatalf("page status = %d", w.Code)
	}
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "/login?redirect=") {
		t.Fatalf("Location = %q", loc)
	}
}

func TestLoginRedirectEscapesTarget(t *testing.T) {
	e := newTestEnv(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/user/profile/%26admin%3D1", nil)
	r.RemoteAddr = "203.0.113.10:50000"
	w := e.do(r)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d", w.Code)
	}

	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("Location parse: %v", err)
	}
	q := loc.Query()
	if got := q.Get("redirect"); got != "/user/profile/&admin=1" {
		t.Fatalf("redirect = %q", got)
	}
	// Encoded characters in the path must not become extra parameters.
	if _, injected := q["admin"]; injected {
		t.Fatalf("injected parameter in %q", loc.String())
	}
}

func TestLoginRedirectKeepsQuery(t *testing.T) {
	e := newTestEnv(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/user/profile?tab=orders", nil)
	r.RemoteAddr = "203.0.113.10:50000"
	w := e.do(r)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("Location parse: %v", err)
	}
	if got := loc.Query().Get("redirect"); got != "/user/profile?tab=orders" {
		t.Fatalf("redirect = %q", got)
	}
}

func TestProtectedRouteWithSessionForwardsIdentity(t *testing.T) {
	e := newTestEnv(t, nil)

	login := e.do(authRequest(initDataFor(`{"id":123456789,"first_name":"Alice"}`)))
	if login.Code != http.StatusOK {
		t.Fatalf("login: %d", login.Code)
	}
	cookie := sessionCookie(t, login, e.cfg.Cookie.Name)

	var gotID, gotRole string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-User-ID")
		gotRole = r.Header.Get("X-User-Role")
		w.WriteHeader(http.StatusOK)
	})
	handler := e.gate.Middleware(mux)

	r := httptest.NewRequest(http.MethodGet, "/api/user/cart", nil)
	r.RemoteAddr = "203.0.113.10:50000"
	r.AddCookie(cookie)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if gotID == "" || gotRole != "USER" {
		t.Fatalf("identity headers = %q/%q", gotID, gotRole)
	}
}

func TestSpoofedIdentityHeadersStripped(t *testing.T) {
	e := newTestEnv(t, nil)

	var gotID string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-User-ID")
		w.WriteHeader(http.StatusOK)
	})
	handler := e.gate.Middleware(mux)

	r := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	r.RemoteAddr = "203.0.113.10:50000"
	r.Header.Set("X-User-ID", "fake-admin")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if gotID != "" {
		t.Fatalf("spoofed X-User-ID survived: %q", gotID)
	}
}

func TestCORSHeadersOnPass(t *testing.T) {
	e := newTestEnv(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	r.RemoteAddr = "203.0.113.10:50000"
	r.Header.Set("Origin", "https://web.telegram.org")
	w := e.do(r)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://web.telegram.org" {
		t.Fatalf("allow-origin = %q", got)
	}
	if w.Header().Get("Content-Security-Policy") == "" {
		t.Fatal("CSP header missing")
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	e := newTestEnv(t, nil)

	r := httptest.NewRequest(http.MethodOptions, "/api/cart", nil)
	r.RemoteAddr = "203.0.113.10:50000"
	r.Header.Set("Origin", "https://shop.example.com")
	w := e.do(r)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("methods header missing")
	}
}

func TestStrictMobilePlatformCheck(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.Config) {
		cfg.Modes.StrictMobile = true
	})

	r := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	r.RemoteAddr = "203.0.113.10:50000"
	r.Header.Set("X-Telegram-Platform", "weba")
	w := e.do(r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("desktop platform status = %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/products", nil)
	r.RemoteAddr = "203.0.113.10:50000"
	r.Header.Set("X-Telegram-Platform", "android")
	if w := e.do(r); w.Code != http.StatusOK {
		t.Fatalf("android platform status = %d", w.Code)
	}
}

func TestStaticAssetsSkipGate(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mem.SetIPRules([]store.IPRule{
		{Pattern: "203.0.113.0/24", Disposition: store.DispositionBlock, Active: true},
	})
	if err := e.gate.filter.Reload(t.Context()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/static/app.css", nil)
	r.RemoteAddr = "203.0.113.10:50000"
	if w := e.do(r); w.Code != http.StatusOK {
		t.Fatalf("static asset status = %d", w.Code)
	}
}

func TestCSRFTokenEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	r.RemoteAddr = "203.0.113.10:50000"
	w := e.do(r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	tok, _ := decodeJSON(t, w)["csrfToken"].(string)
	if len(tok) != 64 {
		t.Fatalf("token length = %d", len(tok))
	}
	c := sessionCookie(t, w, "csrf-token")
	if c.Value != tok {
		t.Fatal("cookie and body token differ")
	}
}
