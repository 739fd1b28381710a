package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerCfg struct {
	Listen            string   `yaml:"listen"`
	ReadTimeoutMs     int      `yaml:"read_timeout_ms"`
	WriteTimeoutMs    int      `yaml:"write_timeout_ms"`
	TrustedProxyCIDRs []string `yaml:"trusted_proxy_cidrs"`
}

type ModesCfg struct {
	Enforce      bool `yaml:"enforce"`       // auth path refuses to start without secrets when true
	IPFiltering  bool `yaml:"ip_filtering"`  // evaluate ip_rules for public addresses
	StrictMobile bool `yaml:"strict_mobile"` // only android/ios X-Telegram-Platform values pass
	RateLimiting bool `yaml:"rate_limiting"`
	BruteForce   bool `yaml:"brute_force"`
}

type CookieCfg struct {
	Name      string `yaml:"name"`
	Domain    string `yaml:"domain"`
	Path      string `yaml:"path"`
	MaxAgeSec int    `yaml:"max_age_sec"`
	SameSite  string `yaml:"same_site"` // Lax | None
	Secure    bool   `yaml:"secure"`
	HTTPOnly  bool   `yaml:"http_only"`
}

type SessionCfg struct {
	Alg        string            `yaml:"alg"`
	Keys       map[string]string `yaml:"keys"` // kid -> base64url secret
	CurrentKID string            `yaml:"current_kid"`
	Issuer     string            `yaml:"issuer"`
	SkewSec    int               `yaml:"skew_sec"`
	MaxAgeSec  int               `yaml:"max_age_sec"` // token lifetime (default 30d)
	RenewSec   int               `yaml:"renew_sec"`   // sliding reissue once iat is older (default 24h)
}

type TelegramCfg struct {
	BotToken      string  `yaml:"bot_token"`        // supports ${ENV} expansion
	MaxAuthAgeSec int     `yaml:"max_auth_age_sec"` // replay limit on auth_date; 0 disables
	AdminIDs      []int64 `yaml:"admin_ids"`
	AdminIDsEnv   string  `yaml:"admin_ids_env"` // env var with comma-separated fallback IDs
}

type RateTierCfg struct {
	Limit    int `yaml:"limit"`
	WindowMs int `yaml:"window_ms"`
}

type RateCfg struct {
	Backend  string      `yaml:"backend"` // memory | redis
	RedisDSN string      `yaml:"redis_dsn"`
	API      RateTierCfg `yaml:"api"`    // coarse per-IP tier on /api
	Global   RateTierCfg `yaml:"global"` // fine per-IP tier on everything gated
	SweepSec int         `yaml:"sweep_sec"`
}

type BruteForceCfg struct {
	MaxAttempts    int `yaml:"max_attempts"`
	LockoutMinutes int `yaml:"lockout_minutes"`
}

type CSRFCfg struct {
	CookieName  string   `yaml:"cookie_name"`
	HeaderName  string   `yaml:"header_name"`
	TokenTTLSec int      `yaml:"token_ttl_sec"`
	ExemptPaths []string `yaml:"exempt_paths"`
	APIKey      string   `yaml:"api_key"` // trusted machine caller; supports ${ENV}
}

type CORSCfg struct {
	AppOrigin    string   `yaml:"app_origin"`
	ExtraOrigins []string `yaml:"extra_origins"`
	MaxAgeSec    int      `yaml:"max_age_sec"`
}

type IPFilterCfg struct {
	ReloadSec int `yaml:"reload_sec"` // rule cache refresh interval
}

type StoreCfg struct {
	Driver  string `yaml:"driver"` // postgres | memory
	DSN     string `yaml:"dsn"`    // supports ${ENV}
	Migrate bool   `yaml:"migrate"`
}

type ProxyCfg struct {
	Enabled       bool   `yaml:"enabled"`
	Upstream      string `yaml:"upstream"` // storefront origin, e.g. http://127.0.0.1:3000
	TimeoutMs     int    `yaml:"timeout_ms"`
	IdleTimeoutMs int    `yaml:"idle_timeout_ms"`
}

type RouteCfg struct {
	ProtectedPrefixes []string `yaml:"protected_prefixes"`
	AuthPrefixes      []string `yaml:"auth_prefixes"`
	RateSkipPrefixes  []string `yaml:"rate_skip_prefixes"`
	LoginPath         string   `yaml:"login_path"`
}

type LoggingCfg struct {
	Level     string `yaml:"level"`       // info|debug
	IPHashKey string `yaml:"ip_hash_key"` // pseudonymizes addresses in deny logs; supports ${ENV}
}

type Config struct {
	Server     ServerCfg     `yaml:"server"`
	Modes      ModesCfg      `yaml:"modes"`
	Cookie     CookieCfg     `yaml:"cookie"`
	Session    SessionCfg    `yaml:"session"`
	Telegram   TelegramCfg   `yaml:"telegram"`
	Rate       RateCfg       `yaml:"rate"`
	BruteForce BruteForceCfg `yaml:"brute_force"`
	CSRF       CSRFCfg       `yaml:"csrf"`
	CORS       CORSCfg       `yaml:"cors"`
	IPFilter   IPFilterCfg   `yaml:"ip_filter"`
	Store      StoreCfg      `yaml:"store"`
	Proxy      ProxyCfg      `yaml:"proxy"`
	Routes     RouteCfg      `yaml:"routes"`
	Logging    LoggingCfg    `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	// Secrets may be supplied indirectly as ${ENV_VAR}.
	cfg.Telegram.BotToken = os.ExpandEnv(cfg.Telegram.BotToken)
	cfg.CSRF.APIKey = os.ExpandEnv(cfg.CSRF.APIKey)
	cfg.Store.DSN = os.ExpandEnv(cfg.Store.DSN)
	cfg.Rate.RedisDSN = os.ExpandEnv(cfg.Rate.RedisDSN)
	cfg.Logging.IPHashKey = os.ExpandEnv(cfg.Logging.IPHashKey)
	for kid, v := range cfg.Session.Keys {
		cfg.Session.Keys[kid] = os.ExpandEnv(v)
	}

	// defaults
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Cookie.Name == "" {
		cfg.Cookie.Name = "minigate-session"
	}
	if cfg.Cookie.Path == "" {
		cfg.Cookie.Path = "/"
	}
	if cfg.Cookie.MaxAgeSec == 0 {
		cfg.Cookie.MaxAgeSec = 30 * 24 * 3600
	}
	if cfg.Cookie.SameSite == "" {
		cfg.Cookie.SameSite = "Lax"
	}
	if cfg.Session.Alg == "" {
		cfg.Session.Alg = "HS256"
	}
	if cfg.Session.Issuer == "" {
		cfg.Session.Issuer = "minigate"
	}
	if cfg.Session.SkewSec == 0 {
		cfg.Session.SkewSec = 30
	}
	if cfg.Session.MaxAgeSec == 0 {
		cfg.Session.MaxAgeSec = 30 * 24 * 3600
	}
	if cfg.Session.RenewSec == 0 {
		cfg.Session.RenewSec = 24 * 3600
	}
	if cfg.Telegram.MaxAuthAgeSec == 0 {
		cfg.Telegram.MaxAuthAgeSec = 24 * 3600
	}
	if cfg.Telegram.AdminIDsEnv == "" {
		cfg.Telegram.AdminIDsEnv = "ADMIN_TELEGRAM_IDS"
	}
	if cfg.Rate.Backend == "" {
		cfg.Rate.Backend = "memory"
	}
	if cfg.Rate.API.Limit == 0 {
		cfg.Rate.API.Limit = 10
	}
	if cfg.Rate.API.WindowMs == 0 {
		cfg.Rate.API.WindowMs = 60_000
	}
	if cfg.Rate.Global.Limit == 0 {
		cfg.Rate.Global.Limit = 500
	}
	if cfg.Rate.Global.WindowMs == 0 {
		cfg.Rate.Global.WindowMs = 15 * 60_000
	}
	if cfg.Rate.SweepSec == 0 {
		cfg.Rate.SweepSec = 300
	}
	if cfg.BruteForce.MaxAttempts == 0 {
		cfg.BruteForce.MaxAttempts = 12
	}
	if cfg.BruteForce.LockoutMinutes == 0 {
		cfg.BruteForce.LockoutMinutes = 15
	}
	if cfg.CSRF.CookieName == "" {
		cfg.CSRF.CookieName = "csrf-token"
	}
	if cfg.CSRF.HeaderName == "" {
		cfg.CSRF.HeaderName = "x-csrf-token"
	}
	if cfg.CSRF.TokenTTLSec == 0 {
		cfg.CSRF.TokenTTLSec = 24 * 3600
	}
	if len(cfg.CSRF.ExemptPaths) == 0 {
		cfg.CSRF.ExemptPaths = []string{
			"/api/auth/",
			"/api/telegram/webhook",
			"/api/telegram/me",
			"/api/csrf-token",
			"/api/public",
			"/api/admin/",
			"/api/user/",
		}
	}
	if cfg.CORS.MaxAgeSec == 0 {
		cfg.CORS.MaxAgeSec = 86400
	}
	if cfg.IPFilter.ReloadSec == 0 {
		cfg.IPFilter.ReloadSec = 300
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "postgres"
	}
	if cfg.Proxy.TimeoutMs == 0 {
		cfg.Proxy.TimeoutMs = 30_000
	}
	if cfg.Proxy.IdleTimeoutMs == 0 {
		cfg.Proxy.IdleTimeoutMs = 90_000
	}
	if len(cfg.Routes.ProtectedPrefixes) == 0 {
		cfg.Routes.ProtectedPrefixes = []string{"/user/profile", "/user/settings", "/api/admin", "/api/user"}
	}
	if len(cfg.Routes.AuthPrefixes) == 0 {
		cfg.Routes.AuthPrefixes = []string{"/api/auth/", "/login"}
	}
	if len(cfg.Routes.RateSkipPrefixes) == 0 {
		cfg.Routes.RateSkipPrefixes = []string{"/api/auth/", "/api/telegram/webhook", "/api/uploads/"}
	}
	if cfg.Routes.LoginPath == "" {
		cfg.Routes.LoginPath = "/login"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return &cfg, nil
}

func (c *Config) CookieMaxAge() time.Duration {
	return time.Duration(c.Cookie.MaxAgeSec) * time.Second
}

func (c *Config) SessionMaxAge() time.Duration {
	return time.Duration(c.Session.MaxAgeSec) * time.Second
}

func (c *Config) SessionRenewAfter() time.Duration {
	return time.Duration(c.Session.RenewSec) * time.Second
}

func (c *Config) LockoutDuration() time.Duration {
	return time.Duration(c.BruteForce.LockoutMinutes) * time.Minute
}

func (c *Config) MaxAuthAge() time.Duration {
	return time.Duration(c.Telegram.MaxAuthAgeSec) * time.Second
}

// Validate fails closed: a gate configured to enforce auth without its
// signing secrets must not start.
func (c *Config) Validate() error {
	if c.Modes.Enforce {
		if c.Telegram.BotToken == "" {
			return errors.New("telegram.bot_token required when modes.enforce is set")
		}
		if c.Session.CurrentKID == "" || len(c.Session.Keys) == 0 {
			return errors.New("session.keys and session.current_kid required when modes.enforce is set")
		}
	}
	if len(c.Session.Keys) > 0 {
		if _, ok := c.Session.Keys[c.Session.CurrentKID]; !ok {
			return errors.New("session.current_kid not found in session.keys")
		}
	}
	switch c.Session.Alg {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("session.alg %q unsupported (expected HS256/384/512)", c.Session.Alg)
	}
	switch strings.ToLower(c.Cookie.SameSite) {
	case "lax", "none":
	default:
		return errors.New("cookie.same_site must be 'Lax' or 'None'")
	}
	switch c.Rate.Backend {
	case "memory":
	case "redis":
		if c.Rate.RedisDSN == "" {
			return errors.New("rate.redis_dsn required for redis backend")
		}
	default:
		return fmt.Errorf("rate.backend %q unsupported (memory|redis)", c.Rate.Backend)
	}
	if c.Rate.API.Limit < 0 || c.Rate.Global.Limit < 0 {
		return errors.New("rate limits must be non-negative")
	}
	if c.BruteForce.MaxAttempts < 1 {
		return errors.New("brute_force.max_attempts must be >= 1")
	}
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store.dsn required for postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver %q unsupported (postgres|memory)", c.Store.Driver)
	}
	if c.Proxy.Enabled && c.Proxy.Upstream == "" {
		return errors.New("proxy.upstream required when proxy.enabled")
	}
	return nil
}
