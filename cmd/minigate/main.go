package main

import (
	"context"
	cryptorand "crypto/rand"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"minigate/gate-service/internal/api"
	"minigate/gate-service/internal/breaker"
	"minigate/gate-service/internal/bruteforce"
	"minigate/gate-service/internal/config"
	"minigate/gate-service/internal/cors"
	"minigate/gate-service/internal/csrf"
	"minigate/gate-service/internal/gate"
	"minigate/gate-service/internal/httputil"
	"minigate/gate-service/internal/ipfilter"
	"minigate/gate-service/internal/metrics"
	"minigate/gate-service/internal/proxy"
	"minigate/gate-service/internal/rate"
	"minigate/gate-service/internal/session"
	"minigate/gate-service/internal/store"
	"minigate/gate-service/internal/store/memory"
	"minigate/gate-service/internal/store/postgres"
	"minigate/gate-service/internal/telegram"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"
)

func main() {
	_ = godotenv.Load()

	configFlag := flag.String("config", "", "path to config file (overrides MINIGATE_CONFIG env var)")
	flag.Parse()

	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = os.Getenv("MINIGATE_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = "./config.yaml"
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			cfgPath = "./config.example.yaml"
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Logging.Level == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Str("config_path", cfgPath).
		Str("listen", cfg.Server.Listen).
		Str("log_level", cfg.Logging.Level).
		Msg("server configuration")
	log.Info().
		Bool("enforce", cfg.Modes.Enforce).
		Bool("ip_filtering", cfg.Modes.IPFiltering).
		Bool("strict_mobile", cfg.Modes.StrictMobile).
		Bool("rate_limiting", cfg.Modes.RateLimiting).
		Bool("brute_force", cfg.Modes.BruteForce).
		Msg("security modes")
	log.Info().
		Str("store_driver", cfg.Store.Driver).
		Str("rate_backend", cfg.Rate.Backend).
		Bool("proxy_enabled", cfg.Proxy.Enabled).
		Msg("backends")

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// ---- Store ----
	var (
		st        store.Store
		readiness func(ctx context.Context) error
	)
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := postgres.Open(cfg.Store.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open postgres")
		}
		defer pg.Close()
		if cfg.Store.Migrate {
			if err := pg.Migrate(rootCtx); err != nil {
				log.Fatal().Err(err).Msg("failed to apply migrations")
			}
			log.Info().Msg("migrations applied")
		}
		st = pg
		readiness = func(ctx context.Context) error { return pg.DB().PingContext(ctx) }
	case "memory":
		log.Warn().Msg("using in-memory store; accounts will not survive restart")
		st = memory.New()
	default:
		log.Fatal().Str("driver", cfg.Store.Driver).Msg("unsupported store driver")
	}

	// ---- Rate / lockout backends ----
	var rateBackend rate.Backend
	var lockoutBackend bruteforce.Backend
	switch cfg.Rate.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.Rate.RedisDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid rate.redis_dsn")
		}
		client := redis.NewClient(opts)
		if err := client.Ping(rootCtx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to ping redis")
		}
		defer client.Close()
		rateBackend = rate.NewRedisBackend(client, "minigate:rate")
		lockoutBackend = bruteforce.NewRedisBackend(client, "minigate:lockout")
		log.Info().Msg("redis backends ready")
	default:
		memRate := rate.NewMemoryBackend()
		memLock := bruteforce.NewMemoryBackend()
		sweep := time.Duration(cfg.Rate.SweepSec) * time.Second
		memRate.StartSweeper(rootCtx, sweep)
		memLock.StartSweeper(rootCtx, sweep)
		rateBackend = memRate
		lockoutBackend = memLock
	}

	// ---- Components ----
	verifier := telegram.NewVerifier(cfg.Telegram.BotToken, cfg.MaxAuthAge())
	br := breaker.New("user-store", breaker.DefaultConfig())
	allow := session.NewAllowlist(cfg.Telegram.AdminIDs, cfg.Telegram.AdminIDsEnv)
	log.Info().Int("admin_ids", allow.Len()).Msg("admin allow-list loaded")

	kr, err := session.NewKeyring(cfg.Session.Alg, cfg.Session.Keys, cfg.Session.CurrentKID,
		cfg.Session.Issuer, cfg.Session.SkewSec, cfg.SessionMaxAge())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create keyring")
	}
	issuer := session.NewIssuer(verifier, st, br, allow, kr, cfg.SessionMaxAge(), cfg.SessionRenewAfter(), log.Logger)

	filter := ipfilter.New(st, log.Logger)
	if cfg.Modes.IPFiltering {
		if err := filter.Reload(rootCtx); err != nil {
			log.Warn().Err(err).Msg("initial ip rule load failed; starting with empty rule set")
		}
		filter.StartReloader(rootCtx, time.Duration(cfg.IPFilter.ReloadSec)*time.Second)
	}

	lockouts := bruteforce.NewGuard(cfg.BruteForce.MaxAttempts, cfg.LockoutDuration(), lockoutBackend, log.Logger)
	apiLimiter := rate.NewLimiter("api", cfg.Rate.API.Limit,
		time.Duration(cfg.Rate.API.WindowMs)*time.Millisecond, rateBackend, log.Logger)
	globalLimiter := rate.NewLimiter("global", cfg.Rate.Global.Limit,
		time.Duration(cfg.Rate.Global.WindowMs)*time.Millisecond, rateBackend, log.Logger)

	csrfGuard := csrf.NewGuard(cfg.CSRF.CookieName, cfg.CSRF.HeaderName,
		time.Duration(cfg.CSRF.TokenTTLSec)*time.Second, cfg.CSRF.ExemptPaths,
		cfg.CSRF.APIKey, cfg.Cookie.Secure)
	origins := cors.NewGuard(cfg.CORS.AppOrigin, cfg.CORS.ExtraOrigins, strconv.Itoa(cfg.CORS.MaxAgeSec))

	ipHashKey := []byte(cfg.Logging.IPHashKey)
	if len(ipHashKey) == 0 {
		ipHashKey = make([]byte, 32)
		if _, err := cryptorand.Read(ipHashKey); err != nil {
			log.Fatal().Err(err).Msg("failed to generate ip hash key")
		}
		log.Warn().Msg("logging.ip_hash_key not set; ip hashes will not be stable across restarts")
	}
	g := gate.New(cfg, filter, lockouts, apiLimiter, globalLimiter, csrfGuard, origins, issuer, ipHashKey, log.Logger)

	// ---- Routes ----
	mux := http.NewServeMux()
	authAPI := api.NewHandler(cfg, issuer, verifier, st, csrfGuard, lockouts, readiness, log.Logger)
	authAPI.Register(mux)

	metrics.MustRegister()
	metrics.BuildInfo.Set(1)
	mux.Handle("/metrics", promhttp.Handler())

	if cfg.Proxy.Enabled {
		upstream, err := proxy.New(cfg.Proxy.Upstream,
			time.Duration(cfg.Proxy.TimeoutMs)*time.Millisecond,
			time.Duration(cfg.Proxy.IdleTimeoutMs)*time.Millisecond, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create upstream proxy")
		}
		mux.Handle("/", upstream)
		log.Info().Str("upstream", cfg.Proxy.Upstream).Msg("storefront proxy enabled")
	} else {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
		})
	}

	trustedProxies, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxyCIDRs)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid server.trusted_proxy_cidrs")
	}

	handler := httputil.RequestIDMiddleware(log.Logger, trustedProxies)(g.Middleware(mux))

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
		IdleTimeout:       90 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Server.Listen).Msg("minigate listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatal().Err(err).Msg("server error")
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		rootCancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown failed, forcing close")
			srv.Close()
		}
		log.Info().Msg("shutdown complete")
	}
}
