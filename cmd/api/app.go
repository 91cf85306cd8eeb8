package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/TLC405/morganisthebest/internal/api"
	"github.com/TLC405/morganisthebest/internal/auth"
	"github.com/TLC405/morganisthebest/internal/checkin"
	"github.com/TLC405/morganisthebest/internal/config"
	"github.com/TLC405/morganisthebest/internal/conversation"
	"github.com/TLC405/morganisthebest/internal/db"
	"github.com/TLC405/morganisthebest/internal/health"
	"github.com/TLC405/morganisthebest/internal/match"
	"github.com/TLC405/morganisthebest/internal/middleware"
	"github.com/TLC405/morganisthebest/internal/postgres"
	"github.com/TLC405/morganisthebest/internal/realtime"
	"github.com/TLC405/morganisthebest/internal/tracing"
	"github.com/TLC405/morganisthebest/internal/wave"
	"github.com/TLC405/morganisthebest/migrations"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const rateLimitCleanupInterval = time.Minute

// app is the assembled HTTP handler plus everything it owns.
type app struct {
	handler http.Handler
	tokens  *auth.JWTService

	closers []func(context.Context) error
}

// newApp builds the handler chain from cfg. Background workers (the Redis
// relay, rate limit cleanup) run until ctx is cancelled; close releases
// connections and flushes traces.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	provider, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName:    api.ServiceName,
		ServiceVersion: version,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
		InsecureMode:   cfg.TracingInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, provider.Shutdown)

	// Metrics
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	checkinMetrics := checkin.NewMetrics()
	matchMetrics := match.NewMetrics()
	realtimeMetrics := realtime.NewMetrics()
	for _, register := range []func(prometheus.Registerer) error{
		httpMetrics.Register,
		checkinMetrics.Register,
		matchMetrics.Register,
		realtimeMetrics.Register,
	} {
		if err := register(registry); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	// Storage
	var (
		checkIns      checkin.Repository
		waves         wave.Repository
		conversations conversation.Repository
		dbChecker     api.HealthChecker
	)
	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return sqlDB.Close() })

		applied, err := db.Migrate(ctx, sqlDB, migrations.FS)
		if err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("database ready", "migrations_applied", len(applied))

		checkIns = postgres.NewCheckInStore(sqlDB)
		waves = postgres.NewWaveStore(sqlDB)
		conversations = postgres.NewConversationStore(sqlDB)
		dbChecker = health.NewDBChecker(sqlDB)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
		checkIns = checkin.NewInMemoryRepository()
		waves = wave.NewInMemoryRepository()
		conversations = conversation.NewInMemoryRepository()
	}

	// Rate limiting and realtime delivery
	broadcaster := realtime.NewBroadcaster(realtimeMetrics)
	var (
		publisher    match.Publisher = broadcaster
		limitStore   middleware.RateLimitStore
		redisChecker api.HealthChecker
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })

		checker := health.NewRedisChecker(client)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = checker.HealthCheck(pingCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		redisChecker = checker

		limitStore = middleware.NewRedisRateLimitStore(client).WithMetrics(httpMetrics)

		relay := realtime.NewRedisRelay(client, broadcaster, realtimeMetrics)
		publisher = relay
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("realtime relay stopped", "error", err)
			}
		}()
	} else {
		store := middleware.NewInMemoryRateLimitStore()
		go store.RunCleanup(ctx, rateLimitCleanupInterval)
		limitStore = store
	}

	// Domain services
	a.tokens = auth.NewJWTService(cfg.GetJWTSecrets())
	checkinService := checkin.NewService(checkIns, checkin.ServiceConfig{
		PINDigits:      cfg.PINDigits,
		MaxPINAttempts: cfg.PINMaxAttempts,
		GeoTimeout:     cfg.GeoTimeout,
		Metrics:        checkinMetrics,
	})
	engine := match.NewEngine(checkIns, waves, conversations, match.EngineConfig{
		Publisher: publisher,
		Metrics:   matchMetrics,
	})

	mux := api.NewRouter(api.RouterConfig{
		RSVP:          api.NewRSVPHandlers(checkinService),
		Waves:         api.NewWaveHandlers(engine),
		Conversations: api.NewConversationHandlers(conversation.NewService(conversations)),
		Realtime:      api.NewRealtimeHandlers(broadcaster, cfg.CORSAllowedOrigins),
		Health: api.NewHealthHandlers(api.HealthHandlersConfig{
			DBChecker:      dbChecker,
			RedisChecker:   redisChecker,
			MetricsEnabled: true,
		}),
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Auth:           a.tokens,
		RateLimitStore: limitStore,
		GlobalLimit:    middleware.DefaultGlobalLimit(),
		CheckInLimit:   perMinute(cfg.CheckInRateLimitPerMinute),
		WaveLimit:      perMinute(cfg.WaveRateLimitPerMinute),
		Metrics:        httpMetrics,
	})

	// Middleware: RequestID -> Tracing -> Logging -> HTTPMetrics -> CORS
	var handler http.Handler = mux
	handler = middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins))(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing(api.ServiceName)(handler)
	a.handler = middleware.RequestID(handler)

	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func perMinute(n int) middleware.RateLimitConfig {
	return middleware.RateLimitConfig{RequestsPerWindow: n, WindowDuration: time.Minute}
}
