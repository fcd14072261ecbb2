package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/iliyamo/karaoke-backend/internal/auth"
	"github.com/iliyamo/karaoke-backend/internal/config"
	"github.com/iliyamo/karaoke-backend/internal/database"
	"github.com/iliyamo/karaoke-backend/internal/handler"
	"github.com/iliyamo/karaoke-backend/internal/logger"
	"github.com/iliyamo/karaoke-backend/internal/metrics"
	"github.com/iliyamo/karaoke-backend/internal/middleware"
	"github.com/iliyamo/karaoke-backend/internal/queue"
	"github.com/iliyamo/karaoke-backend/internal/ratelimit"
	"github.com/iliyamo/karaoke-backend/internal/repository"
	"github.com/iliyamo/karaoke-backend/internal/router"
	"github.com/iliyamo/karaoke-backend/internal/service"
	"github.com/iliyamo/karaoke-backend/internal/telemetry"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(cfg.ServiceName, log)

	db, err := database.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("mysql connect failed")
	}
	defer db.Close()

	rdb, err := config.NewRedisClient(cfg.StoreTimeout)
	if err != nil {
		log.WithError(err).Fatal("redis connect failed")
	}
	defer rdb.Close()

	keys := loadKeys(cfg, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	users := repository.NewUserRepo(db)
	memberships := repository.NewMembershipRepo(db)
	refresh := repository.NewRefreshTokenRepo(rdb, cfg.Auth.RefreshTTL, cfg.Auth.RefreshSalt)
	cache := repository.NewPermissionCache(rdb, cfg.PermissionCache.TTL)

	resolver := service.NewPermissionResolver(memberships, cache,
		service.WithCacheReadTimeout(cfg.PermissionCache.ReadTimeout),
		service.WithStoreTimeout(cfg.StoreTimeout),
		service.WithResolverLogger(log),
		service.WithResolverMetrics(m),
	)
	tokens, err := service.NewTokenService(keys, users, memberships, resolver, refresh,
		service.WithIssuer(cfg.Auth.Issuer),
		service.WithAudience(cfg.Auth.Audience),
		service.WithAccessTTL(cfg.Auth.AccessTTL),
		service.WithTokenLogger(log),
		service.WithTokenMetrics(m),
	)
	if err != nil {
		log.WithError(err).Fatal("token service setup failed")
	}

	limiter := ratelimit.New(rdb,
		ratelimit.WithPrefix(cfg.RateLimit.Prefix),
		ratelimit.WithTimeout(cfg.RateLimit.Timeout),
	)

	var events service.EventPublisher
	if cfg.RabbitMQURL != "" {
		events = queue.NewPublisher(cfg.RabbitMQURL)
	}

	accounts := &service.AccountService{
		Accounts:      users,
		Tokens:        tokens,
		Limiter:       limiter,
		SignInPolicy:  ratelimit.Policy{Action: "signin", Limit: cfg.RateLimit.SignInLimit, Window: cfg.RateLimit.SignInWindow},
		RefreshPolicy: ratelimit.Policy{Action: "refresh", Limit: cfg.RateLimit.RefreshLimit, Window: cfg.RateLimit.RefreshWindow},
		BcryptCost:    cfg.BcryptCost,
		Events:        events,
		Log:           log,
	}

	verifier := auth.NewVerifier(keys, cfg.Auth.Issuer, cfg.Auth.Audience)
	hydrator := &auth.Hydrator{
		Resolver:   resolver,
		AdminRoles: cfg.Auth.GlobalAdminRoles,
		Log:        log,
		OnFailure:  func(string, error) { m.HydrationFailed() },
	}
	authn := middleware.Authenticate(verifier, hydrator)

	e := echo.New()
	e.HideBanner = true
	if e.IPExtractor, err = middleware.ClientIPExtractor(cfg.RateLimit.TrustedProxies); err != nil {
		log.WithError(err).Fatal("invalid RATE_LIMIT_TRUSTED_PROXIES")
	}
	e.Validator = handler.NewRequestValidator()
	e.HTTPErrorHandler = handler.ErrorHandler(log)
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log, m))
	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit("64K"))
	e.Use(middleware.NewSlidingWindow(cfg.RateLimit, limiter, m))

	router.RegisterRoutes(e, map[string]handler.Pinger{
		"mysql": db,
		"redis": handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	}, echo.WrapHandler(m.Handler()))
	router.RegisterAuth(e, handler.NewAuthHandler(accounts, tokens), authn)
	router.RegisterOrganization(e, &handler.AdminHandler{Permissions: resolver, Source: "tenant"}, authn)
	router.RegisterAdmin(e, &handler.AdminHandler{Permissions: resolver}, authn, cfg.Auth.GlobalAdminRoles)

	if cfg.PermissionCache.ConsumerEnabled && cfg.RabbitMQURL != "" {
		consumer := &queue.MembershipConsumer{
			URL:   cfg.RabbitMQURL,
			Queue: cfg.PermissionCache.MembershipQueue,
			Log:   log,
			Handle: func(ctx context.Context, ev queue.MembershipChangedEvent) error {
				return resolver.InvalidateOrganization(ctx, ev.OrganizationID, "membership-event")
			},
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("membership consumer stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(e, "http.server"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "env": cfg.Env}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracer shutdown")
	}
}

// loadKeys parses the configured signing key. Outside prod a missing key
// is replaced by an ephemeral one, which invalidates tokens on restart.
func loadKeys(cfg config.Config, log logrus.FieldLogger) *auth.KeyPair {
	if cfg.Auth.PrivateKeyPEM != "" {
		keys, err := auth.ParseKeyPairPEM([]byte(cfg.Auth.PrivateKeyPEM))
		if err != nil {
			log.WithError(err).Fatal("invalid JWT_PRIVATE_KEY_PEM")
		}
		return keys
	}
	log.Warn("JWT_PRIVATE_KEY_PEM not set; using an ephemeral signing key")
	keys, err := auth.GenerateKeyPair()
	if err != nil {
		log.WithError(err).Fatal("generate signing key")
	}
	return keys
}
