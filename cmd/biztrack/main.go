package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/anguillanneuf/BizTrack/internal/auth"
	"github.com/anguillanneuf/BizTrack/internal/command"
	"github.com/anguillanneuf/BizTrack/internal/config"
	"github.com/anguillanneuf/BizTrack/internal/database"
	"github.com/anguillanneuf/BizTrack/internal/docstore"
	"github.com/anguillanneuf/BizTrack/internal/events"
	"github.com/anguillanneuf/BizTrack/internal/handler"
	"github.com/anguillanneuf/BizTrack/internal/middleware"
	"github.com/anguillanneuf/BizTrack/internal/notify"
	"github.com/anguillanneuf/BizTrack/internal/query"
	redisClient "github.com/anguillanneuf/BizTrack/internal/redis"
	"github.com/anguillanneuf/BizTrack/internal/repository"
	"github.com/anguillanneuf/BizTrack/internal/session"
	"github.com/anguillanneuf/BizTrack/internal/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const serviceName = "biztrack"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", serviceName)
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  serviceName,
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSamplingRate,
	})
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	checks := map[string]handler.Check{}

	// Redis connection
	var redis *redisClient.Client
	if cfg.RedisAddr != "" {
		redis, err = redisClient.NewClient(ctx, redisClient.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Error("failed to connect to redis", "err", err)
			os.Exit(1)
		}
		defer redis.Close()
		checks["redis"] = redis.Check
	}

	// Document store
	var store docstore.Store
	switch cfg.Docstore {
	case config.DocstorePostgres:
		db, err := database.NewConnection(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := database.RunMigrations(ctx, db); err != nil {
			logger.Error("failed to run migrations", "err", err)
			os.Exit(1)
		}
		pg := docstore.NewPostgresStore(db, docstore.NewRedisFeed(redis.Client))
		go func() {
			if err := pg.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("docstore change feed stopped", "err", err)
			}
		}()
		checks["postgres"] = pg.Ping
		store = pg
	default:
		logger.Warn("using in-memory document store; data is lost on restart")
		store = docstore.NewMemoryStore()
	}

	// Ledger summary read model, kept warm by the record event consumer
	summaryRepo := repository.NewSummaryReadRepository(store, nil)
	if redis != nil && cfg.EventsBackend != config.EventsNone {
		summaryRepo = repository.NewSummaryReadRepository(store, repository.NewSummaryViewCache(redis))
	}
	projection := command.NewLedgerProjection(summaryRepo)

	// Event publisher and consumer
	var publisher events.Publisher = events.NopPublisher{}
	var consumer events.Consumer
	switch cfg.EventsBackend {
	case config.EventsRedis:
		publisher = events.NewStreamPublisher(redis.Client)
		consumer = events.NewSubscriber(redis.Client, events.SubscriberConfig{
			Group:    "ledger-projection",
			Consumer: consumerName(),
			Stream:   events.RecordEventsStream,
			Handler:  projection.HandleRecordEvent,
			Logger:   logger,
		})
	case config.EventsKafka:
		brokers := events.SplitBrokers(cfg.KafkaBrokers)
		kafkaPublisher := events.NewKafkaPublisher(brokers)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		consumer = events.NewKafkaSubscriber(events.KafkaSubscriberConfig{
			Brokers: brokers,
			GroupID: "ledger-projection",
			Topic:   events.RecordEventsStream,
			Handler: projection.HandleRecordEvent,
			Logger:  logger,
		})
	}
	if consumer != nil {
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("record event consumer stopped", "err", err)
			}
		}()
	}

	// Background writes
	dispatcher := command.NewDispatcher(cfg.DispatchWorkers, 0, logger)
	dispatcher.Start(ctx)
	hub := notify.NewHub()

	// Command + Query services
	recordCommands := command.NewRecordCommandService(store, publisher, hub, dispatcher)
	profileCommands := command.NewProfileCommandService(store, hub, dispatcher, cfg.IsAdminEmail)

	incomes := query.NewIncomeQueryService(store)
	expenses := query.NewExpenseQueryService(store)
	appointments := query.NewAppointmentQueryService(store)
	dashboard := query.NewDashboardQueryService(incomes, expenses, appointments)
	profiles := query.NewProfileQueryService(store)
	summaries := query.NewSummaryQueryService(summaryRepo)

	// Sessions
	var sessions auth.SessionStore = repository.NewMemorySessionRepository()
	var redirects auth.RedirectStore = repository.NewMemoryRedirectRepository()
	if redis != nil {
		sessions = repository.NewSessionRepository(redis.Client)
		redirects = repository.NewRedirectRepository(redis.Client)
	}
	var provider auth.Provider
	if cfg.GoogleClientID != "" {
		provider = auth.NewGoogleVerifier(cfg.GoogleClientID, auth.NewJWKSClient(cfg.GoogleJWKSURL, time.Hour))
	}
	authService := auth.NewService(store, sessions, redirects, profileCommands, provider, auth.NewBroker(), auth.Config{
		Secret:            cfg.JWTSecret,
		AccessTokenTTL:    cfg.AccessTokenTTL,
		RefreshTokenTTL:   cfg.RefreshTokenTTL,
		RecentLoginWindow: cfg.RecentLoginWindow,
		RedirectURL:       cfg.GoogleRedirectURL,
	})
	shell := session.NewShell(authService, profiles, profileCommands)

	// Handlers
	authHandler := handler.NewAuthHandler(authService, shell, cfg.AppURL)
	profileHandler := handler.NewProfileHandler(profileCommands, profiles)
	dashboardHandler := handler.NewDashboardHandler(dashboard, summaries, hub)
	healthHandler := handler.NewHealthHandler(checks)
	recordHandlers := []interface{ Register(*gin.RouterGroup) }{
		handler.NewIncomeHandler(recordCommands, incomes),
		handler.NewExpenseHandler(recordCommands, expenses),
		handler.NewAppointmentHandler(recordCommands, appointments),
	}

	limiter := middleware.NewRateLimiter(rate.Limit(cfg.AuthRateLimit), cfg.AuthRateBurst)
	go limiter.Run(ctx.Done())

	// Setup router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.LoggingMiddleware(logger))

	// Health check
	router.GET("/health", healthHandler.Health)
	router.GET("/readyz", healthHandler.Ready)

	// Auth routes
	public := router.Group("/v1/auth", limiter.LimitMiddleware())
	{
		public.POST("/signup", authHandler.SignUp)
		public.POST("/login", authHandler.Login)
		public.POST("/anonymous", authHandler.SignInAnonymously)
		public.POST("/federated", authHandler.SignInWithProvider)
		public.POST("/federated/redirect", authHandler.BeginRedirect)
		public.GET("/federated/callback", authHandler.CompleteRedirect)
		public.POST("/federated/callback", authHandler.CompleteRedirect)
		public.GET("/redirect-result", authHandler.GetRedirectResult)
		public.POST("/refresh", authHandler.Refresh)
	}
	router.GET("/v1/auth/session/events", middleware.OptionalAuthMiddleware(authService), authHandler.SessionEvents)

	v1 := router.Group("/v1", middleware.AuthMiddleware(authService))
	{
		v1.POST("/auth/logout", authHandler.Logout)
		v1.GET("/auth/session", authHandler.GetSession)
		v1.POST("/auth/password", authHandler.ChangePassword)

		v1.GET("/profile", profileHandler.GetProfile)
		v1.GET("/profile/live", profileHandler.WatchProfile)
		v1.PATCH("/profile", profileHandler.UpdateProfile)
		v1.GET("/profiles", profileHandler.ListProfiles)

		for _, h := range recordHandlers {
			h.Register(v1)
		}

		v1.GET("/dashboard", dashboardHandler.GetDashboard)
		v1.GET("/dashboard/live", dashboardHandler.WatchDashboard)
		v1.GET("/summary", dashboardHandler.GetSummary)
		v1.GET("/notifications/live", dashboardHandler.WatchNotifications)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(router, serviceName),
		ReadHeaderTimeout: 5 * time.Second,
		// live streams end with the process context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "docstore", cfg.Docstore, "events", cfg.EventsBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	dispatcher.Wait()
	logger.Info("http server stopped")
}

// consumerName identifies this instance within the consumer group.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return serviceName + "-" + strconv.Itoa(os.Getpid())
	}
	return host
}
