package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/aster/config"
	"github.com/Ramsey-B/aster/internal/handlers"
	"github.com/Ramsey-B/aster/pkg/channel"
	"github.com/Ramsey-B/aster/pkg/connection"
	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/dedup"
	"github.com/Ramsey-B/aster/pkg/health"
	"github.com/Ramsey-B/aster/pkg/httpclient"
	"github.com/Ramsey-B/aster/pkg/kafka"
	"github.com/Ramsey-B/aster/pkg/media"
	"github.com/Ramsey-B/aster/pkg/middleware"
	"github.com/Ramsey-B/aster/pkg/redis"
	"github.com/Ramsey-B/aster/pkg/repositories"
	"github.com/Ramsey-B/aster/pkg/startup"
	"github.com/Ramsey-B/aster/pkg/tracing"
	"github.com/Ramsey-B/aster/pkg/tracing/exporters"
	"github.com/Ramsey-B/aster/pkg/webhooks"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := initTracing(ctx, cfg, logger)
	defer shutdownTracing()

	// Database
	db, err := connectDatabase(cfg)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	if err := runMigrations(cfg, db, logger); err != nil {
		logger.WithError(err).Error("failed to run database migrations")
		os.Exit(1)
	}
	dbInstance := database.NewDatabaseInstance(db, logger)

	// Redis
	redisClient, err := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to connect to redis")
		os.Exit(1)
	}
	defer redisClient.Close()

	// Kafka
	producer := kafka.NewProducer(kafka.ParseConfig(cfg.KafkaBrokers, cfg.KafkaMessageTopic, cfg.KafkaConnectionTopic), logger)
	defer producer.Close()

	// Outbound HTTP
	providerClient := httpclient.NewClient(httpclient.Config{Timeout: cfg.ProviderHTTPTimeout}, logger)

	// Repositories
	channelRepo := repositories.NewChannelRepository(dbInstance, logger)
	messageRepo := repositories.NewMessageRepository(dbInstance, logger)
	attachmentRepo := repositories.NewAttachmentRepository(dbInstance, logger)
	contactRepo := repositories.NewContactRepository(dbInstance, logger)
	conversationRepo := repositories.NewConversationRepository(dbInstance, logger)

	// Connection lifecycle, provider facade, inbound pipeline
	manager := connection.NewManager(channelRepo, producer, logger)
	facade := channel.NewFacade(providerClient, manager, logger)
	poller := connection.NewPoller(manager, channelRepo, facade.ProviderFor, logger, cfg.PairingPollDelay, cfg.PairingMaxAttempts)
	defer poller.StopAll()

	guard := dedup.NewGuard(redisClient, cfg.DedupLockTTL, logger)
	downloader := media.NewDownloader(providerClient, logger, cfg.MediaMaxDownloadBytes)

	pipeline := webhooks.NewPipeline(
		guard,
		messageRepo,
		attachmentRepo,
		contactRepo,
		conversationRepo,
		downloader,
		facade,
		manager,
		producer,
		logger,
	)
	registry := webhooks.NewRegistry(
		webhooks.NewBridgeProcessor(pipeline, logger),
		webhooks.NewGatewayProcessor(pipeline, logger),
		webhooks.NewCloudProcessor(pipeline, providerClient, logger),
		webhooks.NewDefaultProcessor(pipeline, logger),
	)

	// External dependency probes run with retries before traffic is accepted.
	boot := startup.NewStartup[any](logger, cfg.StartupMaxAttempts)
	boot.AddDependency(pingDependency{name: "postgres", ping: db.PingContext})
	boot.AddDependency(pingDependency{name: "redis", ping: redisClient.Ping})
	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("startup dependencies failed")
		os.Exit(1)
	}

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(otelecho.Middleware(cfg.AppName))

	checker := health.NewChecker(db, redisClient.Redis(), version)
	e.GET("/live", checker.LivenessHandler)
	e.GET("/ready", checker.ReadinessHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	api.GET("/health", checker.HealthHandler)

	// Webhook intake authenticates with the per-channel verify token, not a
	// bearer, so it stays outside the auth group.
	webhookHandler := handlers.NewWebhookHandler(channelRepo, registry, logger)
	webhookHandler.RegisterRoutes(api)

	authed := api.Group("")
	if cfg.AuthEnabled {
		authed.Use(middleware.Authentication(logger, cfg.AuthIssuerURL, cfg.AuthClientID))
	}
	channelHandler := handlers.NewChannelHandler(channelRepo, facade, poller, manager)
	channelHandler.RegisterRoutes(authed)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		logger.Infof("%s listening on :%d", cfg.AppName, cfg.Port)
		if err := e.StartServer(server); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("http server failed")
			os.Exit(1)
		}
	}()
	checker.SetReady(true)

	<-ctx.Done()
	logger.Info("Shutting down")
	checker.SetReady(false)
	poller.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("failed to shut down http server cleanly")
	}
}

// pingDependency adapts a health ping into a startup dependency.
type pingDependency struct {
	name string
	ping func(ctx context.Context) error
}

func (d pingDependency) GetName() string { return d.name }

func (d pingDependency) DependsOn() []string { return nil }

func (d pingDependency) Start(ctx context.Context) error { return d.ping(ctx) }

func (d pingDependency) Stop(ctx context.Context) error { return nil }

func newLogger(cfg *config.Config) ectologger.Logger {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapCfg.Build()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func initTracing(ctx context.Context, cfg *config.Config, logger ectologger.Logger) func() {
	if !cfg.OTLPEnabled {
		tracing.SetTracer(otel.Tracer(cfg.AppName))
		return func() {}
	}

	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
	})
	if err != nil {
		logger.WithError(err).Error("failed to create OTLP exporter, tracing disabled")
		tracing.SetTracer(otel.Tracer(cfg.AppName))
		return func() {}
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(sdkresource.Default()),
	)
	otel.SetTracerProvider(provider)
	tracing.SetTracer(provider.Tracer(cfg.AppName))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warnf("failed to shut down trace provider")
		}
	}
}

func connectDatabase(cfg *config.Config) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode,
	)

	db, err := sqlx.Open(cfg.DatabaseDriver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	return db, nil
}

func runMigrations(cfg *config.Config, db *sqlx.DB, logger ectologger.Logger) error {
	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return err
	}

	service := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return service.Migrate(cfg.DatabaseName, driver)
}
