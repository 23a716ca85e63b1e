package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/havenchat/warden/cachestore"
	"github.com/havenchat/warden/classifier"
	"github.com/havenchat/warden/countstore"
	"github.com/havenchat/warden/engine"
	"github.com/havenchat/warden/idempotency"
	"github.com/havenchat/warden/models"
	"github.com/havenchat/warden/modqueue"
	"github.com/havenchat/warden/provider"
	"github.com/havenchat/warden/registry"
	"github.com/havenchat/warden/util"
)

type Config struct {
	DatabaseURL        string
	MaxDBConnections   int
	RedisURL           string
	WebhookSecret      string
	AdminPassword      string
	ProviderHost       string
	ProviderAPIKey     string
	ProviderRateLimit  int
	SlackWebhookURL    string
	RuleCacheTTL       time.Duration
	RetentionDays      int
	TakedownDailyQuota int
	AsyncWorkers       int
	Logger             *slog.Logger
}

type Server struct {
	logger        *slog.Logger
	db            *gorm.DB
	echo          *echo.Echo
	engine        *engine.Engine
	registry      *registry.Registry
	store         *modqueue.Store
	resolver      *modqueue.Resolver
	guard         *idempotency.GormGuard
	cron          *cron.Cron
	webhookSecret []byte
	adminPassword string
	retention     time.Duration
}

func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	if config.WebhookSecret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}

	db, err := util.SetupDatabase(config.DatabaseURL, config.MaxDBConnections)
	if err != nil {
		return nil, fmt.Errorf("setting up database: %w", err)
	}
	for _, model := range []any{
		&models.KeywordRule{},
		&models.ProcessedEvent{},
		&models.QueueItem{},
		&models.Report{},
		&models.AuditRecord{},
		&models.ChatUser{},
		&models.Room{},
	} {
		if err := db.AutoMigrate(model); err != nil {
			return nil, fmt.Errorf("migrating schema: %w", err)
		}
	}

	var counters countstore.CountStore
	var cache cachestore.CacheStore
	if config.RedisURL != "" {
		cnt, err := countstore.NewRedisCountStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis countstore: %w", err)
		}
		counters = cnt

		csh, err := cachestore.NewRedisCacheStore(config.RedisURL, 24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("initializing redis cachestore: %w", err)
		}
		cache = csh
	} else {
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemCacheStore(5_000, 24*time.Hour)
	}

	reg := registry.NewRegistry(registry.NewGormSource(db), logger)
	if config.RuleCacheTTL > 0 {
		reg.WithTTL(config.RuleCacheTTL)
	}

	chat := provider.NewHTTPClient(config.ProviderHost, config.ProviderAPIKey, config.ProviderRateLimit)

	var notifier engine.Notifier
	if config.SlackWebhookURL != "" {
		logger.Info("configuring slack moderator notifications")
		notifier = &engine.SlackNotifier{WebhookURL: config.SlackWebhookURL}
	}

	guard := idempotency.NewGormGuard(db, logger)
	store := modqueue.NewStore(db)

	eng := &engine.Engine{
		Logger:     logger,
		Classifier: classifier.NewClassifier(reg, logger),
		Guard:      guard,
		Queue:      store,
		Rooms:      engine.NewGormRoomStore(db),
		Provider:   chat,
		Notifier:   notifier,
		Counters:   counters,
		Cache:      cache,
		Async:      engine.NewAsyncRunner(config.AsyncWorkers, 1024, logger),

		ActorID: "warden",
		CrisisResources: []string{
			"You are not alone. Crisis Text Line: text HOME to 741741",
			"988 Suicide & Crisis Lifeline: call or text 988",
		},
		TakedownDailyQuota: config.TakedownDailyQuota,
	}

	retention := idempotency.DefaultRetention
	if config.RetentionDays > 0 {
		retention = time.Duration(config.RetentionDays) * 24 * time.Hour
	}

	s := &Server{
		logger:        logger,
		db:            db,
		engine:        eng,
		registry:      reg,
		store:         store,
		resolver:      modqueue.NewResolver(store, chat, logger),
		guard:         guard,
		webhookSecret: []byte(config.WebhookSecret),
		adminPassword: config.AdminPassword,
		retention:     retention,
	}

	// the retention sweep runs off the hot path, hourly
	s.cron = cron.New()
	if _, err := s.cron.AddFunc("@hourly", s.sweepProcessedEvents); err != nil {
		return nil, fmt.Errorf("scheduling retention sweep: %w", err)
	}
	s.cron.Start()

	return s, nil
}

func (s *Server) sweepProcessedEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.guard.SweepExpired(ctx, s.retention, idempotency.DefaultPendingTimeout); err != nil {
		s.logger.Error("retention sweep failed", "err", err)
	}
}

func (s *Server) RunAPI(listen string) error {
	e := echo.New()
	s.echo = e
	e.HideBanner = true

	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		code := 500
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		if !ctx.Response().Committed {
			s.logger.Warn("HTTP request error", "statusCode", code, "path", ctx.Path(), "err", err)
			ctx.Response().WriteHeader(code)
		}
	}

	s.RegisterHandlers(e)

	s.logger.Info("starting warden HTTP daemon", "listen", listen)
	err := e.Start(listen)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.cron.Stop()
	if err := s.engine.Async.Shutdown(ctx); err != nil {
		s.logger.Error("async runner shutdown", "err", err)
	}
	if s.echo != nil {
		return s.echo.Shutdown(ctx)
	}
	return nil
}
