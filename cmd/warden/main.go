// warden is the chat moderation daemon: it ingests message webhooks from the
// chat provider, classifies them against the keyword rule set, and routes
// moderation actions and the human review queue.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "warden",
		Usage:   "chat moderation daemon",
		Version: versioninfo.Short(),
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/warden/warden.sqlite",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Value:   40,
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for counters and caches; in-memory fallbacks when empty",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3900",
			EnvVars: []string{"WARDEN_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3901",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:     "webhook-secret",
			Usage:    "shared secret for verifying provider webhook signatures",
			Required: true,
			EnvVars:  []string{"WARDEN_WEBHOOK_SECRET"},
		},
		&cli.StringFlag{
			Name:    "admin-password",
			Usage:   "password for the admin API (basic auth, user 'admin')",
			EnvVars: []string{"WARDEN_ADMIN_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "provider-host",
			Usage:   "base URL of the chat provider REST API",
			Value:   "https://chat.example.com",
			EnvVars: []string{"CHAT_PROVIDER_HOST"},
		},
		&cli.StringFlag{
			Name:    "provider-api-key",
			EnvVars: []string{"CHAT_PROVIDER_API_KEY"},
		},
		&cli.IntFlag{
			Name:    "provider-rate-limit",
			Usage:   "max outbound requests per second to the chat provider",
			Value:   20,
			EnvVars: []string{"CHAT_PROVIDER_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "slack incoming webhook for moderator notifications",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.DurationFlag{
			Name:    "rule-cache-ttl",
			Value:   5 * time.Minute,
			EnvVars: []string{"WARDEN_RULE_CACHE_TTL"},
		},
		&cli.IntFlag{
			Name:    "retention-days",
			Usage:   "days to keep processed-event records",
			Value:   7,
			EnvVars: []string{"WARDEN_RETENTION_DAYS"},
		},
		&cli.IntFlag{
			Name:    "takedown-daily-quota",
			Usage:   "max automated hard deletes per day (circuit breaker)",
			Value:   200,
			EnvVars: []string{"WARDEN_TAKEDOWN_DAILY_QUOTA"},
		},
		&cli.IntFlag{
			Name:    "async-workers",
			Value:   4,
			EnvVars: []string{"WARDEN_ASYNC_WORKERS"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		// Enable OTLP HTTP exporter
		// For relevant environment variables:
		// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlptrace#readme-environment-variables
		// At a minimum, you need to set
		// OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4318
		if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
			slog.Info("setting up trace exporter", "endpoint", ep)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			exp, err := otlptracehttp.New(ctx)
			if err != nil {
				log.Fatalf("failed to create trace exporter: %v", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := exp.Shutdown(ctx); err != nil {
					slog.Error("failed to shutdown trace exporter", "error", err)
				}
			}()

			tp := tracesdk.NewTracerProvider(
				tracesdk.WithBatcher(exp),
				tracesdk.WithResource(resource.NewWithAttributes(
					semconv.SchemaURL,
					semconv.ServiceNameKey.String("warden"),
					attribute.String("env", os.Getenv("ENVIRONMENT")),         // DataDog
					attribute.String("environment", os.Getenv("ENVIRONMENT")), // Others
					attribute.Int64("ID", 1),
				)),
			)
			otel.SetTracerProvider(tp)
		}

		srv, err := NewServer(Config{
			DatabaseURL:        cctx.String("database-url"),
			MaxDBConnections:   cctx.Int("max-db-connections"),
			RedisURL:           cctx.String("redis-url"),
			WebhookSecret:      cctx.String("webhook-secret"),
			AdminPassword:      cctx.String("admin-password"),
			ProviderHost:       cctx.String("provider-host"),
			ProviderAPIKey:     cctx.String("provider-api-key"),
			ProviderRateLimit:  cctx.Int("provider-rate-limit"),
			SlackWebhookURL:    cctx.String("slack-webhook-url"),
			RuleCacheTTL:       cctx.Duration("rule-cache-ttl"),
			RetentionDays:      cctx.Int("retention-days"),
			TakedownDailyQuota: cctx.Int("takedown-daily-quota"),
			AsyncWorkers:       cctx.Int("async-workers"),
			Logger:             logger,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			return srv.RunAPI(cctx.String("bind"))
		})
		eg.Go(func() error {
			return srv.RunMetrics(cctx.String("metrics-listen"))
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if err := eg.Wait(); err != nil && err != context.Canceled {
			return fmt.Errorf("service failed: %w", err)
		}
		return nil
	},
}
