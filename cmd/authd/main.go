// Command authd serves the goGuard authentication endpoints over HTTP.
//
// Configuration comes from an optional YAML file (-config), a .env file and
// the environment; see internal/config.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/auditsink/kafkasink"
	"github.com/MrEthical07/goGuard/internal/config"
	"github.com/MrEthical07/goGuard/internal/obs"
	otelexport "github.com/MrEthical07/goGuard/metrics/export/otel"
	promexport "github.com/MrEthical07/goGuard/metrics/export/prometheus"
	"github.com/MrEthical07/goGuard/storage/memory"
	"github.com/MrEthical07/goGuard/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		panic(err)
	}
	defer func() { _ = l.Sync() }()

	l.Info("config loaded",
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("kafka", cfg.Kafka.Enable),
	)

	if err := run(ctx, cfg, l); err != nil {
		l.Fatal("authd stopped", zap.Error(err))
	}
	l.Info("authd stopped")
}

func run(ctx context.Context, cfg *config.Config, l *zap.Logger) error {
	// sentry
	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.App.Env,
			Release:          cfg.App.Version,
			AttachStacktrace: true,
			EnableTracing:    cfg.Sentry.TracesSampleRate > 0,
			TracesSampleRate: cfg.Sentry.TracesSampleRate,
		}); err != nil {
			l.Warn("sentry init failed", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	guardCfg, err := cfg.GuardConfig()
	if err != nil {
		return err
	}

	b := goGuard.New().
		WithConfig(guardCfg).
		WithLogger(l)

	// redis
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			return err
		}
		b.WithRedis(rdb)
	}

	// storage
	var db *postgres.DB
	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.Storage.Migrate {
			if err := postgres.Migrate(ctx, cfg.Storage.DB.URL); err != nil {
				return err
			}
			l.Info("migrations applied")
		}
		db, err = postgres.New(ctx, cfg.Storage.DB)
		if err != nil {
			return err
		}
		defer db.Close()
		store := postgres.NewStore(db)
		b.WithUserStore(store)
		if guardCfg.Revocation.Backend == goGuard.BackendDatabase {
			b.WithTokenRepository(store)
		}
	default:
		store := memory.New()
		b.WithUserStore(store)
		if guardCfg.Revocation.Backend == goGuard.BackendDatabase {
			b.WithTokenRepository(store)
		}
	}

	// audit
	sinks := goGuard.MultiSink{goGuard.NewZapSink(l.Named("audit"))}
	if cfg.Kafka.Enable {
		ensureAuditTopic(ctx, cfg.Kafka, l)
		ks := kafkasink.New(kafkasink.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}, l)
		defer func() { _ = ks.Close() }()
		sinks = append(sinks, ks)
	}
	b.WithAuditSink(sinks)

	engine, err := b.Build()
	if err != nil {
		return err
	}
	defer engine.Close()
	engine.Start(ctx)

	// metrics
	otelExp, err := otelexport.New(otel.Meter("github.com/MrEthical07/goGuard"), engine)
	if err != nil {
		return err
	}
	defer func() { _ = otelExp.Close() }()

	metricsHandler, err := promexport.Handler(engine, nil)
	if err != nil {
		return err
	}
	ms := metricsServer(cfg.Server.MetricsAddr, metricsHandler, func(ctx context.Context) error {
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return err
			}
		}
		if db != nil {
			return db.Ping(ctx)
		}
		return nil
	})
	go func() {
		l.Info("metrics listening", zap.String("addr", cfg.Server.MetricsAddr))
		if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics server error", zap.Error(err))
		}
	}()

	// http
	srv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      otelhttp.NewHandler(newRouter(engine, cfg, l), "authd"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		l.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	l.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	_ = ms.Shutdown(shutdownCtx)
	return srv.Shutdown(shutdownCtx)
}

// ensureAuditTopic creates the audit topic. Failure is logged; the sink
// still starts and reports write errors per event.
func ensureAuditTopic(ctx context.Context, k config.Kafka, l *zap.Logger) {
	if err := kafkasink.EnsureTopic(ctx, k.Brokers, k.Topic, 1, 5*time.Second, l); err != nil {
		l.Warn("kafka topic bootstrap failed", zap.String("topic", k.Topic), zap.Error(err))
	}
}

func metricsServer(addr string, metrics http.Handler, health func(context.Context) error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if err := health(ctx); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}
