package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ms-coupons/internal/auth"
	"ms-coupons/internal/cache"
	"ms-coupons/internal/config"
	"ms-coupons/internal/coupon"
	"ms-coupons/internal/coupon/api"
	"ms-coupons/internal/coupon/db"
	"ms-coupons/internal/database"
	"ms-coupons/internal/database/migrations"
	"ms-coupons/internal/kafka"
	"ms-coupons/internal/logger"
	"ms-coupons/internal/metrics"
	"ms-coupons/internal/models"
	"ms-coupons/internal/tracing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func buildVerifier(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) auth.TokenVerifier {
	if cfg.OIDCIssuer != "" {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer)
		if err != nil {
			log.Fatal("AUTH", err.Error())
		}
		log.Info("AUTH", fmt.Sprintf("Verifying tokens against %s", cfg.OIDCIssuer))
		return v
	}
	if !cfg.DevMode {
		log.Fatal("AUTH", "OIDC_ISSUER not set and AUTH_DEV_MODE disabled")
	}
	log.Warn("AUTH", "AUTH_DEV_MODE enabled, token signatures are NOT verified")
	return auth.NewUnverifiedVerifier()
}

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)
	defer log.Close()

	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	log.Info("APP", "Starting Coupon Service initialization")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.Tracing.OTLPEndpoint,
	})
	if err != nil {
		log.Fatal("TRACING", err.Error())
	}
	if cfg.Tracing.OTLPEndpoint != "" {
		log.Info("TRACING", fmt.Sprintf("Exporting spans to %s", cfg.Tracing.OTLPEndpoint))
	}

	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if cfg.Migrations.AutoMigrate {
		runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
			MigrationsDir: cfg.Migrations.Dir,
			AutoMigrate:   true,
			SeedData:      cfg.Migrations.SeedData,
		}, log)
		if err := runner.RunMigrations(); err != nil {
			log.Fatal("MIGRATE", err.Error())
		}
		// Closing the runner would close the shared *sql.DB.
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store := db.NewDB(bunDB, db.TxConfig{
		Serializable: true,
		MaxRetries:   cfg.Database.TxMaxRetries,
		RetryBackoff: cfg.Database.TxRetryBackoff,
	})
	store.OnRetry = func(attempt int, err error) {
		m.TxRetry()
		log.LogDatabase("RETRY", "coupons", fmt.Sprintf("attempt %d after conflict: %v", attempt, err))
	}

	opts := []coupon.Option{coupon.WithMetrics(m)}

	if cfg.Redis.Enabled {
		redisClient, err := cache.Connect(ctx, cfg.Redis.Addr, log)
		if err != nil {
			log.Warn("REDIS", fmt.Sprintf("Stats cache disabled: %v", err))
		} else {
			defer redisClient.Close()
			opts = append(opts, coupon.WithStatsCache(cache.NewStatsCache(redisClient, cfg.Redis.StatsTTL)))
		}
	}

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		topics := []string{cfg.Kafka.Topics.OrderCreated, cfg.Kafka.Topics.CouponOutcome}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}

		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.CouponOutcome)
		defer producer.Close()
		opts = append(opts, coupon.WithPublisher(producer))

		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.OrderCreated, cfg.Kafka.GroupID, log)
		consumer.OnResult(m.Event)
	}

	svc := coupon.NewService(store, log, opts...)

	var consumers sync.WaitGroup
	if consumer != nil {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			err := consumer.Run(ctx, func(ctx context.Context, event models.OrderCreatedEvent) error {
				_, err := svc.HandleOrderCreated(ctx, event.Order())
				return err
			})
			if err != nil {
				log.Error("KAFKA", fmt.Sprintf("Order consumer stopped: %v", err))
			}
		}()
	}

	verifier := buildVerifier(ctx, cfg.Auth, log)
	handler := api.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(api.RequestLogger(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := bunDB.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", m.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, log))
		handler.RegisterRoutes(r)
	})
	log.Info("ROUTER", "Coupon admin routes registered under /api/v1/coupons")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      otelhttp.NewHandler(r, "http.server"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Coupon Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	<-ctx.Done()
	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}

	// The handler in flight writes through bunDB, so wait for it before
	// the deferred closes run.
	consumers.Wait()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Consumer close: %v", err))
		}
	}
	if err := shutdownTracing(ctxShutdown); err != nil {
		log.Warn("APP", fmt.Sprintf("Tracer shutdown: %v", err))
	}
	log.Info("APP", "Coupon Service shutdown complete")
}
