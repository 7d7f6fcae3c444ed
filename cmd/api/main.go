package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dejobratic/paygate/internal/config"
	"github.com/dejobratic/paygate/internal/database"
	idempostgres "github.com/dejobratic/paygate/internal/idempotency/postgres"
	"github.com/dejobratic/paygate/internal/kafka"
	"github.com/dejobratic/paygate/internal/payments/adapters"
	httpadapter "github.com/dejobratic/paygate/internal/payments/adapters/http"
	"github.com/dejobratic/paygate/internal/payments/adapters/memory"
	"github.com/dejobratic/paygate/internal/payments/adapters/paysafe"
	paymentspostgres "github.com/dejobratic/paygate/internal/payments/adapters/postgres"
	"github.com/dejobratic/paygate/internal/payments/adapters/redislock"
	"github.com/dejobratic/paygate/internal/payments/app"
	paymentsmetrics "github.com/dejobratic/paygate/internal/payments/metrics"
	"github.com/dejobratic/paygate/internal/payments/ports"
	"github.com/dejobratic/paygate/internal/payments/vault"
	"github.com/dejobratic/paygate/internal/telemetry"
)

const (
	idempotencySweepInterval = 10 * time.Minute

	gatewayCallsPerCharge = 6
	orderLockPrefix       = "paygate:order-lock:"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger(telemetry.ParseLevel(cfg.Telemetry.LogLevel))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("paygate exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Environment:    cfg.Service.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTelEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTelInsecure,
		EnableTracing:  cfg.Telemetry.EnableTracing,
		EnableMetrics:  cfg.Telemetry.EnableMetrics,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	var closers []func() error
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			err = errors.Join(err, closers[i]())
		}
		err = errors.Join(err, tel.Shutdown(shutdownCtx))
	}()

	meter := tel.Meter("paygate")
	dbMetrics, err := database.NewMetrics(meter)
	if err != nil {
		return err
	}
	kafkaMetrics, err := kafka.NewMetrics(meter)
	if err != nil {
		return err
	}
	paymentMetrics, err := paymentsmetrics.NewMetrics(meter)
	if err != nil {
		return err
	}
	httpMetrics, err := httpadapter.NewMetrics(meter)
	if err != nil {
		return err
	}

	pool, err := database.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	closers = append(closers, func() error { pool.Close(); return nil })
	if err := database.ObservePool(meter, pool); err != nil {
		return err
	}

	if cfg.Database.AutoMigrate {
		version, err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath, logger)
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database schema ready", "version", version)
	}

	repo := adapters.NewObservableRepository(paymentspostgres.NewRepository(pool), dbMetrics)
	// A charge may hold its idempotency key for as long as the server lets
	// it write.
	writeTimeout := chargeWriteTimeout(cfg.Gateway.Timeout)
	idemStore := idempostgres.NewStore(pool, cfg.HTTP.IdempotencyRetention,
		idempostgres.WithProcessingTTL(writeTimeout+time.Minute),
	)

	creds := paysafe.Credentials{
		Endpoint:  cfg.Gateway.Endpoint,
		AccountID: cfg.Gateway.AccountID,
		Username:  cfg.Gateway.Username,
		APIKey:    cfg.Gateway.APIKey,
	}
	clientOpts := []paysafe.Option{paysafe.WithTimeout(cfg.Gateway.Timeout), paysafe.WithLogger(logger)}

	gatewayClient, err := paysafe.NewClient(creds, clientOpts...)
	if err != nil {
		return fmt.Errorf("create gateway client: %w", err)
	}
	vaultClient, err := paysafe.NewVaultClient(creds, clientOpts...)
	if err != nil {
		return fmt.Errorf("create vault client: %w", err)
	}

	locker, orderLock, closeLocker := newLockers(ctx, cfg.Redis, logger)
	closers = append(closers, closeLocker)

	cardVault := vault.NewAdapter(
		adapters.NewObservableVaultClient(vaultClient, paymentMetrics),
		paymentspostgres.NewVaultStore(pool),
		locker,
		logger,
		cfg.Gateway.MerchantPrefix,
	)

	events, topic, closeEvents, err := newEventBus(cfg.Kafka, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closeEvents)

	redirectMethod, err := app.ParseRedirectMethod(cfg.Gateway.RedirectMethod)
	if err != nil {
		return err
	}

	service := app.NewService(app.Dependencies{
		Gateway:   adapters.NewObservableGateway(gatewayClient, paymentMetrics),
		Vault:     cardVault,
		Orders:    repo,
		Registry:  repo,
		Payments:  repo,
		Events:    adapters.NewObservableEventBus(events, topic, kafkaMetrics),
		IdemStore: idemStore,
		OrderLock: orderLock,
	}, app.Settings{
		MerchantPrefix: cfg.Gateway.MerchantPrefix,
		ReturnSecret:   cfg.Gateway.ReturnSecret,
		Redirect:       app.RedirectConfig{Method: redirectMethod, URL: cfg.Gateway.RedirectURL},
	}, logger, paymentMetrics)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(withRecovery(logger))
	r.Use(withLogging(logger))
	r.Use(httpadapter.WithMetrics(httpMetrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.CheckHealth(r.Context(), pool); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		if !service.Ready(r.Context()) {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": "payment gateway unreachable"})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	httpadapter.NewHandler(service, logger, httpMetrics).Register(r)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           otelhttp.NewHandler(r, "paygate-api"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go sweepIdempotencyKeys(ctx, idemStore, logger)

	go func() {
		logger.Info("http server starting", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownGrace)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("http server stopped")
	return nil
}

// newLockers prefers Redis locks so replicas serialize vault work per customer
// and charges per order; a single instance can use the in-process ones.
func newLockers(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (ports.CustomerLocker, ports.OrderLocker, func() error) {
	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not set, customer and order locks are local to this process")
		return memory.NewKeyedLocker(), memory.NewKeyedLocker(), func() error { return nil }
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	customers := redislock.New(client, redislock.WithTTL(cfg.LockTTL), redislock.WithLogger(logger))
	orders := redislock.New(client,
		redislock.WithTTL(cfg.LockTTL),
		redislock.WithLogger(logger),
		redislock.WithKeyPrefix(orderLockPrefix),
	)
	if err := customers.Ping(ctx); err != nil {
		logger.Warn("redis not reachable at startup", "addr", cfg.Addr, "error", err)
	}
	return customers, orders, client.Close
}

// chargeWriteTimeout covers the sequential gateway calls of one charge, each
// bounded by the client timeout: the readiness check, the vault profile,
// address and card calls, a second readiness check when the vault work
// outlived the first, and the authorization.
func chargeWriteTimeout(gatewayTimeout time.Duration) time.Duration {
	return gatewayTimeout*gatewayCallsPerCharge + 15*time.Second
}

func newEventBus(cfg config.KafkaConfig, logger *slog.Logger) (ports.EventBus, string, func() error, error) {
	if len(cfg.Brokers) == 0 {
		logger.Info("KAFKA_BROKERS not set, payment events are logged only")
		return kafka.NewNoopEventBus(), "noop", func() error { return nil }, nil
	}

	bus, client, err := kafka.NewEventBus(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, "", nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return bus, bus.Topic(), func() error {
		client.Close()
		return nil
	}, nil
}

type expiredKeyDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

func sweepIdempotencyKeys(ctx context.Context, store expiredKeyDeleter, logger *slog.Logger) {
	ticker := time.NewTicker(idempotencySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.DeleteExpired(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "failed to delete expired idempotency keys", "error", err)
				continue
			}
			if n > 0 {
				logger.InfoContext(ctx, "deleted expired idempotency keys", "count", n)
			}
		}
	}
}

func withLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"request_id", middleware.GetReqID(r.Context()),
				"duration", time.Since(start),
			)
		})
	}
}

func withRecovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorContext(r.Context(), "panic recovered", "error", rec)
					respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
