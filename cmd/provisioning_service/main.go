package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aks-o/voxlink-sub007/internal/platform/config"
	"github.com/aks-o/voxlink-sub007/internal/platform/database"
	"github.com/aks-o/voxlink-sub007/internal/platform/logger"
	"github.com/aks-o/voxlink-sub007/internal/platform/messagebroker"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/adapters/httpapi"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/app"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/breaker"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/provider"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/repository"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/repository/memory"
	pgrepo "github.com/aks-o/voxlink-sub007/internal/provisioning/repository/postgres"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/repository/redisrepo"
)

const serviceName = "provisioning_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("provisioning service starting", "port", cfg.HTTPPort, "store", cfg.ReservationStore)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, cleanup, err := buildReservationStore(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error("failed to initialize reservation store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	var publisher messagebroker.Publisher = messagebroker.NoopPublisher{}
	if cfg.NATSUrl != "" {
		natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, appLogger)
		if err != nil {
			appLogger.Error("failed to connect to NATS", "url", cfg.NATSUrl, "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = natsClient
		appLogger.Info("connected to NATS", "url", cfg.NATSUrl)
	} else {
		appLogger.Info("no NATS url configured, lifecycle events disabled")
	}

	clock := domain.RealClock{}
	registry, err := buildRegistry(cfg, clock, publisher, appLogger)
	if err != nil {
		appLogger.Error("failed to build provider registry", "error", err)
		os.Exit(1)
	}

	aggregator := app.NewSearchAggregator(registry, cfg.SearchTimeout(), appLogger)
	manager := app.NewReservationManager(repo, registry, clock, cfg.ReservationTTL(), publisher, appLogger)
	defer manager.Stop()

	monitor := app.NewHealthMonitor(registry, cfg.HealthProbeInterval(), appLogger)
	monitor.Start()
	defer monitor.Stop()

	facade := app.NewFacade(aggregator, manager, monitor, appLogger)
	router := httpapi.NewRouter(httpapi.NewHandler(facade, appLogger))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("http server listening", "addr", server.Addr)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		appLogger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http server shutdown failed", "error", err)
	}
	appLogger.Info("provisioning service stopped")
}

// buildReservationStore wires the configured persistence backend. The
// returned cleanup closes connection pools; it is a no-op for the in-memory
// store.
func buildReservationStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (repository.ReservationRepository, func(), error) {
	switch cfg.ReservationStore {
	case "memory", "":
		return memory.NewReservationRepository(domain.RealClock{}), func() {}, nil
	case "postgres":
		pool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		log.Info("connected to postgres")
		return pgrepo.NewPgReservationRepository(pool), pool.Close, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		log.Info("connected to redis", "addr", cfg.RedisAddr)
		return redisrepo.NewRedisReservationRepository(client), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown reservation store %q", cfg.ReservationStore)
	}
}

// buildRegistry creates one adapter plus breaker per configured provider.
func buildRegistry(cfg *config.Config, clock domain.Clock, publisher messagebroker.Publisher, log *slog.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	listener := app.NewBreakerListener(log, publisher, clock)
	breakerCfg := breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout(),
	}

	for _, pc := range cfg.Providers {
		var adapter provider.Adapter
		switch pc.Kind {
		case "sim", "":
			adapter = provider.NewSimProvider(log, pc.Name)
		case "rest":
			if pc.BaseURL == "" {
				return nil, fmt.Errorf("provider %s: base_url is required for kind rest", pc.Name)
			}
			adapter = provider.NewRestProvider(log, pc.Name, pc.BaseURL, pc.APIKey, nil)
		default:
			return nil, fmt.Errorf("provider %s: unknown kind %q", pc.Name, pc.Kind)
		}
		brk := breaker.New(pc.Name, breakerCfg, clock, listener)
		registry.Register(adapter, brk, pc.RateBudget)
		log.Info("registered provider", "provider_name", pc.Name, "kind", pc.Kind, "rate_budget", pc.RateBudget)
	}
	return registry, nil
}
