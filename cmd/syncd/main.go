package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medisync/emr-backend/internal/adapters/cache"
	"github.com/medisync/emr-backend/internal/adapters/database"
	"github.com/medisync/emr-backend/internal/application/services"
	"github.com/medisync/emr-backend/internal/infrastructure/clients/feeschedule"
	"github.com/medisync/emr-backend/internal/infrastructure/clients/postgres"
	"github.com/medisync/emr-backend/internal/infrastructure/clients/redis"
	"github.com/medisync/emr-backend/internal/infrastructure/observability"
	"github.com/medisync/emr-backend/pkg/config"
	"github.com/medisync/emr-backend/pkg/tenant"
)

// syncd keeps the persisted fee catalog aligned with the national fee
// schedule. It runs one full pass immediately and then repeats on the
// configured interval until interrupted.
func main() {
	var intervalFlag string
	var once bool
	flag.StringVar(&intervalFlag, "interval", "", "repeat interval between sync runs (e.g. 6h, 30m)")
	flag.BoolVar(&once, "once", false, "run a single sync pass and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	observability.InitLogger("catalog-syncd", os.Getenv("ENV"))

	interval := cfg.Sync.Interval
	if value := strings.TrimSpace(intervalFlag); value != "" {
		interval, err = time.ParseDuration(value)
		if err != nil {
			log.Fatal().Str("interval", value).Err(err).Msg("Invalid interval")
		}
	}
	if interval <= 0 && !once {
		log.Fatal().Dur("interval", interval).Msg("Interval must be greater than zero")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTEL.Enabled {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Telemetry shutdown failed")
				}
			}()
		}
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pgClient.Close()

	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	catalogRepo := database.NewCatalogAdapter(pgClient)
	cacheAdapter := cache.NewRedisAdapter(redisClient)
	feeClient := feeschedule.NewClient(cfg.FeeSchedule.BaseURL, cfg.FeeSchedule.ServiceKey, cfg.FeeSchedule.CallTimeout)

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize metrics")
		metrics = nil
	}

	resolver := services.NewFeeResolverService(
		feeClient,
		catalogRepo,
		cacheAdapter,
		cfg.FeeSchedule.InstitutionName,
		cfg.FeeSchedule.CallTimeout,
	).WithMetrics(metrics)
	syncService := services.NewFeeSyncService(resolver, catalogRepo, cfg.Sync.Workers)

	// All cache keys and lookups are scoped to this institution.
	ctx = tenant.WithInstitution(ctx, cfg.FeeSchedule.InstitutionCode)

	log.Info().
		Dur("interval", interval).
		Int("workers", cfg.Sync.Workers).
		Str("institution", cfg.FeeSchedule.InstitutionCode).
		Msg("Catalog sync daemon starting")

	for {
		runSync(ctx, syncService, metrics)

		if once {
			return
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("Catalog sync daemon shutting down")
			return
		case <-time.After(interval):
		}
	}
}

func runSync(ctx context.Context, syncService *services.FeeSyncService, metrics *observability.Metrics) {
	start := time.Now()
	summary, err := syncService.SyncAll(ctx)
	elapsed := time.Since(start)

	if metrics != nil {
		metrics.SyncDuration.Record(ctx, elapsed.Seconds())
	}

	if err != nil {
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("Catalog sync pass failed")
		return
	}

	log.Info().
		Int("total", summary.Total).
		Int("synced", summary.Synced).
		Int("unchanged", summary.Unchanged).
		Int("failed", summary.Failed).
		Dur("elapsed", elapsed).
		Msg("Catalog sync pass finished")
}
