package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/duelbot/internal/combat"
	"github.com/duelbot/internal/config"
	"github.com/duelbot/internal/cooldown"
	"github.com/duelbot/internal/duel"
	"github.com/duelbot/internal/handler"
	"github.com/duelbot/internal/kafka"
	"github.com/duelbot/internal/memstore"
	"github.com/duelbot/internal/postgres"
	"github.com/duelbot/internal/redis"
	"github.com/duelbot/internal/service"
	"github.com/duelbot/internal/worker"
)

// store is what the server needs from a persistence driver
type store interface {
	duel.Store
	service.ProgressStore
	worker.StaleLister
	handler.Pinger
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := map[string]handler.Pinger{}

	// Storage
	var st store
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		logger.Warn("using in-memory storage; state is lost on restart")
		st = memstore.New(time.Now)
	default:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		if err := repo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to PostgreSQL")
		st = repo
	}
	deps["store"] = st

	// Redis rankings and cooldowns
	var (
		rankings  *redis.Rankings
		cooldowns cooldown.Tracker
	)
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		client, err := redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		logger.Info("connected to Redis")

		rankings = redis.NewRankings(client, logger)
		deps["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		if cfg.Cooldown.Backend == config.CooldownRedis {
			cooldowns = redis.NewCooldowns(client)
		}
	}
	var memCooldowns *cooldown.Memory
	if cooldowns == nil {
		memCooldowns = cooldown.NewMemory(time.Now)
		cooldowns = memCooldowns
	}

	// Kafka outcome publishing
	var (
		publisher     *kafka.Publisher
		kafkaConsumer *kafka.Consumer
	)
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
		publisher, err = kafka.NewPublisher(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka publisher, updating rankings directly", "error", err)
			publisher = nil
		}
	}

	var (
		rankingCache   service.RankingCache
		eventPublisher service.EventPublisher
	)
	if rankings != nil {
		rankingCache = rankings
	}
	if publisher != nil {
		eventPublisher = publisher
		defer publisher.Close()
	}

	progression := service.NewProgressionService(st, rankingCache, eventPublisher, logger)
	leaderboard := service.NewLeaderboardService(rankingCache, st, &cfg.Leaderboard, logger)

	if publisher != nil && rankings != nil {
		recorder, _ := st.(kafka.OutcomeRecorder)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, rankings, recorder, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	// Duel engine
	seed := cfg.Duel.Seed
	if seed == 0 {
		if seed, err = combat.NewSeed(); err != nil {
			logger.Error("failed to seed combat source", "error", err)
			os.Exit(1)
		}
	}
	machine := duel.NewMachine(st, progression, machineConfig(cfg.Duel), logger,
		duel.WithLevels(progression),
		duel.WithCooldowns(cooldowns),
		duel.WithSource(combat.NewSource(seed)),
	)

	// Workers
	var syncWorker *worker.SyncWorker
	if rankings != nil {
		syncWorker = worker.NewSyncWorker(leaderboard, &cfg.Sync, logger)
		logger.Info("rebuilding rankings from storage")
		syncWorker.RunOnce(ctx)
		if cfg.Sync.Enabled {
			if err := syncWorker.Start(ctx); err != nil {
				logger.Error("failed to start sync worker", "error", err)
				os.Exit(1)
			}
		}
	}

	var expiryWorker *worker.ExpiryWorker
	if cfg.Expiry.Enabled {
		expiryWorker = worker.NewExpiryWorker(st, machine, &cfg.Expiry, logger)
		if err := expiryWorker.Start(ctx); err != nil {
			logger.Error("failed to start expiry worker", "error", err)
			os.Exit(1)
		}
	}

	if memCooldowns != nil {
		go sweepCooldowns(ctx, memCooldowns, cfg.Duel.ChallengeCooldown, logger)
	}

	httpHandler := handler.NewHandler(deps, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if expiryWorker != nil {
		if err := expiryWorker.Stop(); err != nil {
			logger.Error("failed to stop expiry worker", "error", err)
		}
	}
	if syncWorker != nil {
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", "error", err)
		}
	}
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}
	cancel()

	logger.Info("server stopped")
}

func machineConfig(c config.DuelConfig) duel.Config {
	return duel.Config{
		ChallengeCooldown: c.ChallengeCooldown,
		Turn: duel.TurnPolicy{
			HP:      c.TurnHP,
			Attack:  c.Attack,
			Defense: c.Defense,
		},
		Instant:    duel.InstantPolicy{HP: c.InstantHP},
		MaxRetries: c.MaxRetries,
	}
}

// sweepCooldowns drops expired in-process cooldowns so the map does not
// grow with every user who ever challenged
func sweepCooldowns(ctx context.Context, m *cooldown.Memory, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				logger.Debug("swept expired cooldowns", "count", n)
			}
		}
	}
}
