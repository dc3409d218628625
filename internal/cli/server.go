package cli

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quiz-sync-service/internal/app"
	"quiz-sync-service/internal/channel"
	"quiz-sync-service/internal/config"
	"quiz-sync-service/internal/infra/memory"
	infrapg "quiz-sync-service/internal/infra/postgres"
	infraredis "quiz-sync-service/internal/infra/redis"
	"quiz-sync-service/internal/logging"
	"quiz-sync-service/internal/metrics"
	"quiz-sync-service/internal/registry"
	"quiz-sync-service/internal/store"
	transport "quiz-sync-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New("quiz-sync-service", cfg.Log.Level)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	// Degrade to the in-memory store when Postgres is not configured.
	var st store.Store = memory.NewStore()
	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bundb := bun.NewDB(sqldb, pgdialect.New())
		defer bundb.Close()
		st = infrapg.NewStore(bundb)
	}

	var loader memory.QuestionLoader = memory.NewStoreLoader(st)
	if pool != nil {
		loader = infrapg.NewQuestionLoader(pool)
	}

	questionTTL := config.TTLDuration(cfg.Question.TTL, 10*time.Minute)
	var questions app.QuestionSource
	if redisClient != nil {
		questions = infraredis.NewQuestionCache(redisClient, loader, questionTTL)
	} else {
		questions = memory.NewQuestionCache(loader, questionTTL)
	}

	// Degrade to the loopback transport when Redis is not configured.
	var bus channel.Transport = memory.NewTransport()
	if redisClient != nil {
		bus = infraredis.NewTransport(redisClient)
	}

	reg := registry.New(logger)
	manager := channel.NewManager(bus, channel.Config{
		HeartbeatInterval:    config.TTLDuration(cfg.Channel.HeartbeatInterval, 30*time.Second),
		MonitorInterval:      config.TTLDuration(cfg.Channel.MonitorInterval, 30*time.Second),
		PublishTimeout:       config.TTLDuration(cfg.Channel.PublishTimeout, 5*time.Second),
		ReconnectBase:        config.TTLDuration(cfg.Channel.ReconnectBase, time.Second),
		ReconnectMax:         config.TTLDuration(cfg.Channel.ReconnectMax, 30*time.Second),
		MaxReconnectAttempts: cfg.Channel.MaxReconnectAttempts,
	}, logger)
	manager.Start()
	defer manager.Stop()

	broadcaster := app.NewBroadcaster(manager, logger)
	bonus := app.NewBonus(app.BonusConfig{
		SpeedEnabled:  cfg.Scoring.SpeedBonus,
		SpeedMax:      cfg.Scoring.SpeedBonusMax,
		StreakEnabled: cfg.Scoring.StreakBonus,
		StreakStep:    cfg.Scoring.StreakBonusStep,
		StreakCap:     cfg.Scoring.StreakBonusCap,
	})
	service := app.NewService(st, questions, reg, broadcaster, bonus, logger)
	reg.OnIdentityGone(service.HandleIdentityGone)

	reporter := metrics.NewReporter(reg, manager)
	wsHandler := transport.NewWSHandler(service, reg, manager, logger)
	opsHandler := transport.NewOpsHandler(service, reporter, logger)

	mux := http.NewServeMux()
	opsHandler.Register(mux)
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	// Background sweeper detaches connections whose heartbeat went silent.
	staleAfter := config.TTLDuration(cfg.Sweeper.StaleAfter, 2*time.Minute)
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(config.TTLDuration(cfg.Sweeper.Interval, time.Minute)),
		gocron.NewTask(func() {
			if swept := reg.SweepStale(staleAfter); len(swept) > 0 {
				logger.WithField("count", len(swept)).Info("swept stale connections")
			}
		}),
	)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() { _ = scheduler.Shutdown() }()

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.WithField("port", finalPort).Info("starting session coordinator")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithField("error", err).Error("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
