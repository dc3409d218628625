package cli

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quiz-sync-service/internal/app"
	"quiz-sync-service/internal/config"
	"quiz-sync-service/internal/domain"
	"quiz-sync-service/internal/infra/memory"
	infrapg "quiz-sync-service/internal/infra/postgres"
	"quiz-sync-service/internal/logging"
	"quiz-sync-service/internal/registry"
	"quiz-sync-service/internal/store"
)

// NewSeedCmd inserts a demo session with a couple of questions, useful for
// poking at the service without a host UI.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert a demo session and questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath)
		},
	}
}

func runSeed(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var st store.Store = memory.NewStore()
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bundb := bun.NewDB(sqldb, pgdialect.New())
		defer bundb.Close()
		st = infrapg.NewStore(bundb)
	} else {
		log.Printf("no postgres configured; seeding in-memory store (discarded on exit)")
	}

	logger := logging.New("quiz-sync-service", cfg.Log.Level)
	reg := registry.New(logger)
	broadcaster := app.NewBroadcaster(noopPublisher{}, logger)
	service := app.NewService(st, memory.NewQuestionCache(memory.NewStoreLoader(st), time.Minute), reg, broadcaster, nil, logger)

	sess, err := service.CreateSession(ctx)
	if err != nil {
		return err
	}
	ctrl := app.Control{SessionID: sess.ID, Role: domain.RoleHost}
	for _, q := range sampleQuestions() {
		if _, err := service.AddQuestion(ctx, ctrl, q); err != nil {
			return err
		}
	}
	log.Printf("seeded session %s with access code %s", sess.ID, sess.AccessCode)
	return nil
}

func sampleQuestions() []app.QuestionInput {
	return []app.QuestionInput{
		{
			Prompt:        "What is 2 + 2?",
			Options:       []string{"3", "4", "5"},
			CorrectOption: 1,
			TimeLimit:     20 * time.Second,
			Points:        100,
		},
		{
			Prompt:        "Which planet is closest to the sun?",
			Options:       []string{"Venus", "Earth", "Mercury", "Mars"},
			CorrectOption: 2,
			TimeLimit:     20 * time.Second,
			Points:        100,
		},
	}
}

// noopPublisher drops broadcasts; seeding has no live room to notify.
type noopPublisher struct{}

func (noopPublisher) EnsureChannel(context.Context, string) error { return nil }

func (noopPublisher) Publish(context.Context, string, domain.Envelope) error { return nil }
