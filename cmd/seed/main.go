package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"telegram-course-streams/internal/config"
	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
	"telegram-course-streams/internal/infra/api"
	pg "telegram-course-streams/internal/infra/db/postgres"
	"telegram-course-streams/internal/infra/db/sqlite"
	"telegram-course-streams/internal/infra/logging"
)

const (
	demoCreatorID = "demo-creator"
	demoStreamID  = "demo-stream"
	demoInvite    = "DEMOSTREAMSHAREDLINK2345"
)

// courseSQL is portable across postgres and sqlite.
var courseSQL = []string{
	`INSERT INTO creators (id, name) VALUES ('demo-creator', 'Demo Creator') ON CONFLICT DO NOTHING`,
	`INSERT INTO courses (id, creator_id, title) VALUES ('demo-course', 'demo-creator', 'Practical Go') ON CONFLICT DO NOTHING`,
	`INSERT INTO course_blocks (id, course_id, position, title) VALUES
		('demo-b1', 'demo-course', 1, 'Basics'),
		('demo-b2', 'demo-course', 2, 'Concurrency') ON CONFLICT DO NOTHING`,
	`INSERT INTO lessons (id, block_id, position, title) VALUES
		('demo-l1', 'demo-b1', 1, 'Tooling and modules'),
		('demo-l2', 'demo-b1', 2, 'Errors as values'),
		('demo-l3', 'demo-b2', 1, 'Goroutines and channels'),
		('demo-l4', 'demo-b2', 2, 'Context and cancellation') ON CONFLICT DO NOTHING`,
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "allow env-only configuration")
	price := flag.Int64("price", 4900, "stream price in minor units, 0 for a free stream")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		exec    func(ctx context.Context, q string) error
		streams repository.StreamRepository
		promos  repository.PromoRepository
	)
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.Database.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite")
		}
		defer store.Close()
		exec = func(ctx context.Context, q string) error {
			_, err := store.DB().ExecContext(ctx, q)
			return err
		}
		streams, promos = sqlite.NewStreamRepo(store), sqlite.NewPromoRepo(store)
	default:
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres")
		}
		defer pool.Close()
		if err := pg.RunMigrations(cfg.Database.URL, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrations")
		}
		exec = func(ctx context.Context, q string) error {
			_, err := pool.Exec(ctx, q)
			return err
		}
		streams, promos = pg.NewStreamRepo(pool), pg.NewPromoRepo(pool)
	}

	for _, q := range courseSQL {
		if err := exec(ctx, q); err != nil {
			logger.Fatal().Err(err).Msg("seed course")
		}
	}

	stream, err := streams.FindByID(ctx, repository.NoTX, demoStreamID)
	switch {
	case err == nil:
		fmt.Printf("stream %s already present (price=%d). No changes.\n", stream.ID, stream.Price)
	case errors.Is(err, domain.ErrNotFound):
		stream = &model.Stream{
			ID:          demoStreamID,
			CourseID:    "demo-course",
			CreatorID:   demoCreatorID,
			Title:       "Practical Go, spring cohort",
			Price:       *price,
			InviteToken: demoInvite,
		}
		if err := streams.Save(ctx, repository.NoTX, stream); err != nil {
			logger.Fatal().Err(err).Msg("seed stream")
		}
		fmt.Printf("seeded: stream %s (price=%d)\n", stream.ID, stream.Price)
	default:
		logger.Fatal().Err(err).Msg("find stream")
	}

	twenty, ten := int64(20), 10
	seed := []struct {
		ID    string
		Code  string
		Type  model.PromoType
		Value *int64
		Limit *int
	}{
		{"demo-promo-free", "FREEPASS", model.PromoTypeFree, nil, &ten},
		{"demo-promo-spring", "SPRING20", model.PromoTypePercent, &twenty, nil},
	}
	for _, s := range seed {
		p, err := model.NewPromoCode(s.ID, stream.ID, s.Code, s.Type, s.Value, nil, s.Limit)
		if err != nil {
			logger.Fatal().Err(err).Str("code", s.Code).Msg("build promo")
		}
		if err := promos.Save(ctx, repository.NoTX, p); err != nil && !errors.Is(err, domain.ErrConflict) {
			logger.Fatal().Err(err).Str("code", s.Code).Msg("seed promo")
		}
		fmt.Printf("promo: %s (%s)\n", p.Code, p.Type)
	}

	// ---- Links and tokens ----
	bot := cfg.Bot.Username
	if bot == "" {
		bot = "<bot_username>"
	}
	fmt.Printf("\nshared invite link:  %s\n", api.InviteLink(bot, stream.InviteToken))
	fmt.Printf("with promo:          %s\n", api.InviteLink(bot, stream.InviteToken+"-SPRING20"))

	secret := cfg.HTTP.JWTSecret
	if secret == "" {
		secret = "dev-secret"
	}
	auth := api.NewAuthManager(secret, 30*24*time.Hour)
	creatorJWT, err := auth.Mint(demoCreatorID, api.RoleCreator)
	if err != nil {
		logger.Fatal().Err(err).Msg("mint creator token")
	}
	serviceJWT, err := auth.Mint("content-service", api.RoleService)
	if err != nil {
		logger.Fatal().Err(err).Msg("mint service token")
	}
	fmt.Printf("\ncreator token:  %s\nservice token:  %s\n", creatorJWT, serviceJWT)
	fmt.Println("\nSeeding complete.")
}
