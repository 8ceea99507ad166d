package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"telegram-course-streams/internal/application"
	"telegram-course-streams/internal/config"
	"telegram-course-streams/internal/domain/ports/adapter"
	"telegram-course-streams/internal/domain/ports/repository"
	tele "telegram-course-streams/internal/infra/adapters/telegram"
	"telegram-course-streams/internal/infra/api"
	pg "telegram-course-streams/internal/infra/db/postgres"
	"telegram-course-streams/internal/infra/db/sqlite"
	"telegram-course-streams/internal/infra/i18n"
	"telegram-course-streams/internal/infra/logging"
	"telegram-course-streams/internal/infra/metrics"
	red "telegram-course-streams/internal/infra/redis"
	"telegram-course-streams/internal/infra/sched"
	"telegram-course-streams/internal/infra/scheduler"
	"telegram-course-streams/internal/infra/worker"
	"telegram-course-streams/internal/usecase"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// storage bundles the repositories of the selected driver.
type storage struct {
	tm          repository.TransactionManager
	streams     repository.StreamRepository
	lessons     repository.LessonRepository
	enrollments repository.EnrollmentRepository
	promos      repository.PromoRepository
	schedules   repository.ScheduleRepository
	health      api.HealthChecker
	close       func()
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, noop notifier without a bot token)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, cfg.Database.Driver)

	// ---- Storage ----
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("storage")
	}
	defer store.close()

	// ---- Redis (optional) ----
	var (
		rateLimiter adapter.RateLimiter
		locker      scheduler.Locker
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		rateLimiter = red.NewRateLimiter(redisClient)
		locker = red.NewLocker(redisClient)
		logger.Info().Msg("redis connected: distributed sweep lock and activation throttling enabled")
	} else {
		logger.Warn().Msg("redis.url not set: sweep single-flight is per process and activation is not throttled")
	}

	// ---- Messages ----
	msgs, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Bot.Language)
	if err != nil {
		logger.Warn().Err(err).Str("language", cfg.Bot.Language).Msg("falling back to default language")
		msgs, err = i18n.NewTranslator(i18n.LocalesFS, i18n.DefaultLanguage)
		if err != nil {
			logger.Fatal().Err(err).Msg("i18n")
		}
	}

	// ---- Telegram ----
	var (
		notifier adapter.Notifier
		botAPI   tele.BotAPI
	)
	polling := cfg.Bot.Token != "" && strings.ToLower(cfg.Bot.Mode) != "none"
	if cfg.Bot.Token != "" {
		sender, err := tele.NewSenderAPI(cfg.Bot.Token, "", cfg.Bot.SendTimeout)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram")
		}
		if cfg.Bot.Username == "" {
			cfg.Bot.Username = sender.Self.UserName
		}
		notifier = tele.NewLimitedNotifier(tele.NewNotifier(sender), cfg.Bot.SendConcurrency)
		if polling {
			realAPI, err := tele.NewBotAPI(cfg.Bot.Token)
			if err != nil {
				logger.Fatal().Err(err).Msg("telegram")
			}
			botAPI = realAPI
		}
	} else {
		notifier = tele.NewNoopNotifier(logger)
	}

	// ---- Workers ----
	pool := worker.NewPool(cfg.Bot.Workers, worker.Options{QueueSize: cfg.Bot.QueueSize, SubmitWait: cfg.Bot.SubmitWait}, logger)
	pool.Start(ctx)

	// ---- Use cases ----
	promoUC := usecase.NewPromoUseCase(store.tm, store.streams, store.enrollments, store.promos, logger)
	activationUC := usecase.NewActivationUseCase(
		store.tm, store.streams, store.enrollments, promoUC, notifier, pool, msgs,
		usecase.ActivationOptions{StrictPromo: cfg.Activation.StrictPromo}, logger,
	)
	streamUC := usecase.NewStreamUseCase(store.streams, store.enrollments, logger)
	paymentUC := usecase.NewPaymentUseCase(store.enrollments, logger)
	scheduleUC := usecase.NewScheduleUseCase(store.tm, store.streams, store.lessons, store.schedules, logger)
	releaseUC := usecase.NewReleaseUseCase(
		store.streams, store.lessons, store.enrollments, store.schedules, notifier, pool, msgs,
		usecase.ReleaseOptions{
			SendDelay:      cfg.Release.SendDelay,
			RecoveryWindow: cfg.Release.RecoveryWindow,
			BatchSize:      cfg.Release.BatchSize,
		}, logger,
	)
	accessUC := usecase.NewAccessUseCase(store.streams, store.lessons, store.enrollments, store.schedules, logger)

	// ---- Release sweeper ----
	sweeper := scheduler.NewScheduler(sched.NewReleaseJob(releaseUC, logger), scheduler.Options{
		Interval:    cfg.Release.Interval,
		TickTimeout: cfg.Release.TickTimeout,
		Locker:      locker,
		LockTTL:     cfg.Release.LockTTL,
	}, logger)
	sweeper.Start(ctx)

	// ---- Bot polling ----
	var bot *tele.RealTelegramBotAdapter
	if polling {
		facade := application.NewBotFacade(activationUC, msgs, logger)
		bot, err = tele.NewRealTelegramBotAdapter(botAPI, facade, rateLimiter, cfg.Activation, cfg.Bot.Workers, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram adapter")
		}
		go func() {
			if err := bot.StartPolling(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("telegram polling stopped")
			}
		}()
	} else {
		logger.Warn().Str("mode", cfg.Bot.Mode).Msg("telegram polling disabled")
	}

	// ---- HTTP API ----
	jwtSecret := cfg.HTTP.JWTSecret
	if jwtSecret == "" {
		logger.Warn().Msg("http.jwt_secret not set; using an insecure dev secret")
		jwtSecret = "dev-secret"
	}
	server := api.NewServer(api.Deps{
		Activation:  activationUC,
		Streams:     streamUC,
		Promos:      promoUC,
		Payments:    paymentUC,
		Schedules:   scheduleUC,
		Release:     releaseUC,
		Access:      accessUC,
		Enrollments: store.enrollments,
		Sweeper:     sweeper,
		RateLimiter: rateLimiter,
		Health:      store.health,
		Auth:        api.NewAuthManager(jwtSecret, 24*time.Hour),
	}, api.Options{
		Port:           cfg.HTTP.Port,
		CallbackSecret: cfg.HTTP.CallbackSecret,
		BotUsername:    cfg.Bot.Username,
		RateLimit:      cfg.Activation.RateLimit,
		RateWindow:     cfg.Activation.RateWindow,
	}, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown requested")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if bot != nil {
		bot.StopPolling()
	}
	sweeper.Stop()
	pool.Stop()
	cancel()
	logger.Info().Msg("bye")
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*storage, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.Database.SQLitePath).Msg("sqlite store opened")
		return &storage{
			tm:          sqlite.NewTxManager(db),
			streams:     sqlite.NewStreamRepo(db),
			lessons:     sqlite.NewLessonRepo(db),
			enrollments: sqlite.NewEnrollmentRepo(db),
			promos:      sqlite.NewPromoRepo(db),
			schedules:   sqlite.NewScheduleRepo(db),
			health:      db,
			close:       func() { _ = db.Close() },
		}, nil

	default:
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := pg.RunMigrations(cfg.Database.URL, logger); err != nil {
				pool.Close()
				return nil, err
			}
		}
		go pg.MonitorPool(ctx, pool, 15*time.Second, logger)
		logger.Info().Int32("max_conns", cfg.Database.MaxConns).Msg("postgres pool ready")
		return &storage{
			tm:          pg.NewTxManager(pool),
			streams:     pg.NewStreamRepo(pool),
			lessons:     pg.NewLessonRepo(pool),
			enrollments: pg.NewEnrollmentRepo(pool),
			promos:      pg.NewPromoRepo(pool),
			schedules:   pg.NewScheduleRepo(pool),
			health:      pool,
			close:       pool.Close,
		}, nil
	}
}
