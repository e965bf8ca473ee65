package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coalition-score-engine/config"
	"coalition-score-engine/handlers"
	"coalition-score-engine/models"
	"coalition-score-engine/platform"
	"coalition-score-engine/services"
	"coalition-score-engine/utils"
	"coalition-score-engine/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.WebhookEvent{},
		&models.FixedPointType{},
		&models.ScoreGrant{},
		&models.Season{},
		&models.SeasonResult{},
		&models.UserResult{},
		&models.Ranking{},
		&models.RankingResult{},
		&models.Coalition{},
		&models.User{},
		&models.CatchupJob{},
	); err != nil {
		log.Fatalf("❌ Failed to migrate database: %v", err)
	}

	if err := services.SeedDefaults(db, log); err != nil {
		log.Fatalf("❌ Failed to seed defaults: %v", err)
	}

	state, err := utils.NewStateStore(cfg.StateDir)
	if err != nil {
		log.Fatalf("❌ Failed to initialize state dir: %v", err)
	}
	archiver, err := utils.NewArchiver(cfg.Archive)
	if err != nil {
		log.Fatalf("❌ Failed to initialize archive storage: %v", err)
	}

	client := platform.New(cfg, log)

	ledger := services.NewLedgerService(db, log, cfg)
	users := services.NewUserDirectory(db, log, client)
	ranking := services.NewRankingService(db, log, cfg, ledger)
	season := services.NewSeasonService(db, log, ranking, archiver)
	ranking.Season = season
	recon := services.NewReconciler(db, log, cfg, client, ledger, season)
	intake := services.NewIntakeService(db, log, cfg, ledger, users, recon)
	catchup := services.NewCatchupService(db, log, client, intake, state)

	if err := catchup.RecoverStale(); err != nil {
		log.Fatalf("❌ Failed to recover stale catch-up jobs: %v", err)
	}

	if lastShutdown, err := state.LastShutdown(); err == nil && !lastShutdown.IsZero() {
		log.Infof("🕐 Last clean shutdown at %s — catch-up can backfill from there", lastShutdown.Format(time.RFC3339))
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // webhook bodies are small JSON documents
	})

	handlers.SetupWebhookRoutes(app, intake, log)
	handlers.SetupInternalRoutes(app, handlers.InternalDeps{
		Intake:  intake,
		Catchup: catchup,
		Ranking: ranking,
		Season:  season,
		Recon:   recon,
		Token:   cfg.ServiceToken,
		Log:     log,
	})

	sched, err := workers.StartScheduler(log, recon, ranking, season)
	if err != nil {
		log.Fatalf("❌ Failed to start scheduler: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.Errorf("Server error: %v", err)
		}
	}()

	log.Infof("✅ Server running on %s (sync mode: %s)", cfg.ListenAddr, cfg.SyncMode)

	<-ctx.Done()
	log.Info("Shutting down...")

	if err := sched.Shutdown(); err != nil {
		log.Errorf("Scheduler shutdown error: %v", err)
	}
	if err := app.Shutdown(); err != nil {
		log.Errorf("Server shutdown error: %v", err)
	}
	if err := state.SetLastShutdown(time.Now().UTC()); err != nil {
		log.Errorf("Failed to persist shutdown marker: %v", err)
	}
}
