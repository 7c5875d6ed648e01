package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"ashare_backend/config"
	"ashare_backend/models"
	"ashare_backend/services/analytics"
	"ashare_backend/services/marketstore"
	"ashare_backend/services/runhistory"
	"ashare_backend/services/syncer"
	"ashare_backend/services/upstream"
)

// app holds the services shared by the server and the batch commands.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	db       *gorm.DB
	store    *marketstore.Store
	orch     *syncer.Orchestrator
	recorder *runhistory.MongoRecorder
	nats     *analytics.NATSTrigger
}

// newApp connects the database, runs migrations and builds the orchestrator.
// Optional services (MongoDB, NATS) log and continue when unavailable.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	db, err := config.InitDB(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db}
	a.store = marketstore.New(db, logger)

	if err := runMigrations(db, a.store); err != nil {
		a.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	created, err := models.SeedAdminUser(db, cfg.AdminUsername, cfg.AdminPasswordHash)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not seed admin user")
	} else if created {
		logger.Info().Str("username", cfg.AdminUsername).Msg("Admin user created")
	}

	if cfg.MongoDBURI != "" {
		mctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		a.recorder, err = runhistory.Connect(mctx, cfg.MongoDBURI, cfg.MongoDBDatabase, logger)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("MongoDB not available, run history disabled")
			a.recorder = nil
		}
	}

	granularity, err := upstream.ParseGranularity(cfg.Granularity)
	if err != nil {
		a.Close()
		return nil, err
	}

	client := upstream.NewClient(cfg.UpstreamUser, cfg.UpstreamPassword,
		upstream.WithBaseURL(cfg.UpstreamBaseURL),
		upstream.WithLogger(logger),
		upstream.WithTimeout(cfg.UpstreamCallTimeout),
		upstream.WithRateLimit(cfg.UpstreamRateLimit),
		upstream.WithPageSize(cfg.UpstreamPageSize),
		upstream.WithAdjustFlag(cfg.AdjustFlag),
	)

	opts := syncer.Options{
		Granularity:     granularity,
		FullImportStart: cfg.FullImportStartDate(),
		ScoreEvery:      cfg.ScoreEvery,
		CallTimeout:     cfg.UpstreamCallTimeout,
		Location:        cfg.Location(),
	}
	if a.recorder != nil {
		opts.Recorder = a.recorder
	}

	a.orch = syncer.New(syncer.ClientOpener(client), a.store, a.buildTriggers(), opts, logger)
	return a, nil
}

// buildTriggers fans out to every configured analytics sink. The log sink is
// always present.
func (a *app) buildTriggers() analytics.Fanout {
	triggers := analytics.Fanout{analytics.NewLogTrigger(a.logger)}

	if a.cfg.AnalyticsWebhook != "" {
		triggers = append(triggers, analytics.NewWebhookTrigger(a.cfg.AnalyticsWebhook))
	}
	if a.cfg.AnalyticsNATSURL != "" {
		nt, err := analytics.NewNATSTrigger(a.cfg.AnalyticsNATSURL, a.logger)
		if err != nil {
			a.logger.Warn().Err(err).Msg("NATS not available, analytics triggers will not be published")
		} else {
			a.nats = nt
			triggers = append(triggers, nt)
		}
	}
	return triggers
}

func runMigrations(db *gorm.DB, store *marketstore.Store) error {
	if err := store.Migrate(); err != nil {
		return err
	}
	return models.MigrateAdminModels(db)
}

// Close releases optional services and the database pool.
func (a *app) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close MongoDB")
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
			a.logger.Info().Msg("Database connection closed")
		}
	}
}
