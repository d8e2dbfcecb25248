package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"ltvsync/internal/bootstrap"
	"ltvsync/internal/cache"
	"ltvsync/internal/config"
	"ltvsync/internal/ghl"
	"ltvsync/internal/meta"
	"ltvsync/internal/normalizer"
	"ltvsync/internal/notify"
	"ltvsync/internal/repository"
	"ltvsync/internal/syncer"
)

// app holds the wired components shared by the serve and sync commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB

	configs  *repository.SyncConfigRepository
	runs     *repository.SyncRunRepository
	contacts *repository.SyncContactRepository

	ghl   *ghl.Client
	email *notify.Email
	svc   *syncer.Service

	closers []func()
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := bootstrap.MigrateAndSeed(db, &bootstrap.Seed{
		LTVFieldKey:     cfg.Sync.LTVFieldKey,
		LTVFieldName:    cfg.Sync.LTVFieldName,
		MetaAdAccountID: cfg.Meta.AdAccountID,
	}); err != nil {
		return nil, fmt.Errorf("bootstrap database schema: %w", err)
	}
	a.db = db
	a.configs = repository.NewSyncConfigRepository(db)
	a.runs = repository.NewSyncRunRepository(db)
	a.contacts = repository.NewSyncContactRepository(db)

	// --- Cache (Redis with in-memory fallback) ---
	store, err := cache.New(cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable for field metadata cache, using in-memory fallback", zap.Error(err))
	}

	// --- Remote APIs ---
	a.ghl = ghl.New(ghl.Config{
		BaseURL:    cfg.GHL.BaseURL,
		APIKey:     cfg.GHL.APIKey,
		LocationID: cfg.GHL.LocationID,
		PageDelay:  cfg.GHL.PageDelay,
	}, store, logger)
	ads := meta.New(meta.Config{
		BaseURL:     cfg.Meta.BaseURL,
		AccessToken: cfg.Meta.AccessToken,
		AdAccountID: cfg.Meta.AdAccountID,
	}, logger)
	transform := normalizer.NewClaudeTransform(normalizer.ClaudeConfig{
		BaseURL:   cfg.Claude.BaseURL,
		APIKey:    cfg.Claude.APIKey,
		Model:     cfg.Claude.Model,
		MaxTokens: cfg.Claude.MaxTokens,
	}, logger)

	// --- Notifications ---
	a.email = notify.NewEmail(cfg.SMTP, logger)
	notifiers := []notify.Notifier{a.email}

	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, "", logger)
		if err != nil {
			logger.Warn("Telegram notifications disabled", zap.Error(err))
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	if cfg.RabbitMQ.URL != "" {
		pub, err := notify.NewEventPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, logger)
		if err != nil {
			logger.Warn("Run events disabled, RabbitMQ unavailable", zap.Error(err))
		} else {
			notifiers = append(notifiers, pub)
			a.closers = append(a.closers, func() { _ = pub.Close() })
		}
	}
	if cfg.Sentry.DSN != "" {
		reporter := notify.NewSentryReporter(nil)
		notifiers = append(notifiers, reporter)
		a.closers = append(a.closers, func() { reporter.Flush(2 * time.Second) })
	}
	multi := notify.NewMulti(notifiers...)
	logger.Info("Notifiers configured", zap.Int("count", multi.Len()), zap.Bool("smtp", a.email.Enabled()))

	a.svc = syncer.New(syncer.Deps{
		Configs:    a.configs,
		Runs:       a.runs,
		Contacts:   a.contacts,
		Source:     a.ghl,
		Audiences:  ads,
		Normalizer: normalizer.New(transform, logger),
		Notifier:   multi,
		Logger:     logger,
	})
	a.closers = append(a.closers, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
