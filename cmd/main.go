package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ltvsync/internal/bootstrap"
	"ltvsync/internal/config"
	cronpkg "ltvsync/internal/cron"
	"ltvsync/internal/handler/api"
	"ltvsync/internal/models"
	"ltvsync/internal/notify"
	logpkg "ltvsync/internal/pkg/logger"
	"ltvsync/internal/router"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ltvsync",
		Short:         "Sync CRM lifetime value into value-based ad audiences",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(serveCmd(), syncCmd(), migrateCmd())
	return root
}

// setup loads configuration and builds the logger shared by every command.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logpkg.New(logpkg.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return nil, nil, err
	}
	if _, err := notify.InitSentry(cfg.Sentry.DSN, cfg.Server.Env); err != nil {
		logger.Warn("Sentry disabled", zap.Error(err))
	}
	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return serve(cfg, logger)
		},
	}
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if n := a.svc.ReportStale(); n > 0 {
		logger.Warn("Found sync runs left running by a previous process", zap.Int("count", n))
	}

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true
	router.Setup(e, router.Handlers{
		Sync: api.NewSyncHandler(a.svc, a.runs, a.contacts, logger),
		Config: api.NewConfigHandler(a.configs, a.ghl, api.Settings{
			MetaAdAccountID: cfg.Meta.AdAccountID,
			GHLLocationName: cfg.GHL.LocationName,
			SMTPFrom:        cfg.SMTP.From,
			SMTPTo:          cfg.SMTP.To,
		}, logger),
		Email: api.NewEmailHandler(a.email, logger),
	}, logger)

	// --- Cron Scheduler ---
	scheduler, err := cronpkg.New(cfg.Sync.Cron, a.configs, a.svc, logger)
	if err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return err
	}

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting ltvsync server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Stop cron
	ctx := scheduler.Stop()
	<-ctx.Done()

	// Stop HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Let a triggered run reach a terminal status.
	a.svc.Wait()

	logger.Info("Server exited")
	return nil
}

func syncCmd() *cobra.Command {
	var configID uint
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync synchronously and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			var run *models.SyncRun
			if configID > 0 {
				run, err = a.svc.RunOnce(ctx, configID)
			} else {
				run, err = a.svc.RunLatest(ctx)
			}
			if err != nil {
				return err
			}

			logger.Info("Sync finished",
				zap.Uint("run_id", run.ID),
				zap.String("status", run.Status),
				zap.Int("contacts_processed", run.ContactsProcessed),
				zap.Int("contacts_matched", run.ContactsMatched))
			if run.Status == models.SyncStatusFailed {
				msg := "unknown error"
				if run.ErrorMessage != nil {
					msg = *run.ErrorMessage
				}
				return fmt.Errorf("sync run %d failed: %s", run.ID, msg)
			}
			return nil
		},
	}
	cmd.Flags().UintVar(&configID, "config-id", 0, "sync configuration id (default: latest)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and seed the first configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbCfg, err := config.LoadDatabaseOnly()
			if err != nil {
				return err
			}
			logger, err := logpkg.New(logpkg.Options{Level: viper.GetString("LOG_LEVEL")})
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := config.NewDatabase(dbCfg)
			if err != nil {
				return err
			}
			if err := bootstrap.MigrateAndSeed(db, seedFromEnv()); err != nil {
				return err
			}
			logger.Info("Schema migration and default seed completed")
			return nil
		},
	}
}

// seedFromEnv reads the first-configuration seed without requiring the API
// credentials that config.Load warns about. LoadDatabaseOnly has already
// bound the environment.
func seedFromEnv() *bootstrap.Seed {
	return &bootstrap.Seed{
		LTVFieldKey:     viper.GetString("GHL_LTV_FIELD_KEY"),
		LTVFieldName:    viper.GetString("GHL_LTV_FIELD_NAME"),
		MetaAdAccountID: viper.GetString("META_AD_ACCOUNT_ID"),
	}
}
