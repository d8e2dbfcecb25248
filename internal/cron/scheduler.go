package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"ltvsync/internal/models"
	"ltvsync/internal/syncer"
)

// ConfigSource returns the active sync configuration, or nil when none exists.
type ConfigSource interface {
	Latest() (*models.SyncConfig, error)
}

// Runner executes sync runs.
type Runner interface {
	Running() bool
	RunOnce(ctx context.Context, configID uint) (*models.SyncRun, error)
}

// Scheduler fires the periodic sync.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	configs ConfigSource
	runner  Runner
	logger  *zap.Logger
}

// New validates spec, a standard 5-field cron expression evaluated in UTC.
func New(spec string, configs ConfigSource, runner Runner, logger *zap.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		spec:    spec,
		configs: configs,
		runner:  runner,
		logger:  logger,
	}, nil
}

// Start registers the sync job and starts the scheduler.
func (s *Scheduler) Start() error {
	s.logger.Info("Starting cron scheduler...", zap.String("schedule", s.spec))

	if _, err := s.cron.AddFunc(s.spec, func() {
		s.logger.Debug("Running: scheduled sync")
		s.scheduledSync()
	}); err != nil {
		return fmt.Errorf("register sync job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Cron scheduler started")
	return nil
}

// Stop gracefully stops the cron scheduler. The returned context is done once
// a job in flight has returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// scheduledSync runs the latest configuration unless scheduling is disabled
// or a run is already in progress.
func (s *Scheduler) scheduledSync() {
	defer s.recoverFromPanic("scheduledSync")

	cfg, err := s.configs.Latest()
	if err != nil {
		s.logger.Error("Scheduled sync: failed to load config", zap.Error(err))
		return
	}
	if cfg == nil {
		s.logger.Info("Scheduled sync skipped: no configuration")
		return
	}
	if !cfg.SyncEnabled {
		s.logger.Info("Scheduled sync skipped: disabled", zap.Uint("config_id", cfg.ID))
		return
	}
	if s.runner.Running() {
		s.logger.Info("Scheduled sync skipped: a sync is already running")
		return
	}

	run, err := s.runner.RunOnce(context.Background(), cfg.ID)
	switch {
	case errors.Is(err, syncer.ErrAlreadyRunning):
		s.logger.Info("Scheduled sync skipped: a sync is already running")
	case err != nil:
		s.logger.Error("Scheduled sync failed to start", zap.Error(err))
	default:
		s.logger.Info("Scheduled sync finished",
			zap.Uint("run_id", run.ID),
			zap.String("status", run.Status))
	}
}

func (s *Scheduler) recoverFromPanic(jobName string) {
	if r := recover(); r != nil {
		s.logger.Error("Cron job panicked", zap.String("job", jobName), zap.Any("error", r))
	}
}
