package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"ltvsync/internal/models"
)

// InitSentry configures the global Sentry client. It is a no-op without a DSN.
func InitSentry(dsn, environment string) (bool, error) {
	if dsn == "" {
		return false, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return false, fmt.Errorf("sentry.Init: %w", err)
	}
	return true, nil
}

// SentryReporter captures failed runs as Sentry events.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter uses hub, or the current hub when nil.
func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryReporter{hub: hub}
}

func (s *SentryReporter) RunSucceeded(context.Context, *models.SyncRun) error { return nil }

func (s *SentryReporter) RunFailed(_ context.Context, run *models.SyncRun, errMsg string) error {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "syncer")
		scope.SetTag("run_uuid", run.RunUUID)
		scope.SetContext("sync_run", sentry.Context{
			"id":                 run.ID,
			"config_id":          run.ConfigID,
			"started_at":         run.StartedAt.UTC().Format(time.RFC3339),
			"contacts_processed": run.ContactsProcessed,
		})
		s.hub.CaptureException(errors.New(errMsg))
	})
	return nil
}

// Flush waits for buffered events to be delivered.
func (s *SentryReporter) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}
