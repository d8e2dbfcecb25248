// Package notify delivers sync run outcomes to operators and downstream systems.
package notify

import (
	"context"
	"errors"
	"math"

	"ltvsync/internal/models"
)

// Notifier is told about every finished run. Implementations must not retry
// for long; callers treat errors as best-effort and only log them.
type Notifier interface {
	RunSucceeded(ctx context.Context, run *models.SyncRun) error
	RunFailed(ctx context.Context, run *models.SyncRun, errMsg string) error
}

// Multi fans a notification out to every channel and joins their errors.
type Multi struct {
	notifiers []Notifier
}

// NewMulti skips nil entries so optional channels can be passed unconditionally.
func NewMulti(notifiers ...Notifier) *Multi {
	m := &Multi{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len reports the number of configured channels.
func (m *Multi) Len() int { return len(m.notifiers) }

func (m *Multi) RunSucceeded(ctx context.Context, run *models.SyncRun) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.RunSucceeded(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) RunFailed(ctx context.Context, run *models.SyncRun, errMsg string) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.RunFailed(ctx, run, errMsg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) RunSucceeded(context.Context, *models.SyncRun) error { return nil }

func (Nop) RunFailed(context.Context, *models.SyncRun, string) error { return nil }

// Summary is the operator-facing digest of a successful run.
type Summary struct {
	Top10     int
	Middle50  int
	Bottom40  int
	MatchRate float64
}

// Summarize groups the normalized-value histogram into top 10% (90-100),
// middle 50% (40-89) and bottom 40% (0-39), and computes the match rate
// rounded to one decimal.
func Summarize(run *models.SyncRun) Summary {
	var s Summary
	if stats := run.Stats(); stats != nil && len(stats.Distribution) == 10 {
		d := stats.Distribution
		s.Top10 = d[9]
		for _, n := range d[4:9] {
			s.Middle50 += n
		}
		for _, n := range d[0:4] {
			s.Bottom40 += n
		}
	}
	if run.ContactsProcessed > 0 {
		rate := float64(run.ContactsMatched) / float64(run.ContactsProcessed) * 100
		s.MatchRate = math.Round(rate*10) / 10
	}
	return s
}
