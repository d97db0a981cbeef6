package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/cbt/internal/model"
)

// Sweep expires every overdue attempt on auto_submit exams and returns how
// many were expired. A failure on one attempt does not stop the others.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	attempts, err := e.repo.ListInProgress(ctx, true)
	if err != nil {
		return 0, err
	}
	n, err := e.expireOverdue(ctx, attempts)
	if n > 0 {
		slog.Info("sweep expired attempts", "count", n)
	}
	return n, err
}

// closeOverdue expires the overdue in-progress attempts selected by keep on
// any exam, so that cohort reads only ever see closed attempts past their
// deadline.
func (e *Engine) closeOverdue(ctx context.Context, keep func(model.Attempt) bool) error {
	attempts, err := e.repo.ListInProgress(ctx, false)
	if err != nil {
		return fmt.Errorf("list in-progress attempts: %w", err)
	}
	selected := attempts[:0]
	for _, a := range attempts {
		if keep(a) {
			selected = append(selected, a)
		}
	}
	_, err = e.expireOverdue(ctx, selected)
	return err
}

func (e *Engine) expireOverdue(ctx context.Context, attempts []model.Attempt) (int, error) {
	now := e.now()
	var n int
	var errs []error
	for _, a := range attempts {
		if !now.After(a.Deadline) {
			continue
		}
		expired, err := e.ExpireAttempt(ctx, a.ID)
		if err != nil {
			slog.Error("failed to expire attempt", "attempt_id", a.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		if expired {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// Run sweeps every interval until ctx is cancelled. The interval must be
// positive.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("expiry sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("expiry sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil {
				slog.Error("sweep failed", "error", err)
			}
		}
	}
}
