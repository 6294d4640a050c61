package service

import (
	"context"
	"time"

	"onboarding/internal/workflow/models"
)

const defaultSweepLimit = 100

// SweepResult summarizes one deadline sweep pass.
type SweepResult struct {
	Scanned  int `json:"scanned"`
	TimedOut int `json:"timedOut"`
	Lost     int `json:"lost"`
	Failed   int `json:"failed"`
}

// SweepExpired transitions every wait expired at now to timeout. A lost CAS
// means another writer (a signal, a lazy read, another sweeper) already moved
// the workflow, so each expiry is applied once across all processes.
func (s *Service) SweepExpired(ctx context.Context, now time.Time, limit int) (*SweepResult, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	ctx, span := s.tracer.Start(ctx, "workflow.SweepExpired")
	defer span.End()

	candidates, err := s.store.ListExpiredWaits(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Scanned: len(candidates)}
	for _, w := range candidates {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		applied, err := s.timeoutOne(ctx, w, now)
		switch {
		case err != nil:
			result.Failed++
			s.logger.ErrorContext(ctx, "failed to time out workflow",
				"workflow_id", w.ID.String(),
				"error", err,
			)
		case applied:
			result.TimedOut++
		default:
			result.Lost++
		}
	}

	if result.Scanned > 0 {
		s.logger.InfoContext(ctx, "deadline sweep finished",
			"scanned", result.Scanned,
			"timed_out", result.TimedOut,
			"lost", result.Lost,
			"failed", result.Failed,
		)
	}
	return result, nil
}

func (s *Service) timeoutOne(ctx context.Context, w *models.Workflow, now time.Time) (bool, error) {
	if !w.CanTimeout(now) {
		return false, nil
	}
	applied, err := s.timeout(ctx, w, now)
	if err != nil {
		if isStale(err) {
			return false, nil
		}
		return false, err
	}
	return applied, nil
}
