package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/kycflow/internal/logging"
	"github.com/dmitrijs2005/kycflow/internal/server/lifecycle"
)

// Sweep expires every non-terminal session whose deadline has passed, in
// batches of batchSize, and returns how many it moved to Expired. A session
// that fails to expire is logged and left for the next sweep.
func (s *VerificationService) Sweep(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	expired := 0
	for {
		due, err := s.sessions.ListExpired(ctx, s.now(), batchSize)
		if err != nil {
			s.metrics.Sweep(expired, err)
			return expired, err
		}

		progressed := 0
		for _, session := range due {
			_, changed, err := s.transition(ctx, session, lifecycle.ExpiryCheck, nil)
			if err != nil {
				s.log.Warn(ctx, "failed to expire session", "session_id", session.ID, "error", err)
				continue
			}
			if changed {
				progressed++
			}
		}
		expired += progressed

		if len(due) < batchSize || progressed == 0 {
			break
		}
	}

	s.metrics.Sweep(expired, nil)
	return expired, nil
}

// ExpiryReaper runs Sweep on a fixed interval so idle sessions converge to
// Expired without any request touching them.
type ExpiryReaper struct {
	svc       *VerificationService
	interval  time.Duration
	batchSize int
	log       logging.Logger
}

func NewExpiryReaper(svc *VerificationService, interval time.Duration, batchSize int, log logging.Logger) *ExpiryReaper {
	return &ExpiryReaper{
		svc:       svc,
		interval:  interval,
		batchSize: batchSize,
		log:       log.With("module", "reaper"),
	}
}

// Run sweeps until ctx is done.
func (r *ExpiryReaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info(ctx, "expiry reaper started", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			r.log.Info(ctx, "expiry reaper stopped")
			return
		case <-ticker.C:
			n, err := r.svc.Sweep(ctx, r.batchSize)
			if err != nil {
				r.log.Error(ctx, "expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				r.log.Info(ctx, "expired sessions", "count", n)
			}
		}
	}
}
