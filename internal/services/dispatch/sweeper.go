package dispatch

import (
	"context"
	"time"

	"github.com/Smr002/goldfit-notify/internal/notification"
	"github.com/Smr002/goldfit-notify/pkg/logx"
)

// sweepOnce fails Sending notifications whose claim is older than the cycle
// timeout. A stuck claim means the worker died mid-cycle; the sweep turns that
// into a visible Failed state instead of leaving the row in limbo.
func (s *Service) sweepOnce(ctx context.Context) {
	cfg, store, _, _ := s.snapshotDeps()
	if !cfg.Enabled {
		return
	}

	now := time.Now()
	cutoff := now.Add(-cfg.CycleTimeout)
	stuck, err := store.FindStuck(ctx, cutoff)
	if err != nil {
		s.log.Warn("stuck scan failed", logx.Err(err))
		return
	}
	var failed int
	for _, n := range stuck {
		claimed := deref(n.ClaimedAt) // FailCycle clears the claim
		if err := n.FailCycle(now); err != nil {
			continue
		}
		applied, err := store.Update(ctx, n, notification.StatusSending)
		if err != nil {
			s.log.Warn("stuck notification update failed",
				logx.String("id", n.ID), logx.Err(err))
			continue
		}
		if !applied {
			// The owning worker settled between the scan and this write.
			continue
		}
		failed++
		s.log.Warn("stuck notification failed by sweep",
			logx.String("id", n.ID),
			logx.String("kind", string(n.Kind)),
			logx.Time("claimed_at", claimed))
	}
	if failed > 0 {
		s.log.Info("sweep pass", logx.Int("failed", failed))
	}
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
