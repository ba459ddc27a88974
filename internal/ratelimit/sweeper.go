package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jusunglee/igrelay/internal/metrics"
)

// Sweeper periodically reclaims idle user entries from a Limiter. It owns no
// timer state of its own beyond the run loop; cancel the context to stop it.
type Sweeper struct {
	log     *slog.Logger
	limiter *Limiter
}

func NewSweeper(log *slog.Logger, limiter *Limiter) *Sweeper {
	return &Sweeper{
		log:     log,
		limiter: limiter,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.limiter.Policy().SweepInterval
	s.log.InfoContext(ctx, "retention sweeper started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := s.limiter.Sweep(time.Now())
			tracked := s.limiter.Len()

			metrics.LimiterSweepsTotal.Inc()
			metrics.LimiterSweptUsersTotal.Add(float64(removed))
			metrics.LimiterTrackedUsers.Set(float64(tracked))

			if removed > 0 {
				s.log.InfoContext(ctx, "reclaimed idle users", "removed", removed, "tracked", tracked)
			}
		case <-ctx.Done():
			s.log.Info("retention sweeper stopped")
			return nil
		}
	}
}
