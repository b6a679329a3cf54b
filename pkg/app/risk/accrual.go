package risk

import (
	"context"
	"time"
)

// RunAccrual settles every pool's interest each interval until ctx is done.
// Failures are logged and retried on the next tick.
func (a *App) RunAccrual(ctx context.Context, interval time.Duration) {
	a.logger.Infow("interest_accrual_started", "interval", interval.String())
	sweeps := 0
	for {
		select {
		case <-ctx.Done():
			a.logger.Infow("interest_accrual_stopped", "sweeps", sweeps)
			return
		case <-a.clock.After(interval):
			sweeps++
			if err := a.AccrueAll(); err != nil {
				a.logger.Warnw("interest_accrual_failed", "sweep", sweeps, "error", err)
			}
		}
	}
}
