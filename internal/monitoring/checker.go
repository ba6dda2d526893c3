package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CountCorrector repairs drifted execution result counts.
type CountCorrector interface {
	CorrectAllCounts(ctx context.Context) (int, error)
}

// Checker runs the periodic maintenance sweep: it refreshes the ledger
// gauges and, when a corrector is set, repairs drifted result counts.
type Checker struct {
	collector *Collector
	corrector CountCorrector
	interval  time.Duration
}

// NewChecker creates a background sweep. A non-positive interval disables it.
func NewChecker(collector *Collector, corrector CountCorrector, interval time.Duration) *Checker {
	return &Checker{
		collector: collector,
		corrector: corrector,
		interval:  interval,
	}
}

// Enabled reports whether Run will do any work.
func (c *Checker) Enabled() bool {
	return c.interval > 0
}

// Run starts the sweep loop. It blocks until ctx is cancelled, or returns
// immediately when the sweep is disabled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	if !c.Enabled() {
		log.Debug("maintenance sweep disabled")
		return
	}

	log.Info("starting maintenance sweep", zap.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("maintenance sweep stopped")
			return
		case <-ticker.C:
			c.Sweep(ctx, log)
		}
	}
}

// Sweep performs one pass. Failures are logged; the next tick retries.
func (c *Checker) Sweep(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
	} else {
		log.Debug("monitoring: ledger snapshot",
			zap.Int("instances", snap.TotalInstances),
			zap.Int("running", snap.RunningInstances),
			zap.Int("results", snap.TotalResults),
		)
	}

	if c.corrector == nil {
		return
	}
	n, err := c.corrector.CorrectAllCounts(ctx)
	if err != nil {
		log.Error("monitoring: count correction failed", zap.Error(err))
		return
	}
	if n > 0 {
		log.Warn("monitoring: corrected drifted result counts", zap.Int("corrected", n))
	}
}
