package worker

import (
	"context"
	"log"
	"time"

	"github.com/outreachd/campaign-engine/internal/scheduler"
)

// SchedulerLoop runs the sequence scheduler tick on a fixed interval. Several
// instances may run at once; the per-enrollment claim keeps them from
// executing the same step twice.
type SchedulerLoop struct {
	Service  *scheduler.Service
	Interval time.Duration
}

func NewSchedulerLoop(svc *scheduler.Service, interval time.Duration) *SchedulerLoop {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SchedulerLoop{Service: svc, Interval: interval}
}

// Run ticks until ctx is cancelled. A failed tick is logged and the loop
// keeps going; the next tick picks up where the scan left off.
func (l *SchedulerLoop) Run(ctx context.Context) error {
	tick := time.NewTicker(l.Interval)
	defer tick.Stop()

	for {
		stats, err := l.Service.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[scheduler] tick err: %v", err)
		} else if stats != (scheduler.TickStats{}) {
			log.Printf("[scheduler] activated=%d executed=%d skipped=%d deferred=%d waiting=%d completed=%d cancelled=%d failed=%d",
				stats.Activated, stats.Executed, stats.Skipped, stats.Deferred, stats.Waiting, stats.Completed, stats.Cancelled, stats.Failed)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}
