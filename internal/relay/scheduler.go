package relay

import (
	"context"
	"time"
)

// RunScheduler implements spec.md §4.3: periodically fire cleanup on the
// State Actor. The cadence is not load-bearing — cleanup runs inside every
// actor op anyway — so a minute-scale tick is sufficient. Returns a channel
// that closes once the goroutine has observed ctx's cancellation, so callers
// can wait for it during shutdown; no extra cleanup pass runs on shutdown.
func (h *Handler) RunScheduler(ctx context.Context, tick time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				evictions, err := h.actor.Cleanup()
				if err != nil {
					h.logger.Warn("scheduled cleanup failed", "err", err)
					continue
				}
				h.scheduleDeletes(evictions)
			}
		}
	}()
	return done
}
