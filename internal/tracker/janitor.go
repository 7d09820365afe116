package tracker

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/dgnsrekt/ai_notifier/internal/loop"
)

// SweepResult counts entries removed by one janitor pass.
type SweepResult struct {
	Requests      int `json:"requests"`
	Notifications int `json:"notifications"`
}

func (c *Coordinator) janitorLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.loop.Post(func() { c.sweep() })
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs a janitor pass on the loop and reports what it removed.
func (c *Coordinator) Sweep(ctx context.Context) (SweepResult, error) {
	return loop.Compute(ctx, c.loop, c.sweep)
}

// sweep runs on the loop.
func (c *Coordinator) sweep() SweepResult {
	now := c.opts.Now()
	var res SweepResult

	for id, req := range c.requests {
		if now.Sub(req.StartTime) > c.opts.Retention {
			delete(c.requests, id)
			res.Requests++
		}
	}
	for id, rec := range c.notifications {
		if now.Sub(rec.CreatedAt) > c.opts.Retention {
			delete(c.notifications, id)
			res.Notifications++
		}
	}

	if res.Requests > 0 || res.Notifications > 0 {
		slog.Debug("janitor removed stale entries", "requests", res.Requests, "notifications", res.Notifications)
		c.opts.Publisher.Publish(EventJanitorSwept, res)
	}
	return res
}

func sortByTime[T any](items []T, at func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool { return at(items[i]).Before(at(items[j])) })
}
