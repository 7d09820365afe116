package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type clickEvent struct {
	NotificationID string `json:"notification_id"`
	TabID          int    `json:"tab_id,omitempty"`
	Outcome        string `json:"outcome"`
}

const (
	clickFocused  = "focused"
	clickFallback = "fallback"
	clickNoTab    = "no_tab"
	clickFailed   = "failed"
)

// handleClick runs on the loop. The record is consumed here; the focus work
// touches no coordinator state and runs entirely off-loop.
func (c *Coordinator) handleClick(notificationID string) {
	rec, found := c.notifications[notificationID]
	delete(c.notifications, notificationID)

	var tabID int
	if found {
		tabID = rec.TabID
	}

	var outcome string
	c.loop.Async(func() {
		ctx, cancel := c.callContext()
		defer cancel()
		defer c.dismiss(ctx, notificationID)

		if !found {
			slog.Info("notification mapping not found, falling back", "notification_id", notificationID)
			outcome = c.fallback(ctx)
			return
		}

		tab, err := c.tabs.Get(ctx, tabID)
		if err == nil {
			err = c.focus(ctx, tab)
		}
		switch {
		case err == nil:
			outcome = clickFocused
		case errors.Is(err, ErrTabNotFound):
			slog.Info("original tab not found, falling back", "notification_id", notificationID, "tab_id", tabID)
			outcome = c.fallback(ctx)
		default:
			slog.Warn("tab focus failed", "notification_id", notificationID, "tab_id", tabID, "error", err)
			outcome = clickFailed
		}
	}, func() {
		c.opts.Publisher.Publish(EventNotificationClicked, clickEvent{
			NotificationID: notificationID,
			TabID:          tabID,
			Outcome:        outcome,
		})
	})
}

// focus activates tab and brings its window forward. A tab that closes
// mid-way surfaces as ErrTabNotFound.
func (c *Coordinator) focus(ctx context.Context, tab Tab) error {
	if err := c.tabs.Activate(ctx, tab.ID); err != nil {
		return fmt.Errorf("activate tab %d: %w", tab.ID, err)
	}
	if err := c.tabs.FocusWindow(ctx, tab.WindowID); err != nil {
		return fmt.Errorf("focus window %d: %w", tab.WindowID, err)
	}
	return nil
}

// fallback focuses the first open service tab. Candidates that close before
// they can be focused are skipped.
func (c *Coordinator) fallback(ctx context.Context) string {
	if c.opts.Fallback == FallbackNone {
		return clickNoTab
	}
	tabs, err := c.tabs.Query(ctx, c.matcher.Patterns())
	if err != nil {
		slog.Warn("fallback tab query failed", "error", err)
		return clickFailed
	}
	for _, tab := range tabs {
		err := c.focus(ctx, tab)
		switch {
		case err == nil:
			return clickFallback
		case errors.Is(err, ErrTabNotFound):
			slog.Debug("fallback tab closed, trying next", "tab_id", tab.ID)
		default:
			slog.Warn("fallback tab focus failed", "tab_id", tab.ID, "error", err)
			return clickFailed
		}
	}
	slog.Info("no service tab open for fallback")
	return clickNoTab
}

func (c *Coordinator) dismiss(ctx context.Context, notificationID string) {
	if err := c.notifier.Clear(ctx, notificationID); err != nil {
		slog.Debug("notification clear failed", "notification_id", notificationID, "error", err)
	}
}
