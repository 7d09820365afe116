package tracker

import (
	"errors"
	"log/slog"

	"github.com/dgnsrekt/ai_notifier/internal/service"
	"github.com/google/uuid"
)

const notificationIDPrefix = "ai-response-"

// checkTabAndNotify runs on the loop. It resolves the tab off-loop and, back
// on the loop, either suppresses or records and shows a notification.
func (c *Coordinator) checkTabAndNotify(tabID int, serviceID service.ID) {
	var (
		tab Tab
		win Window
		err error
	)
	c.loop.Async(func() {
		ctx, cancel := c.callContext()
		defer cancel()

		tab, err = c.tabs.Get(ctx, tabID)
		if err != nil || !tab.Active {
			return
		}
		win, err = c.tabs.Window(ctx, tab.WindowID)
	}, func() {
		if err != nil {
			if errors.Is(err, ErrTabNotFound) {
				slog.Info("tab gone before notification", "tab_id", tabID, "service", serviceID)
			} else {
				slog.Warn("tab state check failed", "tab_id", tabID, "service", serviceID, "error", err)
			}
			return
		}
		if tab.Active && win.Focused {
			slog.Debug("tab in focus, notification skipped", "tab_id", tabID, "window_id", tab.WindowID)
			c.opts.Publisher.Publish(EventNotificationSuppressed, tab)
			return
		}
		c.notify(tabID, serviceID)
	})
}

// notify runs on the loop.
func (c *Coordinator) notify(tabID int, serviceID service.ID) {
	id, err := newNotificationID()
	if err != nil {
		slog.Warn("notification id generation failed", "error", err)
		return
	}

	rec := &NotificationRecord{
		ID:        id,
		TabID:     tabID,
		ServiceID: serviceID,
		CreatedAt: c.opts.Now(),
	}
	c.notifications[id] = rec

	note := Notification{
		ServiceID: serviceID,
		Title:     c.matcher.Name(serviceID) + " responded",
		Body:      c.opts.Message,
		Icon:      c.opts.Icon,
	}
	slog.Info("sending notification", "notification_id", id, "tab_id", tabID, "service", serviceID)

	var createErr error
	c.loop.Async(func() {
		ctx, cancel := c.callContext()
		defer cancel()
		createErr = c.notifier.Create(ctx, id, note)
	}, func() {
		if createErr != nil {
			// Nothing can click a notification that was never shown.
			delete(c.notifications, id)
			slog.Warn("notification create failed", "notification_id", id, "tab_id", tabID, "error", createErr)
			return
		}
		c.opts.Publisher.Publish(EventNotificationSent, *rec)
	})
}

func newNotificationID() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return notificationIDPrefix + u.String(), nil
}
