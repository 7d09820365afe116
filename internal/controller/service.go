// Package controller composes the coordinator, service table and browser
// bridge into the operations the control API exposes.
package controller

import (
	"context"
	"strings"
	"time"

	"github.com/dgnsrekt/ai_notifier/internal/cdp"
	"github.com/dgnsrekt/ai_notifier/internal/service"
	"github.com/dgnsrekt/ai_notifier/internal/tracker"
	"github.com/samber/lo"
)

// Coordinator is the subset of *tracker.Coordinator the controller drives.
type Coordinator interface {
	Requests(ctx context.Context) ([]tracker.TrackedRequest, error)
	Notifications(ctx context.Context) ([]tracker.NotificationRecord, error)
	OnNotificationClicked(notificationID string)
	Sweep(ctx context.Context) (tracker.SweepResult, error)
}

// Browser reports the state of the CDP bridge.
type Browser interface {
	Connected() bool
	AttachedCount() int
	Registry() *cdp.TabRegistry
}

// Health summarises the daemon for the health endpoint.
type Health struct {
	Status               string `json:"status"`
	BrowserConnected     bool   `json:"browser_connected"`
	AttachedTabs         int    `json:"attached_tabs"`
	TrackedRequests      int    `json:"tracked_requests"`
	PendingNotifications int    `json:"pending_notifications"`
	UptimeSeconds        int64  `json:"uptime_seconds"`
}

// Service wraps the notifier's control operations.
type Service struct {
	coord   Coordinator
	matcher *service.Matcher
	browser Browser
	started time.Time
}

func NewService(coord Coordinator, matcher *service.Matcher, browser Browser) *Service {
	return &Service{coord: coord, matcher: matcher, browser: browser, started: time.Now()}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdp.CodedError{Code: cdp.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func (s *Service) Health(ctx context.Context) (Health, error) {
	reqs, err := s.coord.Requests(ctx)
	if err != nil {
		return Health{}, err
	}
	notes, err := s.coord.Notifications(ctx)
	if err != nil {
		return Health{}, err
	}
	h := Health{
		Status:               "ok",
		BrowserConnected:     s.browser.Connected(),
		AttachedTabs:         s.browser.AttachedCount(),
		TrackedRequests:      len(reqs),
		PendingNotifications: len(notes),
		UptimeSeconds:        int64(time.Since(s.started).Seconds()),
	}
	if !h.BrowserConnected {
		h.Status = "degraded"
	}
	return h, nil
}

func (s *Service) Services() []service.Info {
	return s.matcher.Infos()
}

// Tabs lists the tabs the bridge knows about, optionally only those in scope
// of serviceID.
func (s *Service) Tabs(serviceID string) ([]cdp.TabInfo, error) {
	tabs := s.browser.Registry().List()
	serviceID = strings.TrimSpace(serviceID)
	if serviceID == "" {
		return tabs, nil
	}
	desc, ok := s.matcher.Lookup(service.ID(serviceID))
	if !ok {
		return nil, &cdp.CodedError{Code: cdp.CodeValidation, Message: "unknown service " + serviceID}
	}
	return lo.Filter(tabs, func(tab cdp.TabInfo, _ int) bool {
		return desc.Covers(tab.URL)
	}), nil
}

func (s *Service) ListRequests(ctx context.Context) ([]tracker.TrackedRequest, error) {
	return s.coord.Requests(ctx)
}

func (s *Service) ListNotifications(ctx context.Context) ([]tracker.NotificationRecord, error) {
	return s.coord.Notifications(ctx)
}

// ClickNotification routes a click as if the user clicked the notification.
// Unknown IDs are accepted; the click router applies its fallback.
func (s *Service) ClickNotification(_ context.Context, notificationID string) error {
	if err := s.requireNonEmpty(notificationID, "notification_id"); err != nil {
		return err
	}
	s.coord.OnNotificationClicked(strings.TrimSpace(notificationID))
	return nil
}

func (s *Service) Sweep(ctx context.Context) (tracker.SweepResult, error) {
	return s.coord.Sweep(ctx)
}
