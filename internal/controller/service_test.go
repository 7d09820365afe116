package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/dgnsrekt/ai_notifier/internal/cdp"
	"github.com/dgnsrekt/ai_notifier/internal/service"
	"github.com/dgnsrekt/ai_notifier/internal/tracker"
)

type fakeCoordinator struct {
	requests      []tracker.TrackedRequest
	notifications []tracker.NotificationRecord
	clicked       []string
	sweeps        int
	err           error
}

func (f *fakeCoordinator) Requests(context.Context) ([]tracker.TrackedRequest, error) {
	return f.requests, f.err
}

func (f *fakeCoordinator) Notifications(context.Context) ([]tracker.NotificationRecord, error) {
	return f.notifications, f.err
}

func (f *fakeCoordinator) OnNotificationClicked(id string) { f.clicked = append(f.clicked, id) }

func (f *fakeCoordinator) Sweep(context.Context) (tracker.SweepResult, error) {
	f.sweeps++
	return tracker.SweepResult{Requests: 1}, f.err
}

type fakeBrowser struct {
	connected bool
	registry  *cdp.TabRegistry
}

func (b *fakeBrowser) Connected() bool            { return b.connected }
func (b *fakeBrowser) AttachedCount() int         { return b.registry.Count() }
func (b *fakeBrowser) Registry() *cdp.TabRegistry { return b.registry }

func newTestService(connected bool) (*Service, *fakeCoordinator, *fakeBrowser) {
	coord := &fakeCoordinator{}
	browser := &fakeBrowser{connected: connected, registry: cdp.NewTabRegistry()}
	return NewService(coord, service.NewMatcher(service.Default()), browser), coord, browser
}

func TestRequireNonEmpty(t *testing.T) {
	s := &Service{}
	if err := s.requireNonEmpty("ai-response-1", "notification_id"); err != nil {
		t.Fatalf("requireNonEmpty() = %v; want nil", err)
	}

	if err := s.requireNonEmpty("   ", "notification_id"); err == nil {
		t.Fatalf("requireNonEmpty() = nil; want validation error")
	} else if got, ok := err.(*cdp.CodedError); !ok {
		t.Fatalf("requireNonEmpty() = %T; want *cdp.CodedError", err)
	} else if got.Code != cdp.CodeValidation {
		t.Fatalf("requireNonEmpty() code = %q; want %q", got.Code, cdp.CodeValidation)
	} else if got.Message != "notification_id is required" {
		t.Fatalf("requireNonEmpty() message = %q; want %q", got.Message, "notification_id is required")
	}
}

func TestClickNotification_RequiresID(t *testing.T) {
	s, coord, _ := newTestService(true)
	err := s.ClickNotification(context.Background(), "  ")
	var got *cdp.CodedError
	if !errors.As(err, &got) || got.Code != cdp.CodeValidation {
		t.Fatalf("ClickNotification() error = %v; want validation error", err)
	}
	if len(coord.clicked) != 0 {
		t.Fatal("invalid click must not reach the coordinator")
	}

	if err := s.ClickNotification(context.Background(), " ai-response-7 "); err != nil {
		t.Fatalf("ClickNotification() error = %v", err)
	}
	if len(coord.clicked) != 1 || coord.clicked[0] != "ai-response-7" {
		t.Fatalf("clicked = %v; want trimmed id", coord.clicked)
	}
}

func TestHealth(t *testing.T) {
	s, coord, browser := newTestService(false)
	coord.requests = []tracker.TrackedRequest{{RequestID: "1/a"}, {RequestID: "1/b"}}
	coord.notifications = []tracker.NotificationRecord{{ID: "ai-response-1"}}
	browser.registry.Register("T1", "https://claude.ai/new")

	h, err := s.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	want := Health{Status: "degraded", AttachedTabs: 1, TrackedRequests: 2, PendingNotifications: 1}
	h.UptimeSeconds = 0
	if h != want {
		t.Fatalf("Health() = %+v; want %+v", h, want)
	}

	coord.err = errors.New("loop stopped")
	if _, err := s.Health(context.Background()); err == nil {
		t.Fatal("Health() should surface coordinator errors")
	}
}

func TestTabsFiltersByService(t *testing.T) {
	s, _, browser := newTestService(true)
	browser.registry.Register("T1", "https://claude.ai/new")
	browser.registry.Register("T2", "https://chatgpt.com/c/1")

	all, err := s.Tabs("")
	if err != nil || len(all) != 2 {
		t.Fatalf("Tabs(\"\") = %v, %v; want 2 tabs", all, err)
	}
	claude, err := s.Tabs("claude")
	if err != nil || len(claude) != 1 || claude[0].URL != "https://claude.ai/new" {
		t.Fatalf("Tabs(claude) = %v, %v", claude, err)
	}
	if _, err := s.Tabs("bard"); err == nil {
		t.Fatal("Tabs(unknown) should fail validation")
	}
}

func TestServicesListsDefaultTable(t *testing.T) {
	s, _, _ := newTestService(true)
	infos := s.Services()
	if len(infos) != 3 || infos[0].ID != service.Claude {
		t.Fatalf("Services() = %+v", infos)
	}
}
