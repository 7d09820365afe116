package tracker

import (
	"context"
	"errors"

	"github.com/dgnsrekt/ai_notifier/internal/service"
)

// ErrTabNotFound is returned by Tabs when the referenced tab has closed.
var ErrTabNotFound = errors.New("tab not found")

// Tab is the subset of browser tab state the coordinator needs.
type Tab struct {
	ID       int    `json:"id"`
	WindowID int    `json:"window_id"`
	URL      string `json:"url"`
	Active   bool   `json:"active"`
}

// Window is the subset of browser window state the coordinator needs.
type Window struct {
	ID      int  `json:"id"`
	Focused bool `json:"focused"`
}

// Tabs queries and mutates browser tabs and windows.
type Tabs interface {
	Get(ctx context.Context, tabID int) (Tab, error)
	Window(ctx context.Context, windowID int) (Window, error)
	Activate(ctx context.Context, tabID int) error
	FocusWindow(ctx context.Context, windowID int) error
	Query(ctx context.Context, patterns []string) ([]Tab, error)
}

// Notification is the content of a user-visible notification.
type Notification struct {
	ServiceID service.ID
	Title     string
	Body      string
	Icon      string
}

// Notifier shows and dismisses notifications.
type Notifier interface {
	Create(ctx context.Context, id string, n Notification) error
	Clear(ctx context.Context, id string) error
}

// Publisher receives coordinator lifecycle events. It must not block.
type Publisher interface {
	Publish(kind string, payload any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}
