package cdp

import (
	"context"
	"log/slog"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/ai_notifier/internal/service"
	"github.com/dgnsrekt/ai_notifier/internal/tracker"
	"github.com/samber/lo"
)

const pageStateJS = `({visible: document.visibilityState === "visible", focused: document.hasFocus()})`

// Tabs answers the coordinator's tab and window questions over CDP.
type Tabs struct {
	raw      *rawCDP
	registry *TabRegistry
}

var _ tracker.Tabs = (*Tabs)(nil)

func NewTabs(raw *rawCDP, registry *TabRegistry) *Tabs {
	return &Tabs{raw: raw, registry: registry}
}

type pageState struct {
	Visible bool
	Focused bool
}

// Get resolves a tab by its integer ID. A tab the browser no longer knows
// is dropped from the registry and reported as tracker.ErrTabNotFound.
func (t *Tabs) Get(ctx context.Context, tabID int) (tracker.Tab, error) {
	info, ok := t.registry.ByID(tabID)
	if !ok {
		return tracker.Tab{}, tabNotFound(tabID, nil)
	}

	ti, err := t.raw.targetInfo(ctx, info.TargetID)
	if err != nil {
		return tracker.Tab{}, t.classify(tabID, info.TargetID, err)
	}
	windowID, _, err := t.raw.windowForTarget(ctx, info.TargetID)
	if err != nil {
		return tracker.Tab{}, t.classify(tabID, info.TargetID, err)
	}
	state, err := t.pageState(ctx, info.TargetID)
	if err != nil {
		return tracker.Tab{}, t.classify(tabID, info.TargetID, err)
	}

	// The target may have been destroyed while the calls above were in flight.
	if !t.registry.Update(info.TargetID, ti.URL) {
		return tracker.Tab{}, tabNotFound(tabID, nil)
	}
	return tracker.Tab{
		ID:       tabID,
		WindowID: windowID,
		URL:      ti.URL,
		Active:   state.Visible,
	}, nil
}

// Window reports whether a window has input focus. A minimized window is
// never focused; otherwise the registered tabs in the window are asked
// whether their document has focus.
func (t *Tabs) Window(ctx context.Context, windowID int) (tracker.Window, error) {
	state, err := t.raw.windowState(ctx, windowID)
	if err != nil {
		return tracker.Window{}, newError(CodeCDPFailure, "window bounds", err)
	}
	win := tracker.Window{ID: windowID}
	if state == "minimized" {
		return win, nil
	}

	for _, info := range t.registry.List() {
		wid, _, err := t.raw.windowForTarget(ctx, info.TargetID)
		if err != nil || wid != windowID {
			continue
		}
		ps, err := t.pageState(ctx, info.TargetID)
		if err != nil {
			slog.Debug("page state probe failed", "tab_id", info.ID, "error", err)
			continue
		}
		if ps.Focused {
			win.Focused = true
			break
		}
	}
	return win, nil
}

func (t *Tabs) Activate(ctx context.Context, tabID int) error {
	info, ok := t.registry.ByID(tabID)
	if !ok {
		return tabNotFound(tabID, nil)
	}
	if err := t.raw.activateTarget(ctx, info.TargetID); err != nil {
		return t.classify(tabID, info.TargetID, err)
	}
	return nil
}

// FocusWindow restores a minimized window. Raising the window is done by
// Target.activateTarget, which Activate already issued.
func (t *Tabs) FocusWindow(ctx context.Context, windowID int) error {
	state, err := t.raw.windowState(ctx, windowID)
	if err != nil {
		return newError(CodeCDPFailure, "window bounds", err)
	}
	if state != "minimized" {
		return nil
	}
	if err := t.raw.setWindowState(ctx, windowID, "normal"); err != nil {
		return newError(CodeCDPFailure, "restore window", err)
	}
	return nil
}

// Query lists open page tabs whose URL matches any of patterns, registering
// each one so the result carries usable tab IDs. Tabs whose window cannot be
// resolved are left out, since they cannot be focused.
func (t *Tabs) Query(ctx context.Context, patterns []string) ([]tracker.Tab, error) {
	targets, err := t.raw.listTargets(ctx)
	if err != nil {
		return nil, newError(CodeCDPUnavailable, "list targets", err)
	}

	var out []tracker.Tab
	for _, ti := range targets {
		if ti.Type != "page" || !matchesAny(patterns, ti.URL) {
			continue
		}
		wid, _, err := t.raw.windowForTarget(ctx, ti.TargetID)
		if err != nil {
			slog.Debug("skipping tab without a window", "target_id", ti.TargetID, "error", err)
			continue
		}
		info := t.registry.Register(ti.TargetID, ti.URL)
		out = append(out, tracker.Tab{ID: info.ID, WindowID: wid, URL: ti.URL})
	}
	return out, nil
}

func (t *Tabs) pageState(ctx context.Context, targetID target.ID) (pageState, error) {
	v, err := t.raw.evaluateOn(ctx, targetID, pageStateJS)
	if err != nil {
		return pageState{}, err
	}
	return pageState{
		Visible: v.Get("visible").Bool(),
		Focused: v.Get("focused").Bool(),
	}, nil
}

func (t *Tabs) classify(tabID int, targetID target.ID, err error) error {
	if isMissingTarget(err) {
		t.registry.Remove(targetID)
		return tabNotFound(tabID, err)
	}
	return newError(CodeCDPFailure, "tab lookup", err)
}

func matchesAny(patterns []string, url string) bool {
	return lo.ContainsBy(patterns, func(p string) bool {
		return service.MatchPattern(p, url)
	})
}
