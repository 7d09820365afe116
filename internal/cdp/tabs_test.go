package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/ai_notifier/internal/tracker"
	"github.com/tidwall/gjson"
)

func TestTabRegistryAssignsStableIDs(t *testing.T) {
	r := NewTabRegistry()
	a := r.Register("AAAAAAAAAAAA", "https://claude.ai/new")
	b := r.Register("BBBBBBBB", "https://chatgpt.com/")
	again := r.Register("AAAAAAAAAAAA", "https://claude.ai/chat/1")

	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("ids = %d,%d; want 1,2", a.ID, b.ID)
	}
	if again.ID != a.ID || again.URL != "https://claude.ai/chat/1" {
		t.Fatalf("re-register = %+v; want same id with new url", again)
	}
	if a.BrowserID != "AAAAAAAA" {
		t.Fatalf("BrowserID = %q", a.BrowserID)
	}

	r.Remove("AAAAAAAAAAAA")
	if _, ok := r.ByID(a.ID); ok {
		t.Fatal("removed tab still resolves by id")
	}
	c := r.Register("AAAAAAAAAAAA", "https://claude.ai/new")
	if c.ID != 3 {
		t.Fatalf("id after re-open = %d; want a fresh id 3", c.ID)
	}
	if got := r.List(); len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
		t.Fatalf("List() = %+v", got)
	}
	if r.Count() != 2 {
		t.Fatalf("Count() = %d", r.Count())
	}
}

func TestTabsGetResolvesRegisteredTab(t *testing.T) {
	fb := newFakeBrowser(t)
	fb.pageTarget("https://claude.ai/chat/1", 7, true, false)
	raw := connectRaw(t, fb)
	reg := NewTabRegistry()
	info := reg.Register("T1", "https://claude.ai/new")

	tab, err := NewTabs(raw, reg).Get(context.Background(), info.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := tracker.Tab{ID: info.ID, WindowID: 7, URL: "https://claude.ai/chat/1", Active: true}
	if tab != want {
		t.Fatalf("Get() = %+v; want %+v", tab, want)
	}
	if got, _ := reg.ByID(info.ID); got.URL != want.URL {
		t.Fatalf("registry url = %q; want refreshed", got.URL)
	}
	if fb.called("Target.detachFromTarget") != 1 {
		t.Fatal("evaluate session was not detached")
	}
}

func TestTabsGetUnknownIDIsNotFound(t *testing.T) {
	fb := newFakeBrowser(t)
	raw := connectRaw(t, fb)

	_, err := NewTabs(raw, NewTabRegistry()).Get(context.Background(), 42)
	if !errors.Is(err, tracker.ErrTabNotFound) {
		t.Fatalf("Get() error = %v; want ErrTabNotFound", err)
	}
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != CodeTabNotFound {
		t.Fatalf("error = %v; want %s coded error", err, CodeTabNotFound)
	}
}

func TestTabsGetClosedTargetIsNotFound(t *testing.T) {
	fb := newFakeBrowser(t)
	fb.fail("Target.getTargetInfo", "No target with given id found")
	raw := connectRaw(t, fb)
	reg := NewTabRegistry()
	info := reg.Register("T1", "https://claude.ai/new")

	_, err := NewTabs(raw, reg).Get(context.Background(), info.ID)
	if !errors.Is(err, tracker.ErrTabNotFound) {
		t.Fatalf("Get() error = %v; want ErrTabNotFound", err)
	}
	if reg.Count() != 0 {
		t.Fatal("closed target should be dropped from the registry")
	}
}

func TestTabsGetOtherFailureIsNotNotFound(t *testing.T) {
	fb := newFakeBrowser(t)
	fb.fail("Target.getTargetInfo", "Internal error")
	raw := connectRaw(t, fb)
	reg := NewTabRegistry()
	info := reg.Register("T1", "https://claude.ai/new")

	_, err := NewTabs(raw, reg).Get(context.Background(), info.ID)
	if err == nil || errors.Is(err, tracker.ErrTabNotFound) {
		t.Fatalf("Get() error = %v; want a non-not-found failure", err)
	}
	if reg.Count() != 1 {
		t.Fatal("transient failure must not drop the tab")
	}
}

func TestTabsWindowFocus(t *testing.T) {
	tests := []struct {
		name    string
		state   string
		focused bool
		want    bool
	}{
		{name: "focused document", state: "normal", focused: true, want: true},
		{name: "no focused document", state: "normal", focused: false, want: false},
		{name: "minimized", state: "minimized", focused: true, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBrowser(t)
			fb.pageTarget("https://claude.ai/new", 3, true, tt.focused)
			fb.reply("Browser.getWindowBounds", map[string]any{
				"bounds": map[string]any{"windowState": tt.state},
			})
			raw := connectRaw(t, fb)
			reg := NewTabRegistry()
			reg.Register("T1", "https://claude.ai/new")

			win, err := NewTabs(raw, reg).Window(context.Background(), 3)
			if err != nil {
				t.Fatalf("Window() error = %v", err)
			}
			if win.ID != 3 || win.Focused != tt.want {
				t.Fatalf("Window() = %+v; want focused=%v", win, tt.want)
			}
		})
	}
}

func TestTabsFocusWindowRestoresMinimized(t *testing.T) {
	fb := newFakeBrowser(t)
	fb.reply("Browser.getWindowBounds", map[string]any{
		"bounds": map[string]any{"windowState": "minimized"},
	})
	states := make(chan string, 2)
	fb.handle("Browser.setWindowBounds", func(p gjson.Result) (any, string) {
		states <- p.Get("bounds.windowState").String()
		return map[string]any{}, ""
	})
	raw := connectRaw(t, fb)
	tabs := NewTabs(raw, NewTabRegistry())

	if err := tabs.FocusWindow(context.Background(), 9); err != nil {
		t.Fatalf("FocusWindow() error = %v", err)
	}
	if state := <-states; state != "normal" {
		t.Fatalf("windowState = %q; want normal", state)
	}

	fb.reply("Browser.getWindowBounds", map[string]any{
		"bounds": map[string]any{"windowState": "maximized"},
	})
	if err := tabs.FocusWindow(context.Background(), 9); err != nil {
		t.Fatalf("FocusWindow() error = %v", err)
	}
	if n := fb.called("Browser.setWindowBounds"); n != 1 {
		t.Fatalf("setWindowBounds calls = %d; want 1", n)
	}
}

func TestTabsActivate(t *testing.T) {
	fb := newFakeBrowser(t)
	activated := make(chan string, 1)
	fb.handle("Target.activateTarget", func(p gjson.Result) (any, string) {
		activated <- p.Get("targetId").String()
		return map[string]any{}, ""
	})
	raw := connectRaw(t, fb)
	reg := NewTabRegistry()
	info := reg.Register("T9", "https://gemini.google.com/app")
	tabs := NewTabs(raw, reg)

	if err := tabs.Activate(context.Background(), info.ID); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if id := <-activated; id != "T9" {
		t.Fatalf("activated = %q; want T9", id)
	}
	if err := tabs.Activate(context.Background(), 99); !errors.Is(err, tracker.ErrTabNotFound) {
		t.Fatalf("Activate(unknown) error = %v; want ErrTabNotFound", err)
	}
}

func TestTabsQueryFiltersByPattern(t *testing.T) {
	fb := newFakeBrowser(t)
	fb.addTarget("W1", "service_worker", "https://claude.ai/sw.js")
	fb.addTarget("P1", "page", "https://example.com/")
	fb.addTarget("P2", "page", "https://chatgpt.com/c/abc")
	fb.addTarget("P3", "page", "https://claude.ai/new")
	fb.reply("Browser.getWindowForTarget", map[string]any{"windowId": 4})
	raw := connectRaw(t, fb)
	reg := NewTabRegistry()

	got, err := NewTabs(raw, reg).Query(context.Background(), []string{"https://claude.ai/*", "https://chatgpt.com/*"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Query() = %+v; want 2 page tabs", got)
	}
	if got[0].URL != "https://chatgpt.com/c/abc" || got[1].URL != "https://claude.ai/new" {
		t.Fatalf("Query() order = %+v; want browser order", got)
	}
	if got[0].WindowID != 4 {
		t.Fatalf("WindowID = %d; want 4", got[0].WindowID)
	}
	if info, ok := reg.ByID(got[1].ID); !ok || info.TargetID != "P3" {
		t.Fatalf("query result not registered: %+v", info)
	}
}

func TestRawCDPDispatchesEvents(t *testing.T) {
	fb := newFakeBrowser(t)
	raw := connectRaw(t, fb)

	got := make(chan string, 1)
	unregister := raw.registerEventHandler("Target.targetDestroyed", func(_ string, params json.RawMessage) {
		got <- gjson.GetBytes(params, "targetId").String()
	})
	defer unregister()

	if err := raw.setDiscoverTargets(context.Background(), true); err != nil {
		t.Fatalf("setDiscoverTargets() error = %v", err)
	}
	fb.emit("Target.targetDestroyed", map[string]string{"targetId": "T5"})

	select {
	case id := <-got:
		if id != "T5" {
			t.Fatalf("targetId = %q; want T5", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event handler never ran")
	}
}

func TestRawCDPProtocolError(t *testing.T) {
	fb := newFakeBrowser(t)
	fb.fail("Target.activateTarget", "No target with given id found")
	raw := connectRaw(t, fb)

	err := raw.activateTarget(context.Background(), target.ID("nope"))
	if !isMissingTarget(err) {
		t.Fatalf("error = %v; want missing target", err)
	}
	if !strings.Contains(err.Error(), "Target.activateTarget") {
		t.Fatalf("error %q should name the method", err)
	}
}

func TestRawCDPNotConnected(t *testing.T) {
	raw := newRawCDP("http://127.0.0.1:1")
	_, err := raw.call(context.Background(), "", "Browser.getVersion", nil)
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != CodeCDPUnavailable {
		t.Fatalf("error = %v; want %s", err, CodeCDPUnavailable)
	}
}

type recordingSink struct {
	starts    []string
	completes []string
	errs      []string
}

func (s *recordingSink) OnRequestStart(id string, tabID int, url, method string) {
	s.starts = append(s.starts, id+" "+method+" "+url)
}
func (s *recordingSink) OnRequestComplete(id string) { s.completes = append(s.completes, id) }
func (s *recordingSink) OnRequestError(id string)    { s.errs = append(s.errs, id) }

func TestEventHandlerNamespacesRequestIDs(t *testing.T) {
	sink := &recordingSink{}
	c := NewClient("http://127.0.0.1:1", func(string) bool { return true })
	c.sink = sink
	handle := c.createEventHandler(3)

	handle(&network.EventRequestWillBeSent{
		RequestID: "100.1",
		Request:   &network.Request{URL: "https://claude.ai/api/completion", Method: "POST"},
	})
	handle(&network.EventRequestWillBeSent{RequestID: "100.2"})
	handle(&network.EventLoadingFinished{RequestID: "100.1"})
	handle(&network.EventLoadingFailed{RequestID: "100.3"})
	handle(&network.EventResponseReceived{RequestID: "100.1"})

	if len(sink.starts) != 1 || sink.starts[0] != "3/100.1 POST https://claude.ai/api/completion" {
		t.Fatalf("starts = %v", sink.starts)
	}
	if len(sink.completes) != 1 || sink.completes[0] != "3/100.1" {
		t.Fatalf("completes = %v", sink.completes)
	}
	if len(sink.errs) != 1 || sink.errs[0] != "3/100.3" {
		t.Fatalf("errors = %v", sink.errs)
	}
}

func TestTargetEventsMaintainRegistry(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", func(url string) bool {
		return strings.HasPrefix(url, "https://claude.ai/")
	})
	c.attached["T1"] = &TabContext{ID: "T1", TabID: c.registry.Register("T1", "https://claude.ai/new").ID, cancel: func() {}}

	c.onTargetInfo("", json.RawMessage(`{"targetInfo":{"targetId":"T1","type":"page","url":"https://claude.ai/chat/9"}}`))
	if info, _ := c.registry.Get("T1"); info.URL != "https://claude.ai/chat/9" {
		t.Fatalf("url = %q; want navigation tracked", info.URL)
	}

	c.onTargetInfo("", json.RawMessage(`{"targetInfo":{"targetId":"T2","type":"page","url":"https://example.com/"}}`))
	c.onTargetInfo("", json.RawMessage(`{"targetInfo":{"targetId":"W1","type":"service_worker","url":"https://claude.ai/sw.js"}}`))
	if c.AttachedCount() != 1 || c.registry.Count() != 1 {
		t.Fatalf("out-of-scope targets were attached: attached=%d registry=%d", c.AttachedCount(), c.registry.Count())
	}

	c.onTargetDestroyed("", json.RawMessage(`{"targetId":"T1"}`))
	if c.AttachedCount() != 0 || c.registry.Count() != 0 {
		t.Fatal("destroyed target should be detached and forgotten")
	}
}

func TestTabRegistryUpdateDoesNotRegister(t *testing.T) {
	r := NewTabRegistry()
	if r.Update("GONE", "https://claude.ai/new") {
		t.Fatal("Update() of an unknown target reported true")
	}
	if r.Count() != 0 {
		t.Fatalf("Count() = %d; want 0", r.Count())
	}

	info := r.Register("T1", "https://claude.ai/new")
	if !r.Update("T1", "https://claude.ai/chat/2") {
		t.Fatal("Update() of a registered target reported false")
	}
	if got, _ := r.ByID(info.ID); got.URL != "https://claude.ai/chat/2" {
		t.Fatalf("url = %q; want updated", got.URL)
	}
}

func TestTabsGetTargetDestroyedMidLookup(t *testing.T) {
	fb := newFakeBrowser(t)
	fb.pageTarget("https://claude.ai/chat/1", 7, false, false)
	raw := connectRaw(t, fb)
	reg := NewTabRegistry()
	info := reg.Register("T1", "https://claude.ai/new")

	// targetDestroyed lands while the page state is being evaluated.
	fb.handle("Runtime.evaluate", func(gjson.Result) (any, string) {
		reg.Remove("T1")
		return map[string]any{"result": map[string]any{
			"type":  "object",
			"value": map[string]any{"visible": false, "focused": false},
		}}, ""
	})

	_, err := NewTabs(raw, reg).Get(context.Background(), info.ID)
	if !errors.Is(err, tracker.ErrTabNotFound) {
		t.Fatalf("Get() error = %v; want ErrTabNotFound", err)
	}
	if reg.Count() != 0 {
		t.Fatalf("registry = %+v; destroyed target was registered again", reg.List())
	}
}

func TestTabsQuerySkipsTabsWithoutWindow(t *testing.T) {
	fb := newFakeBrowser(t)
	fb.addTarget("P1", "page", "https://claude.ai/chat/1")
	fb.addTarget("P2", "page", "https://claude.ai/chat/2")
	fb.handle("Browser.getWindowForTarget", func(p gjson.Result) (any, string) {
		if p.Get("targetId").String() == "P1" {
			return nil, "No target with given id found"
		}
		return map[string]any{"windowId": 9}, ""
	})
	raw := connectRaw(t, fb)
	reg := NewTabRegistry()

	got, err := NewTabs(raw, reg).Query(context.Background(), []string{"https://claude.ai/*"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 1 || got[0].URL != "https://claude.ai/chat/2" || got[0].WindowID != 9 {
		t.Fatalf("Query() = %+v; want only the tab with a window", got)
	}
	if _, ok := reg.Get("P1"); ok {
		t.Fatal("tab without a window should not be registered")
	}
}
