package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/tidwall/gjson"
)

// Sink receives network lifecycle events for attached tabs. Implementations
// must not block.
type Sink interface {
	OnRequestStart(requestID string, tabID int, url, method string)
	OnRequestComplete(requestID string)
	OnRequestError(requestID string)
}

// Client watches the browser's page targets. Tabs whose URL is in scope get
// a chromedp session with the Network domain enabled; their request events
// are forwarded to a Sink.
type Client struct {
	cdpURL   string
	inScope  func(url string) bool
	raw      *rawCDP
	registry *TabRegistry
	tabs     *Tabs

	allocCtx    context.Context
	allocCancel context.CancelFunc
	sink        Sink

	attachedMu sync.Mutex
	attached   map[target.ID]*TabContext
	unregister []func()
	wg         sync.WaitGroup
}

type TabContext struct {
	ID     target.ID
	TabID  int
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient returns a client for the DevTools endpoint at cdpURL
// (e.g. "http://127.0.0.1:9222"). inScope decides which page URLs are
// watched.
func NewClient(cdpURL string, inScope func(url string) bool) *Client {
	raw := newRawCDP(cdpURL)
	registry := NewTabRegistry()
	return &Client{
		cdpURL:   cdpURL,
		inScope:  inScope,
		raw:      raw,
		registry: registry,
		tabs:     NewTabs(raw, registry),
		attached: make(map[target.ID]*TabContext),
	}
}

// Tabs returns the tab and window collaborator backed by this client.
func (c *Client) Tabs() *Tabs { return c.tabs }

func (c *Client) Registry() *TabRegistry { return c.registry }

// Connect dials the browser, attaches to every in-scope page already open,
// and follows target creation, navigation, and destruction from then on.
func (c *Client) Connect(ctx context.Context, sink Sink) error {
	slog.Info("connecting to chromium", "url", c.cdpURL)
	c.sink = sink
	c.raw.onDisconnect = func(err error) {
		slog.Warn("browser connection lost", "error", err)
	}

	if err := c.raw.connect(ctx); err != nil {
		return err
	}
	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), c.cdpURL)

	c.unregister = append(c.unregister,
		c.raw.registerEventHandler("Target.targetCreated", c.onTargetInfo),
		c.raw.registerEventHandler("Target.targetInfoChanged", c.onTargetInfo),
		c.raw.registerEventHandler("Target.targetDestroyed", c.onTargetDestroyed),
	)

	targets, err := c.raw.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "list targets", err)
	}
	slog.Info("found browser targets", "count", len(targets))

	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if !c.inScope(t.URL) {
			slog.Debug("skipping tab (out of scope)", "url", truncateURL(t.URL))
			continue
		}
		c.startAttach(t.TargetID, t.URL)
	}

	if err := c.raw.setDiscoverTargets(ctx, true); err != nil {
		return newError(CodeCDPFailure, "discover targets", err)
	}
	return nil
}

// onTargetInfo handles targetCreated and targetInfoChanged. It runs on the
// raw read loop, so attaching happens on its own goroutine.
func (c *Client) onTargetInfo(_ string, params json.RawMessage) {
	info := parseTargetInfo(gjson.GetBytes(params, "targetInfo"))
	if info.Type != "page" {
		return
	}

	c.attachedMu.Lock()
	_, known := c.attached[info.TargetID]
	c.attachedMu.Unlock()

	if known {
		c.registry.Register(info.TargetID, info.URL)
		return
	}
	if c.inScope(info.URL) {
		c.startAttach(info.TargetID, info.URL)
	}
}

func (c *Client) onTargetDestroyed(_ string, params json.RawMessage) {
	targetID := target.ID(gjson.GetBytes(params, "targetId").String())
	c.detach(targetID)
}

func (c *Client) startAttach(targetID target.ID, url string) {
	c.attachedMu.Lock()
	if _, ok := c.attached[targetID]; ok {
		c.attachedMu.Unlock()
		return
	}
	info := c.registry.Register(targetID, url)
	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(targetID))
	tab := &TabContext{ID: targetID, TabID: info.ID, ctx: tabCtx, cancel: tabCancel}
	c.attached[targetID] = tab
	c.attachedMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.attachToTab(tab); err != nil {
			slog.Error("failed to attach to tab", "target_id", targetID, "url", truncateURL(url), "error", err)
			c.detach(targetID)
		}
	}()
}

func (c *Client) attachToTab(tab *TabContext) error {
	if err := chromedp.Run(tab.ctx, network.Enable()); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}
	chromedp.ListenTarget(tab.ctx, c.createEventHandler(tab.TabID))

	info, _ := c.registry.Get(tab.ID)
	slog.Info("attached to tab", "tab_id", tab.TabID, "browser_id", info.BrowserID, "url", truncateURL(info.URL))
	return nil
}

func (c *Client) createEventHandler(tabID int) func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			if e.Request == nil {
				return
			}
			c.sink.OnRequestStart(requestKey(tabID, e.RequestID), tabID, e.Request.URL, e.Request.Method)
		case *network.EventLoadingFinished:
			c.sink.OnRequestComplete(requestKey(tabID, e.RequestID))
		case *network.EventLoadingFailed:
			c.sink.OnRequestError(requestKey(tabID, e.RequestID))
		}
	}
}

func (c *Client) detach(targetID target.ID) {
	c.attachedMu.Lock()
	tab, ok := c.attached[targetID]
	delete(c.attached, targetID)
	c.attachedMu.Unlock()

	c.registry.Remove(targetID)
	if !ok {
		return
	}
	tab.cancel()
	slog.Debug("detached from tab", "tab_id", tab.TabID, "target_id", targetID)
}

func (c *Client) Close() error {
	for _, fn := range c.unregister {
		fn()
	}
	c.unregister = nil
	c.wg.Wait()

	// Tab contexts derive from the allocator and end with it.
	c.attachedMu.Lock()
	c.attached = make(map[target.ID]*TabContext)
	c.attachedMu.Unlock()

	if c.allocCancel != nil {
		c.allocCancel()
	}
	c.raw.close()

	slog.Info("cdp client closed")
	return nil
}

// AttachedCount returns the number of tabs with a live network session.
func (c *Client) AttachedCount() int {
	c.attachedMu.Lock()
	defer c.attachedMu.Unlock()
	return len(c.attached)
}

// Connected reports whether the browser-level socket is up.
func (c *Client) Connected() bool { return c.raw.connected() }

// requestKey namespaces a CDP request ID by tab; CDP request IDs are only
// unique within one target.
func requestKey(tabID int, id network.RequestID) string {
	return fmt.Sprintf("%d/%s", tabID, id)
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
