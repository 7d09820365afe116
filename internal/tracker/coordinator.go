// Package tracker correlates AI completion requests with browser tabs and
// notifies the user when a long answer finishes in a tab they are not
// looking at.
//
// All state lives on a single loop.Loop: the public methods only queue work,
// and every map mutation happens on the loop goroutine. Platform calls (tab
// lookups, notifications) run through loop.Async, so a continuation must
// cope with the maps having changed while it waited.
package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgnsrekt/ai_notifier/internal/loop"
	"github.com/dgnsrekt/ai_notifier/internal/service"
)

const (
	DefaultMinDuration   = time.Second
	DefaultRetention     = 5 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultCallTimeout   = 5 * time.Second
	DefaultMessage       = "A new answer is ready. Click to view it."
)

// Event kinds published by the coordinator.
const (
	EventRequestTracked         = "request.tracked"
	EventRequestCompleted       = "request.completed"
	EventRequestDiscarded       = "request.discarded"
	EventRequestFailed          = "request.failed"
	EventNotificationSent       = "notification.sent"
	EventNotificationSuppressed = "notification.suppressed"
	EventNotificationClicked    = "notification.clicked"
	EventJanitorSwept           = "janitor.swept"
)

// FallbackPolicy decides what a click does when its tab is gone.
type FallbackPolicy string

const (
	FallbackFirstMatching FallbackPolicy = "first-matching"
	FallbackNone          FallbackPolicy = "none"
)

// ParseFallbackPolicy maps a config string to a policy, defaulting to
// FallbackFirstMatching.
func ParseFallbackPolicy(s string) FallbackPolicy {
	if FallbackPolicy(s) == FallbackNone {
		return FallbackNone
	}
	return FallbackFirstMatching
}

// TrackedRequest is an in-flight completion request.
type TrackedRequest struct {
	RequestID string     `json:"request_id"`
	TabID     int        `json:"tab_id"`
	StartTime time.Time  `json:"start_time"`
	ServiceID service.ID `json:"service_id"`
}

// NotificationRecord ties a shown notification back to its tab.
type NotificationRecord struct {
	ID        string     `json:"id"`
	TabID     int        `json:"tab_id"`
	ServiceID service.ID `json:"service_id"`
	CreatedAt time.Time  `json:"created_at"`
}

// Options tunes coordinator policy.
type Options struct {
	MinDuration   time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
	CallTimeout   time.Duration
	Fallback      FallbackPolicy
	Message       string
	Icon          string
	Now           func() time.Time
	Publisher     Publisher
}

func (o Options) withDefaults() Options {
	if o.MinDuration <= 0 {
		o.MinDuration = DefaultMinDuration
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.Fallback == "" {
		o.Fallback = FallbackFirstMatching
	}
	if o.Message == "" {
		o.Message = DefaultMessage
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Publisher == nil {
		o.Publisher = nopPublisher{}
	}
	return o
}

// Coordinator owns the request and notification maps.
type Coordinator struct {
	matcher  *service.Matcher
	tabs     Tabs
	notifier Notifier
	loop     *loop.Loop
	opts     Options

	// loop-owned
	requests      map[string]*TrackedRequest
	notifications map[string]*NotificationRecord
}

func New(matcher *service.Matcher, tabs Tabs, notifier Notifier, opts Options) *Coordinator {
	return &Coordinator{
		matcher:       matcher,
		tabs:          tabs,
		notifier:      notifier,
		loop:          loop.New(),
		opts:          opts.withDefaults(),
		requests:      make(map[string]*TrackedRequest),
		notifications: make(map[string]*NotificationRecord),
	}
}

// Run drives the event loop and the janitor until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	go c.janitorLoop(ctx)
	slog.Info("coordinator running",
		"min_duration_ms", c.opts.MinDuration.Milliseconds(),
		"retention", c.opts.Retention.String(),
		"sweep_interval", c.opts.SweepInterval.String(),
		"click_fallback", string(c.opts.Fallback),
	)
	return c.loop.Run(ctx)
}

// Wait blocks until every queued event and platform call has settled.
func (c *Coordinator) Wait() {
	c.loop.Wait()
}

// OnRequestStart records a matched completion request.
func (c *Coordinator) OnRequestStart(requestID string, tabID int, url, method string) {
	c.loop.Post(func() { c.handleStart(requestID, tabID, url, method) })
}

// OnRequestComplete finishes a tracked request, notifying if it ran long.
func (c *Coordinator) OnRequestComplete(requestID string) {
	c.loop.Post(func() { c.handleComplete(requestID) })
}

// OnRequestError drops a tracked request without notifying.
func (c *Coordinator) OnRequestError(requestID string) {
	c.loop.Post(func() { c.handleError(requestID) })
}

// OnNotificationClicked focuses the tab behind a notification.
func (c *Coordinator) OnNotificationClicked(notificationID string) {
	c.loop.Post(func() { c.handleClick(notificationID) })
}

// Requests returns a snapshot of the tracked requests.
func (c *Coordinator) Requests(ctx context.Context) ([]TrackedRequest, error) {
	return loop.Compute(ctx, c.loop, func() []TrackedRequest {
		out := make([]TrackedRequest, 0, len(c.requests))
		for _, r := range c.requests {
			out = append(out, *r)
		}
		sortByTime(out, func(r TrackedRequest) time.Time { return r.StartTime })
		return out
	})
}

// Notifications returns a snapshot of the notification records.
func (c *Coordinator) Notifications(ctx context.Context) ([]NotificationRecord, error) {
	return loop.Compute(ctx, c.loop, func() []NotificationRecord {
		out := make([]NotificationRecord, 0, len(c.notifications))
		for _, n := range c.notifications {
			out = append(out, *n)
		}
		sortByTime(out, func(n NotificationRecord) time.Time { return n.CreatedAt })
		return out
	})
}

func (c *Coordinator) handleStart(requestID string, tabID int, url, method string) {
	serviceID, ok := c.matcher.Match(url, method)
	if !ok {
		return
	}
	if _, exists := c.requests[requestID]; exists {
		slog.Debug("request already tracked", "request_id", requestID, "tab_id", tabID)
		return
	}

	req := &TrackedRequest{
		RequestID: requestID,
		TabID:     tabID,
		StartTime: c.opts.Now(),
		ServiceID: serviceID,
	}
	c.requests[requestID] = req
	slog.Debug("request tracked", "request_id", requestID, "tab_id", tabID, "service", serviceID)
	c.opts.Publisher.Publish(EventRequestTracked, *req)
}

func (c *Coordinator) handleComplete(requestID string) {
	req, ok := c.requests[requestID]
	if !ok {
		return
	}
	delete(c.requests, requestID)

	elapsed := c.opts.Now().Sub(req.StartTime)
	slog.Info("request completed",
		"request_id", requestID,
		"tab_id", req.TabID,
		"service", req.ServiceID,
		"elapsed_ms", elapsed.Milliseconds(),
	)

	if elapsed < c.opts.MinDuration {
		slog.Debug("short request skipped", "request_id", requestID, "elapsed_ms", elapsed.Milliseconds())
		c.opts.Publisher.Publish(EventRequestDiscarded, requestEvent{*req, elapsed.Milliseconds()})
		return
	}

	c.opts.Publisher.Publish(EventRequestCompleted, requestEvent{*req, elapsed.Milliseconds()})
	c.checkTabAndNotify(req.TabID, req.ServiceID)
}

func (c *Coordinator) handleError(requestID string) {
	req, ok := c.requests[requestID]
	if !ok {
		return
	}
	delete(c.requests, requestID)
	slog.Debug("request failed", "request_id", requestID, "tab_id", req.TabID)
	c.opts.Publisher.Publish(EventRequestFailed, *req)
}

func (c *Coordinator) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opts.CallTimeout)
}

type requestEvent struct {
	TrackedRequest
	ElapsedMS int64 `json:"elapsed_ms"`
}
