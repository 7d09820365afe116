package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/tidwall/gjson"
)

// rawCDP is a minimal browser-level CDP client. It carries target discovery
// events and the short tab and window commands the daemon issues, without
// the session setup chromedp performs on every target it touches.
type rawCDP struct {
	httpBase string // e.g. "http://127.0.0.1:9222"
	client   *http.Client

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pending   map[int64]chan json.RawMessage
	pendingMu sync.Mutex

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler

	onDisconnect func(error)
}

type eventHandler struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

func newRawCDP(httpBase string) *rawCDP {
	return &rawCDP{
		httpBase:      strings.TrimRight(httpBase, "/"),
		client:        http.DefaultClient,
		pending:       make(map[int64]chan json.RawMessage),
		eventHandlers: make(map[string][]eventHandler),
	}
}

// connect dials the browser-level WebSocket endpoint.
func (r *rawCDP) connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	wsURL, err := r.browserWSURL(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "browser ws url", err)
	}

	slog.Debug("rawcdp connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return newError(CodeCDPUnavailable, "dial browser", err)
	}

	r.conn = conn
	r.pending = make(map[int64]chan json.RawMessage)
	go r.readLoop(conn)
	return nil
}

func (r *rawCDP) connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

func (r *rawCDP) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// readLoop routes replies to their waiters and events to registered
// handlers. Handlers run on this goroutine and must not wait on a reply.
func (r *rawCDP) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.mu.Unlock()
			r.closeAllPending()
			if r.onDisconnect != nil {
				r.onDisconnect(err)
			}
			return
		}

		fields := gjson.GetManyBytes(data, "id", "method", "sessionId", "params")
		if id := fields[0].Int(); id > 0 {
			r.pendingMu.Lock()
			ch, ok := r.pending[id]
			if ok {
				delete(r.pending, id)
			}
			r.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
		} else if method := fields[1].String(); method != "" {
			r.dispatchEvent(method, fields[2].String(), json.RawMessage(fields[3].Raw))
		}
	}
}

func (r *rawCDP) closeAllPending() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
}

func (r *rawCDP) deletePending(id int64) {
	r.pendingMu.Lock()
	delete(r.pending, id)
	r.pendingMu.Unlock()
}

// sendRaw marshals an envelope, sends it over the WebSocket, and waits for
// the response keyed by the given id.
func (r *rawCDP) sendRaw(ctx context.Context, id int64, envelope any) (json.RawMessage, error) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil, newError(CodeCDPUnavailable, "not connected", nil)
	}

	ch := make(chan json.RawMessage, 1)
	r.pendingMu.Lock()
	r.pending[id] = ch
	r.pendingMu.Unlock()

	data, err := json.Marshal(envelope)
	if err != nil {
		r.deletePending(id)
		return nil, fmt.Errorf("rawcdp: marshal: %w", err)
	}

	r.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	r.mu.Unlock()
	if err != nil {
		r.deletePending(id)
		return nil, newError(CodeCDPUnavailable, "send", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, newError(CodeCDPUnavailable, "connection closed", nil)
		}
		return resp, nil
	case <-ctx.Done():
		r.deletePending(id)
		return nil, ctx.Err()
	}
}

// call sends a command, on a flattened session when sessionID is set, and
// returns the reply's "result" object.
func (r *rawCDP) call(ctx context.Context, sessionID, method string, params any) (gjson.Result, error) {
	id := r.seq.Add(1)
	req := struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params}

	resp, err := r.sendRaw(ctx, id, req)
	if err != nil {
		return gjson.Result{}, err
	}

	reply := gjson.ParseBytes(resp)
	if e := reply.Get("error"); e.Exists() {
		return gjson.Result{}, &protocolError{
			Method:  method,
			Code:    e.Get("code").Int(),
			Message: e.Get("message").String(),
		}
	}
	return reply.Get("result"), nil
}

// setDiscoverTargets turns Target.targetCreated/InfoChanged/Destroyed
// events on or off for this connection.
func (r *rawCDP) setDiscoverTargets(ctx context.Context, discover bool) error {
	params := struct {
		Discover bool `json:"discover"`
	}{Discover: discover}
	_, err := r.call(ctx, "", "Target.setDiscoverTargets", params)
	return err
}

func (r *rawCDP) targetInfo(ctx context.Context, targetID target.ID) (*target.Info, error) {
	params := struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: targetID}
	res, err := r.call(ctx, "", "Target.getTargetInfo", params)
	if err != nil {
		return nil, err
	}
	return parseTargetInfo(res.Get("targetInfo")), nil
}

func (r *rawCDP) activateTarget(ctx context.Context, targetID target.ID) error {
	params := struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: targetID}
	_, err := r.call(ctx, "", "Target.activateTarget", params)
	return err
}

// windowForTarget returns the browser window holding targetID.
func (r *rawCDP) windowForTarget(ctx context.Context, targetID target.ID) (int, string, error) {
	params := struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: targetID}
	res, err := r.call(ctx, "", "Browser.getWindowForTarget", params)
	if err != nil {
		return 0, "", err
	}
	return int(res.Get("windowId").Int()), res.Get("bounds.windowState").String(), nil
}

// windowState returns "normal", "minimized", "maximized" or "fullscreen".
func (r *rawCDP) windowState(ctx context.Context, windowID int) (string, error) {
	params := struct {
		WindowID int `json:"windowId"`
	}{WindowID: windowID}
	res, err := r.call(ctx, "", "Browser.getWindowBounds", params)
	if err != nil {
		return "", err
	}
	return res.Get("bounds.windowState").String(), nil
}

func (r *rawCDP) setWindowState(ctx context.Context, windowID int, state string) error {
	type bounds struct {
		WindowState string `json:"windowState"`
	}
	params := struct {
		WindowID int    `json:"windowId"`
		Bounds   bounds `json:"bounds"`
	}{WindowID: windowID, Bounds: bounds{WindowState: state}}
	_, err := r.call(ctx, "", "Browser.setWindowBounds", params)
	return err
}

// attachToTarget attaches a flat session to the given target.
func (r *rawCDP) attachToTarget(ctx context.Context, targetID target.ID) (string, error) {
	params := struct {
		TargetID target.ID `json:"targetId"`
		Flatten  bool      `json:"flatten"`
	}{TargetID: targetID, Flatten: true}

	res, err := r.call(ctx, "", "Target.attachToTarget", params)
	if err != nil {
		return "", err
	}
	return res.Get("sessionId").String(), nil
}

// detachFromTarget detaches from a session without closing the target.
func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID string) error {
	params := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}
	_, err := r.call(ctx, "", "Target.detachFromTarget", params)
	return err
}

// evaluate runs JS on the given session and returns the result value.
func (r *rawCDP) evaluate(ctx context.Context, sessionID, js string) (gjson.Result, error) {
	params := struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: js, ReturnByValue: true, AwaitPromise: true}

	res, err := r.call(ctx, sessionID, "Runtime.evaluate", params)
	if err != nil {
		return gjson.Result{}, err
	}
	if exc := res.Get("exceptionDetails"); exc.Exists() {
		return gjson.Result{}, fmt.Errorf("rawcdp: eval exception: %s", exc.Get("text").String())
	}
	return res.Get("result.value"), nil
}

// evaluateOn attaches to targetID, evaluates js and detaches again.
func (r *rawCDP) evaluateOn(ctx context.Context, targetID target.ID, js string) (gjson.Result, error) {
	sessionID, err := r.attachToTarget(ctx, targetID)
	if err != nil {
		return gjson.Result{}, err
	}
	defer func() {
		if err := r.detachFromTarget(context.WithoutCancel(ctx), sessionID); err != nil {
			slog.Debug("rawcdp detach failed", "target_id", targetID, "error", err)
		}
	}()
	return r.evaluate(ctx, sessionID, js)
}

// listTargets fetches open targets via the HTTP /json/list endpoint.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	body, err := r.getJSON(listCtx, "/json/list")
	if err != nil {
		return nil, err
	}

	entries := gjson.ParseBytes(body).Array()
	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{
			TargetID: target.ID(e.Get("id").String()),
			Type:     e.Get("type").String(),
			Title:    e.Get("title").String(),
			URL:      e.Get("url").String(),
		})
	}
	return out, nil
}

// registerEventHandler registers a handler for a CDP event method (e.g.
// "Target.targetCreated"). Returns an unregister function.
func (r *rawCDP) registerEventHandler(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := r.seq.Add(1)
	r.eventMu.Lock()
	r.eventHandlers[method] = append(r.eventHandlers[method], eventHandler{id: id, fn: fn})
	r.eventMu.Unlock()
	return func() {
		r.eventMu.Lock()
		defer r.eventMu.Unlock()
		handlers := r.eventHandlers[method]
		for i, h := range handlers {
			if h.id == id {
				r.eventHandlers[method] = append(handlers[:i], handlers[i+1:]...)
				break
			}
		}
	}
}

// dispatchEvent invokes all registered handlers for the given CDP event method.
func (r *rawCDP) dispatchEvent(method, sessionID string, params json.RawMessage) {
	r.eventMu.RLock()
	handlers := make([]eventHandler, len(r.eventHandlers[method]))
	copy(handlers, r.eventHandlers[method])
	r.eventMu.RUnlock()
	for _, h := range handlers {
		h.fn(sessionID, params)
	}
}

// browserWSURL fetches the WebSocket debugger URL from /json/version.
func (r *rawCDP) browserWSURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	body, err := r.getJSON(ctx, "/json/version")
	if err != nil {
		return "", err
	}
	wsURL := gjson.GetBytes(body, "webSocketDebuggerUrl").String()
	if wsURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return wsURL, nil
}

func (r *rawCDP) getJSON(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.httpBase+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rawcdp: %s: HTTP %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func parseTargetInfo(v gjson.Result) *target.Info {
	return &target.Info{
		TargetID: target.ID(v.Get("targetId").String()),
		Type:     v.Get("type").String(),
		Title:    v.Get("title").String(),
		URL:      v.Get("url").String(),
		Attached: v.Get("attached").Bool(),
	}
}
