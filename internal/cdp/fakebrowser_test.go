package cdp

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/tidwall/gjson"
)

// fakeBrowser serves the DevTools HTTP discovery endpoints and a browser
// WebSocket that answers commands from per-method handlers.
type fakeBrowser struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	conn     net.Conn
	targets  []map[string]string
	handlers map[string]func(params gjson.Result) (any, string)
	calls    []string
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{
		t:        t,
		handlers: make(map[string]func(gjson.Result) (any, string)),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, _ *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		_ = json.NewEncoder(w).Encode(fb.targets)
	})
	mux.HandleFunc("/devtools/browser/fake", fb.serveWS)

	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBrowser) addTarget(id, typ, url string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.targets = append(fb.targets, map[string]string{"id": id, "type": typ, "title": id, "url": url})
}

func (fb *fakeBrowser) handle(method string, fn func(params gjson.Result) (any, string)) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.handlers[method] = fn
}

func (fb *fakeBrowser) reply(method string, result any) {
	fb.handle(method, func(gjson.Result) (any, string) { return result, "" })
}

func (fb *fakeBrowser) fail(method, message string) {
	fb.handle(method, func(gjson.Result) (any, string) { return nil, message })
}

func (fb *fakeBrowser) called(method string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	n := 0
	for _, c := range fb.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (fb *fakeBrowser) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		fb.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	fb.mu.Lock()
	fb.conn = conn
	fb.mu.Unlock()

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		msg := gjson.ParseBytes(data)
		method := msg.Get("method").String()

		fb.mu.Lock()
		fb.calls = append(fb.calls, method)
		h := fb.handlers[method]
		fb.mu.Unlock()

		out := map[string]any{"id": msg.Get("id").Int()}
		if h == nil {
			out["result"] = map[string]any{}
		} else if res, errMsg := h(msg.Get("params")); errMsg != "" {
			out["error"] = map[string]any{"code": -32000, "message": errMsg}
		} else {
			out["result"] = res
		}
		fb.send(out)
	}
}

// emit pushes an unsolicited CDP event to the client.
func (fb *fakeBrowser) emit(method string, params any) {
	fb.send(map[string]any{"method": method, "params": params})
}

func (fb *fakeBrowser) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fb.t.Errorf("marshal: %v", err)
		return
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if err := wsutil.WriteServerText(fb.conn, data); err != nil {
		fb.t.Logf("write: %v", err)
	}
}

func connectRaw(t *testing.T, fb *fakeBrowser) *rawCDP {
	t.Helper()
	raw := newRawCDP(fb.srv.URL)
	if err := raw.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(raw.close)
	return raw
}

// pageTarget wires the replies a healthy page target gives.
func (fb *fakeBrowser) pageTarget(url string, windowID int, visible, focused bool) {
	fb.handle("Target.getTargetInfo", func(p gjson.Result) (any, string) {
		return map[string]any{"targetInfo": map[string]any{
			"targetId": p.Get("targetId").String(),
			"type":     "page",
			"url":      url,
		}}, ""
	})
	fb.reply("Browser.getWindowForTarget", map[string]any{
		"windowId": windowID,
		"bounds":   map[string]any{"windowState": "normal"},
	})
	fb.reply("Target.attachToTarget", map[string]any{"sessionId": "S1"})
	fb.reply("Runtime.evaluate", map[string]any{"result": map[string]any{
		"type":  "object",
		"value": map[string]any{"visible": visible, "focused": focused},
	}})
}
