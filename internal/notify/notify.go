// Package notify delivers "answer ready" notifications to the user.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dgnsrekt/ai_notifier/internal/tracker"
)

const DefaultNTFYEndpoint = "http://127.0.0.1:2586/ai-notifier"

// NTFY posts notifications to an ntfy topic. Each message carries an HTTP
// action that calls back into this daemon's click endpoint.
type NTFY struct {
	client    *http.Client
	endpoint  string
	clickBase string
}

// NewNTFY returns an ntfy notifier. clickBase is the daemon's API base URL
// (e.g. "http://127.0.0.1:8189"); empty disables the click action.
func NewNTFY(client *http.Client, endpoint, clickBase string) *NTFY {
	if endpoint == "" {
		endpoint = DefaultNTFYEndpoint
	}
	return &NTFY{client: client, endpoint: endpoint, clickBase: strings.TrimRight(clickBase, "/")}
}

func (n *NTFY) Create(ctx context.Context, id string, note tracker.Notification) error {
	headers := http.Header{}
	headers.Set("Title", note.Title)
	headers.Set("Priority", "high")
	headers.Set("Tags", "speech_balloon,"+string(note.ServiceID))
	if note.Icon != "" && strings.HasPrefix(note.Icon, "http") {
		headers.Set("Icon", note.Icon)
	}
	if n.clickBase != "" {
		headers.Set("Actions", ClickAction(n.clickBase, id))
	}
	return SendWithHeaders(ctx, n.client, n.endpoint, note.Body, headers)
}

// Clear is a no-op: the click action is sent with clear=true, and ntfy has
// no call to withdraw a message from every subscribed device.
func (n *NTFY) Clear(context.Context, string) error { return nil }

// ClickAction builds the ntfy action header that POSTs to the click endpoint.
func ClickAction(clickBase, id string) string {
	return fmt.Sprintf("http, Open tab, %s/api/v1/notifications/%s/click, method=POST, clear=true",
		clickBase, url.PathEscape(id))
}

// Send sends a plain-text message to the endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	return SendWithHeaders(ctx, client, endpoint, message, nil)
}

// SendWithHeaders is Send with extra ntfy headers (Title, Priority, ...).
func SendWithHeaders(ctx context.Context, client *http.Client, endpoint, message string, headers http.Header) error {
	if endpoint == "" {
		return errors.New("ntfy endpoint is required")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

// Multi fans a notification out to several surfaces.
type Multi []tracker.Notifier

func (m Multi) Create(ctx context.Context, id string, note tracker.Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Create(ctx, id, note); err != nil {
			errs = append(errs, err)
		}
	}
	// One surface showing the notification is enough for a click to arrive.
	if len(errs) == len(m) {
		return errors.Join(errs...)
	}
	return nil
}

func (m Multi) Clear(ctx context.Context, id string) error {
	var errs []error
	for _, n := range m {
		if err := n.Clear(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
