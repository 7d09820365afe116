package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/ai_notifier/internal/tracker"
	"github.com/godbus/dbus/v5"
)

const (
	dbusDest      = "org.freedesktop.Notifications"
	dbusPath      = dbus.ObjectPath("/org/freedesktop/Notifications")
	dbusInterface = "org.freedesktop.Notifications"

	actionDefault = "default"
	urgencyHigh   = byte(2)
)

// Desktop shows freedesktop notifications over the session bus.
type Desktop struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	appName string

	mu     sync.Mutex
	byBus  map[uint32]string
	byNote map[string]uint32
}

// NewDesktop connects to the session bus and subscribes to click and close
// signals. Call Listen to receive clicks.
func NewDesktop(appName string) (*Desktop, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	d := newDesktop(conn, appName)

	for _, member := range []string{"ActionInvoked", "NotificationClosed"} {
		if err := conn.AddMatchSignal(
			dbus.WithMatchObjectPath(dbusPath),
			dbus.WithMatchInterface(dbusInterface),
			dbus.WithMatchMember(member),
		); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("match %s: %w", member, err)
		}
	}
	return d, nil
}

func newDesktop(conn *dbus.Conn, appName string) *Desktop {
	d := &Desktop{
		conn:    conn,
		appName: appName,
		byBus:   make(map[uint32]string),
		byNote:  make(map[string]uint32),
	}
	if conn != nil {
		d.obj = conn.Object(dbusDest, dbusPath)
	}
	return d
}

func (d *Desktop) Create(ctx context.Context, id string, note tracker.Notification) error {
	hints := map[string]dbus.Variant{
		"urgency":       dbus.MakeVariant(urgencyHigh),
		"desktop-entry": dbus.MakeVariant(d.appName),
	}
	call := d.obj.CallWithContext(ctx, dbusInterface+".Notify", 0,
		d.appName,
		uint32(0),
		note.Icon,
		note.Title,
		note.Body,
		[]string{actionDefault, "Open"},
		hints,
		int32(-1),
	)
	var busID uint32
	if err := call.Store(&busID); err != nil {
		return fmt.Errorf("dbus notify: %w", err)
	}
	d.remember(busID, id)
	return nil
}

func (d *Desktop) Clear(ctx context.Context, id string) error {
	busID, ok := d.forgetNote(id)
	if !ok {
		return nil
	}
	call := d.obj.CallWithContext(ctx, dbusInterface+".CloseNotification", 0, busID)
	if call.Err != nil {
		return fmt.Errorf("dbus close notification: %w", call.Err)
	}
	return nil
}

// Capabilities asks the notification server what it supports. A server
// without "actions" shows notifications that cannot be clicked.
func (d *Desktop) Capabilities(ctx context.Context) ([]string, error) {
	var caps []string
	if err := d.obj.CallWithContext(ctx, dbusInterface+".GetCapabilities", 0).Store(&caps); err != nil {
		return nil, fmt.Errorf("dbus capabilities: %w", err)
	}
	return caps, nil
}

// Listen delivers clicks to onClick until ctx is done.
func (d *Desktop) Listen(ctx context.Context, onClick func(id string)) {
	ch := make(chan *dbus.Signal, 16)
	d.conn.Signal(ch)
	defer d.conn.RemoveSignal(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			d.handleSignal(sig, onClick)
		}
	}
}

func (d *Desktop) handleSignal(sig *dbus.Signal, onClick func(id string)) {
	if sig == nil || len(sig.Body) < 2 {
		return
	}
	busID, ok := sig.Body[0].(uint32)
	if !ok {
		return
	}

	switch sig.Name {
	case dbusInterface + ".ActionInvoked":
		action, _ := sig.Body[1].(string)
		d.mu.Lock()
		id, known := d.byBus[busID]
		d.mu.Unlock()
		if !known {
			return
		}
		slog.Debug("desktop notification action", "notification_id", id, "action", action)
		onClick(id)
	case dbusInterface + ".NotificationClosed":
		d.forgetBus(busID)
	}
}

func (d *Desktop) Close() error {
	return d.conn.Close()
}

func (d *Desktop) remember(busID uint32, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byBus[busID] = id
	d.byNote[id] = busID
}

func (d *Desktop) forgetNote(id string) (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	busID, ok := d.byNote[id]
	if ok {
		delete(d.byNote, id)
		delete(d.byBus, busID)
	}
	return busID, ok
}

func (d *Desktop) forgetBus(busID uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.byBus[busID]; ok {
		delete(d.byBus, busID)
		delete(d.byNote, id)
	}
}
