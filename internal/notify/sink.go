package notify

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

// DBusSink delivers notifications through the freedesktop notification
// service on the session bus.
type DBusSink struct {
	conn *dbus.Conn
}

// NewDBusSink connects to the session bus. Callers fall back to a
// LogSink when the bus is unavailable (headless machines, CI).
func NewDBusSink() (*DBusSink, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}
	return &DBusSink{conn: conn}, nil
}

func (s *DBusSink) Notify(title, body, sound string) error {
	obj := s.conn.Object("org.freedesktop.Notifications", "/org/freedesktop/Notifications")
	hints := map[string]dbus.Variant{}
	if sound != "" {
		hints["sound-name"] = dbus.MakeVariant(sound)
	}
	// Signature per org.freedesktop.Notifications.Notify: app_name,
	// replaces_id, app_icon, summary, body, actions, hints, timeout.
	call := obj.Call("org.freedesktop.Notifications.Notify", 0,
		"chamberd", uint32(0), "", title, body, []string{}, hints, int32(-1))
	return call.Err
}

func (s *DBusSink) Close() error {
	return s.conn.Close()
}

// LogSink writes notifications to the log. Used when no desktop
// notification service is reachable.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Notify(title, body, _ string) error {
	s.Log.Info("notification", "title", title, "body", body)
	return nil
}
