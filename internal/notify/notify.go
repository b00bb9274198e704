// Package notify turns completed assistant turns into desktop
// notifications, deduplicated by message id.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/openchamber/chamberd/internal/focus"
	"github.com/openchamber/chamberd/internal/metrics"
	"github.com/openchamber/chamberd/internal/stream"
)

const notificationSound = "Glass"

// Sink delivers one notification to the user.
type Sink interface {
	Notify(title, body, sound string) error
}

// Deduper consumes message-update events and emits one notification per
// completed assistant message. The notified set lives for the process
// lifetime; Reset deliberately does not clear it, so a reconnect cannot
// re-notify messages already seen.
type Deduper struct {
	log   *slog.Logger
	sink  Sink
	focus *focus.State

	mu       sync.Mutex
	notified map[string]struct{}
}

func NewDeduper(log *slog.Logger, sink Sink, focus *focus.State) *Deduper {
	return &Deduper{
		log:      log,
		sink:     sink,
		focus:    focus,
		notified: make(map[string]struct{}),
	}
}

// Reset is a no-op: dedup state spans reconnects.
func (d *Deduper) Reset() {}

type messageInfo struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Finish    string `json:"finish"`
	SessionID string `json:"sessionID"`
	Mode      string `json:"mode"`
	ModelID   string `json:"modelID"`
}

func (d *Deduper) Handle(env stream.Envelope) {
	if env.Type != "message.updated" {
		return
	}

	var props struct {
		Info messageInfo `json:"info"`
	}
	if err := json.Unmarshal(env.Properties, &props); err != nil {
		d.log.Debug("malformed message.updated properties", "error", err)
		return
	}
	info := props.Info

	if info.Role != "assistant" || info.Finish != "stop" || info.ID == "" {
		return
	}

	d.mu.Lock()
	if _, seen := d.notified[info.ID]; seen {
		d.mu.Unlock()
		return
	}
	d.notified[info.ID] = struct{}{}
	d.mu.Unlock()

	if d.focus != nil && !d.focus.ShouldNotify() {
		d.log.Debug("window focused, skipping notification", "message", info.ID)
		return
	}

	title := FormatMode(info.Mode) + " agent is ready"
	body := FormatModelID(info.ModelID) + " completed the task"

	if err := d.sink.Notify(title, body, notificationSound); err != nil {
		d.log.Warn("notification delivery failed", "error", err)
		return
	}
	metrics.IncNotification()
	d.log.Info("notification sent", "message", info.ID, "title", title)
}
