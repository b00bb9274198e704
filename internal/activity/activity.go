// Package activity derives per-session busy/idle phases from the
// opencode event stream and publishes phase changes to the UI bus.
package activity

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/openchamber/chamberd/internal/stream"
	"github.com/openchamber/chamberd/internal/uibus"
)

// Phase is one session's activity state.
type Phase string

const (
	Idle     Phase = "idle"
	Busy     Phase = "busy"
	Cooldown Phase = "cooldown"
)

const defaultCooldown = 2 * time.Second

// EventName is the UI bus event carrying phase changes.
const EventName = "session-activity"

// PhaseChange is the payload published for every accepted transition.
type PhaseChange struct {
	SessionID string `json:"sessionId"`
	Phase     Phase  `json:"phase"`
}

// Tracker is a stream consumer holding the per-session state machine.
// It exclusively owns the cooldown timers: a timer is always canceled
// before being replaced or abandoned, so no stale expiry can fire after
// a later transition.
type Tracker struct {
	log      *slog.Logger
	bus      *uibus.Bus
	cooldown time.Duration

	mu     sync.Mutex
	phases map[string]Phase
	timers map[string]*time.Timer
}

func NewTracker(log *slog.Logger, bus *uibus.Bus) *Tracker {
	return &Tracker{
		log:      log,
		bus:      bus,
		cooldown: defaultCooldown,
		phases:   make(map[string]Phase),
		timers:   make(map[string]*time.Timer),
	}
}

// SetCooldown overrides the cooldown duration. Only meaningful before
// the tracker starts consuming events.
func (t *Tracker) SetCooldown(d time.Duration) { t.cooldown = d }

// Reset cancels all pending timers and forces every tracked session to
// Idle, emitting one event per session whose phase actually changed.
// Run before each reconnect so a connectivity gap (system sleep) never
// leaves a session stuck on busy.
func (t *Tracker) Reset() {
	t.mu.Lock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	var changed []string
	for id, phase := range t.phases {
		if phase != Idle {
			t.phases[id] = Idle
			changed = append(changed, id)
		}
	}
	t.mu.Unlock()

	for _, id := range changed {
		t.emit(id, Idle)
	}
}

func (t *Tracker) Handle(env stream.Envelope) {
	switch env.Type {
	case "session.status":
		t.handleStatus(env.Properties)
	case "message.updated":
		t.handleMessage(env.Properties)
	}
}

func (t *Tracker) handleStatus(properties json.RawMessage) {
	var props struct {
		SessionID string `json:"sessionID"`
		Status    struct {
			Type string `json:"type"`
		} `json:"status"`
	}
	if err := json.Unmarshal(properties, &props); err != nil {
		t.log.Debug("malformed session.status properties", "error", err)
		return
	}
	if props.SessionID == "" || props.Status.Type == "" {
		return
	}

	phase := Idle
	if props.Status.Type == "busy" || props.Status.Type == "retry" {
		phase = Busy
	}
	t.setPhase(props.SessionID, phase)
}

func (t *Tracker) handleMessage(properties json.RawMessage) {
	var props struct {
		Info struct {
			Role      string `json:"role"`
			Finish    string `json:"finish"`
			SessionID string `json:"sessionID"`
		} `json:"info"`
	}
	if err := json.Unmarshal(properties, &props); err != nil {
		t.log.Debug("malformed message.updated properties", "error", err)
		return
	}
	info := props.Info
	if info.Role != "assistant" || info.Finish != "stop" || info.SessionID == "" {
		return
	}

	t.mu.Lock()
	if t.phases[info.SessionID] != Busy {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.setPhase(info.SessionID, Cooldown)
	t.armCooldown(info.SessionID)
}

// setPhase applies a transition. Equal phases are a no-op with no event.
// Leaving Cooldown cancels the pending timer.
func (t *Tracker) setPhase(id string, phase Phase) {
	t.mu.Lock()
	if t.phases[id] == phase {
		t.mu.Unlock()
		return
	}
	t.phases[id] = phase

	if phase != Cooldown {
		if timer, ok := t.timers[id]; ok {
			timer.Stop()
			delete(t.timers, id)
		}
	}
	t.mu.Unlock()

	t.emit(id, phase)
}

// armCooldown replaces any prior timer for the session. The expiry
// re-checks the phase under the lock so a Busy transition that raced
// the firing never gets clobbered back to Idle.
func (t *Tracker) armCooldown(id string) {
	timer := time.AfterFunc(t.cooldown, func() {
		t.mu.Lock()
		stillCooling := t.phases[id] == Cooldown
		t.mu.Unlock()
		if stillCooling {
			t.setPhase(id, Idle)
		}
	})

	t.mu.Lock()
	if prev, ok := t.timers[id]; ok {
		prev.Stop()
	}
	t.timers[id] = timer
	t.mu.Unlock()
}

func (t *Tracker) emit(id string, phase Phase) {
	t.log.Debug("session phase", "session", id, "phase", phase)
	t.bus.Publish(uibus.Event{Name: EventName, Payload: PhaseChange{SessionID: id, Phase: phase}})
}
