// Package focus tracks whether the front-end's main window is in the
// foreground. The front-end reports transitions through the gateway;
// the notification deduper consults the latest report.
package focus

import "sync"

// State holds the last reported window state. Before any report
// arrives, ShouldNotify returns true: an unknown window is treated as
// not foreground.
type State struct {
	mu        sync.Mutex
	reported  bool
	focused   bool
	minimized bool
}

func NewState() *State { return &State{} }

// Report records the front-end's current window state.
func (s *State) Report(focused, minimized bool) {
	s.mu.Lock()
	s.reported = true
	s.focused = focused
	s.minimized = minimized
	s.mu.Unlock()
}

// ShouldNotify reports whether a desktop notification should be shown:
// only when the window is not focused or is minimized.
func (s *State) ShouldNotify() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reported {
		return true
	}
	return !s.focused || s.minimized
}
