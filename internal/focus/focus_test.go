package focus

import "testing"

func TestShouldNotify(t *testing.T) {
	s := NewState()

	if !s.ShouldNotify() {
		t.Fatal("unreported window should allow notifications")
	}

	s.Report(true, false)
	if s.ShouldNotify() {
		t.Fatal("focused visible window should suppress notifications")
	}

	s.Report(false, false)
	if !s.ShouldNotify() {
		t.Fatal("unfocused window should allow notifications")
	}

	s.Report(true, true)
	if !s.ShouldNotify() {
		t.Fatal("minimized window should allow notifications even when focused")
	}
}
