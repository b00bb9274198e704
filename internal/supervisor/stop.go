package supervisor

import (
	"syscall"
	"time"

	"github.com/openchamber/chamberd/internal/metrics"
)

// gracefulStopLocked terminates the current child: SIGTERM with a wait
// window, then SIGKILL. It always leaves the handle cleared, even when
// the kill wait expires. Callers hold childMu.
func (s *Supervisor) gracefulStopLocked() {
	cmd := s.cmd
	waitDone := s.waitDone
	if cmd == nil || cmd.Process == nil {
		s.clearChildLocked()
		return
	}

	if s.exited() {
		s.log.Debug("opencode already exited")
		s.clearChildLocked()
		return
	}

	s.log.Info("stopping opencode", "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.log.Debug("SIGTERM failed", "error", err)
	}

	select {
	case <-waitDone:
		s.finishStopLocked()
		return
	case <-time.After(termWait):
	}

	s.log.Warn("opencode ignored SIGTERM, killing", "pid", cmd.Process.Pid)
	if err := cmd.Process.Kill(); err != nil {
		s.log.Debug("SIGKILL failed", "error", err)
	}

	select {
	case <-waitDone:
	case <-time.After(killWait):
		s.log.Error("opencode did not exit after SIGKILL", "pid", cmd.Process.Pid)
	}
	s.finishStopLocked()
}

func (s *Supervisor) finishStopLocked() {
	metrics.IncStop()
	s.record("stopped", "")
	s.clearChildLocked()
}

func (s *Supervisor) clearChildLocked() {
	if s.outCloser != nil {
		_ = s.outCloser.Close()
		s.outCloser = nil
	}
	if s.errCloser != nil {
		_ = s.errCloser.Close()
		s.errCloser = nil
	}
	s.cmd = nil
	s.waitDone = nil
}
