// Package supervisor owns the opencode server process: spawning,
// log-based port discovery, readiness gating, restart and
// graceful-then-forceful shutdown.
package supervisor

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openchamber/chamberd/internal/config"
	"github.com/openchamber/chamberd/internal/env"
	"github.com/openchamber/chamberd/internal/fault"
	"github.com/openchamber/chamberd/internal/history"
	"github.com/openchamber/chamberd/internal/logger"
	"github.com/openchamber/chamberd/internal/metrics"
)

const (
	firstSignalTimeout = 750 * time.Millisecond
	portScanTimeout    = 15 * time.Second
	readyTimeout       = 20 * time.Second
	readyInterval      = 400 * time.Millisecond
	restartSettle      = 250 * time.Millisecond
	termWait           = 3 * time.Second
	killWait           = 5 * time.Second
)

// Supervisor manages exactly one opencode server process. The child
// handle is guarded by childMu (one in-flight spawn/stop sequence at a
// time); the discovered port/prefix/ready fields sit behind stateMu so
// proxy traffic reading them is never blocked by a slow restart.
type Supervisor struct {
	binary      string
	args        []string
	procEnv     []string
	desiredPort int
	logCfg      logger.Config
	log         *slog.Logger
	hist        history.Sink
	probe       *http.Client

	childMu   sync.Mutex
	cmd       *exec.Cmd
	waitDone  chan struct{}
	outCloser io.WriteCloser
	errCloser io.WriteCloser

	stateMu      sync.RWMutex
	workingDir   string
	port         int
	prefix       string
	ready        bool
	shuttingDown bool
}

// New resolves the opencode binary and prepares a supervisor. A
// missing binary is not an error here: the app runs in limited mode and
// EnsureRunning reports Unavailable.
func New(cfg config.OpenCodeConfig, logCfg logger.Config, log *slog.Logger, hist history.Sink, initialDir string) *Supervisor {
	binary := ResolveBinary(cfg)
	if binary == "" {
		log.Warn("opencode CLI not found, running in limited mode")
	} else {
		log.Info("using opencode binary", "path", binary)
	}

	args := []string{"serve", "--port", portArg(cfg.Port)}
	if cfg.ConfigPath != "" {
		args = append(args, "--config", cfg.ConfigPath)
	}

	dir := initialDir
	if dir == "" {
		if wd, err := os.Getwd(); err == nil {
			dir = wd
		} else {
			dir = "."
		}
	}
	log.Info("initial working directory", "dir", dir)

	if hist == nil {
		hist = history.Nop{}
	}

	return &Supervisor{
		binary:      binary,
		args:        args,
		procEnv:     env.Augmented(),
		desiredPort: cfg.Port,
		logCfg:      logCfg,
		log:         log,
		hist:        hist,
		probe:       &http.Client{Timeout: 5 * time.Second},
		workingDir:  dir,
	}
}

func portArg(port int) string {
	if port <= 0 {
		return "0"
	}
	return strconv.Itoa(port)
}

// CLIAvailable reports whether a binary was resolved at startup.
func (s *Supervisor) CLIAvailable() bool { return s.binary != "" }

// EnsureRunning is idempotent: it returns immediately when a live,
// ready child exists, and otherwise brings the process to readiness.
func (s *Supervisor) EnsureRunning(ctx context.Context) error {
	if s.binary == "" {
		return fault.New(fault.Unavailable, "opencode CLI is not available")
	}

	s.childMu.Lock()
	defer s.childMu.Unlock()
	return s.ensureRunningLocked(ctx)
}

func (s *Supervisor) ensureRunningLocked(ctx context.Context) error {
	if s.cmd != nil && !s.exited() && s.IsReady() {
		return nil
	}

	s.setReady(false)
	if err := s.spawnLocked(ctx); err != nil {
		return err
	}

	if s.desiredPort == 0 {
		if err := s.waitForPort(ctx); err != nil {
			return err
		}
	}

	// Detect the API prefix early so the proxy forwards correctly even
	// before readiness completes.
	_ = s.detectAPIPrefix(ctx)

	if err := s.waitForReady(ctx); err != nil {
		return err
	}

	s.setReady(true)
	metrics.IncStart()
	metrics.SetReady(true)
	s.record("ready", "")
	s.log.Info("opencode ready", "port", s.CurrentPort(), "prefix", s.APIPrefix())
	return nil
}

// Restart performs a graceful stop, clears discovery state and brings
// the process back to readiness. A pre-configured port is retained;
// an auto-assigned one is re-discovered.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.log.Info("restarting opencode")
	s.setReady(false)

	s.childMu.Lock()
	defer s.childMu.Unlock()

	s.gracefulStopLocked()

	// Brief settle so the OS releases the port before respawn.
	time.Sleep(restartSettle)

	s.stateMu.Lock()
	if s.desiredPort == 0 {
		s.port = 0
	}
	s.prefix = ""
	s.stateMu.Unlock()

	metrics.IncRestart()
	s.record("restarted", "")

	if s.binary == "" {
		return fault.New(fault.Unavailable, "opencode CLI is not available")
	}
	return s.ensureRunningLocked(ctx)
}

// Shutdown marks the supervisor as shutting down and stops the child.
// It never respawns.
func (s *Supervisor) Shutdown() error {
	s.stateMu.Lock()
	s.shuttingDown = true
	s.stateMu.Unlock()
	s.setReady(false)

	s.childMu.Lock()
	defer s.childMu.Unlock()
	s.gracefulStopLocked()
	return nil
}

// SetWorkingDirectory stores the directory used by the next spawn. It
// does not restart; callers serialize the restart separately.
func (s *Supervisor) SetWorkingDirectory(dir string) {
	s.stateMu.Lock()
	s.workingDir = dir
	s.stateMu.Unlock()
}

func (s *Supervisor) WorkingDirectory() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.workingDir
}

// CurrentPort returns the detected port, 0 when unknown.
func (s *Supervisor) CurrentPort() int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.port
}

func (s *Supervisor) APIPrefix() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.prefix
}

func (s *Supervisor) IsReady() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.ready
}

func (s *Supervisor) ShuttingDown() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.shuttingDown
}

// RewritePath strips the external-facing /api prefix to obtain the
// upstream opencode path.
func RewritePath(incoming string) string {
	rest, ok := strings.CutPrefix(incoming, "/api")
	if !ok {
		return incoming
	}
	if rest == "" {
		return "/"
	}
	return rest
}

func (s *Supervisor) setReady(ready bool) {
	s.stateMu.Lock()
	s.ready = ready
	s.stateMu.Unlock()
	if !ready {
		metrics.SetReady(false)
	}
}

func (s *Supervisor) setPrefix(prefix string) {
	s.stateMu.Lock()
	s.prefix = prefix
	s.stateMu.Unlock()
}

// exited reports whether the current child's wait completed. Callers
// hold childMu.
func (s *Supervisor) exited() bool {
	if s.waitDone == nil {
		return true
	}
	select {
	case <-s.waitDone:
		return true
	default:
		return false
	}
}

// record snapshots the current child's pid. Callers hold childMu; the
// exit watcher runs outside the lock and uses recordPID instead.
func (s *Supervisor) record(kind, detail string) {
	pid := 0
	if s.cmd != nil && s.cmd.Process != nil {
		pid = s.cmd.Process.Pid
	}
	s.recordPID(kind, detail, pid)
}

func (s *Supervisor) recordPID(kind, detail string, pid int) {
	e := history.Event{
		OccurredAt: time.Now(),
		Kind:       kind,
		PID:        pid,
		Port:       s.CurrentPort(),
		Detail:     detail,
	}
	if err := s.hist.Record(context.Background(), e); err != nil {
		s.log.Debug("history record failed", "kind", kind, "error", err)
	}
}
