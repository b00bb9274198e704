package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openchamber/chamberd/internal/fault"
)

// urlPattern matches the serve banner opencode prints on startup, e.g.
// "opencode server listening on http://127.0.0.1:4096". The wording is
// an external contract; the pattern is kept as-is rather than hardened.
var urlPattern = regexp.MustCompile(`https?://[^:\s]+:(\d+)(/[^\s"']*)?`)

// spawnLocked starts the child and waits for its first output line (or
// early exit) within the first-signal window. Callers hold childMu.
func (s *Supervisor) spawnLocked(ctx context.Context) error {
	s.log.Info("launching opencode", "binary", s.binary, "args", s.args)

	cmd := exec.Command(s.binary, s.args...)
	cmd.Dir = s.WorkingDirectory()
	cmd.Env = s.procEnv

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fault.Wrap(fault.Internal, err, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fault.Wrap(fault.Internal, err, "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return fault.Wrap(fault.Unavailable, err, "failed to spawn opencode %q", s.binary)
	}

	s.cmd = cmd
	s.waitDone = make(chan struct{})
	s.outCloser, s.errCloser = s.logCfg.ChildWriters("opencode")

	// A pre-configured port is known immediately; discovery still runs
	// so a prefix printed in the banner is picked up.
	s.stateMu.Lock()
	if s.desiredPort > 0 {
		s.port = s.desiredPort
	}
	s.stateMu.Unlock()

	firstSignal := make(chan struct{})
	var signalOnce sync.Once
	announce := func() { signalOnce.Do(func() { close(firstSignal) }) }

	go s.readOutput(stdout, s.outCloser, "stdout", announce)
	go s.readOutput(stderr, s.errCloser, "stderr", announce)

	// The watcher outlives the childMu critical section: by the time the
	// exit lands, the handle may be cleared or replaced by a restart, so
	// it records against the pid captured here.
	waitDone := s.waitDone
	pid := cmd.Process.Pid
	go func() {
		err := cmd.Wait()
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		s.recordPID("exited", detail, pid)
		close(waitDone)
	}()

	s.record("spawned", "")

	// First-signal window: an exit here means the binary is broken and
	// retrying readiness would only burn the full timeout window.
	// Silence is accepted; output is a liveness heuristic, not a
	// readiness guarantee.
	select {
	case <-firstSignal:
	case <-waitDone:
		return fault.New(fault.Internal, "opencode exited immediately after spawn")
	case <-time.After(firstSignalTimeout):
	case <-ctx.Done():
		return fault.Wrap(fault.Internal, ctx.Err(), "spawn canceled")
	}
	return nil
}

// readOutput scans one child stream line by line, tees it to the
// rotated capture file and feeds the port/prefix detector.
func (s *Supervisor) readOutput(r io.Reader, tee io.WriteCloser, label string, onFirstLine func()) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		onFirstLine()
		s.log.Debug("opencode output", "stream", label, "line", line)
		if tee != nil {
			_, _ = tee.Write([]byte(line + "\n"))
		}
		s.ingestLine(line)
	}
	if tee != nil {
		_ = tee.Close()
	}
}

// ingestLine adopts the first matching port exactly once per spawn
// generation; later lines never alter it. A non-trivial path capture
// becomes the API prefix.
func (s *Supervisor) ingestLine(line string) {
	m := urlPattern.FindStringSubmatch(line)
	if m == nil {
		return
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.port == 0 {
		if port, err := strconv.Atoi(m[1]); err == nil && port > 0 && port < 1<<16 {
			s.port = port
		}
	}
	if path := m[2]; path != "" && path != "/" {
		s.prefix = path
	}
}

// waitForPort polls until log scanning produced a port.
func (s *Supervisor) waitForPort(ctx context.Context) error {
	deadline := time.Now().Add(portScanTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if s.CurrentPort() != 0 {
			return nil
		}
		select {
		case <-s.waitDone:
			return fault.New(fault.Timeout, "opencode exited before reporting a port")
		case <-ctx.Done():
			return fault.Wrap(fault.Timeout, ctx.Err(), "port detection canceled")
		case <-ticker.C:
		}
	}
	return fault.New(fault.Timeout, "opencode did not report a port within %s", portScanTimeout)
}

// detectAPIPrefix probes prefix candidates against GET {base}/config,
// accepting the first HTTP success whose body looks like JSON rather
// than an HTML shell. No match falls back to the empty prefix.
func (s *Supervisor) detectAPIPrefix(ctx context.Context) error {
	port := s.CurrentPort()
	if port == 0 {
		return fault.New(fault.Unreachable, "cannot detect API prefix without a port")
	}

	for _, candidate := range []string{"", "/api"} {
		url := fmt.Sprintf("http://127.0.0.1:%d%s/config", port, candidate)
		body, ok := s.probeJSON(ctx, url)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(body)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			s.log.Info("detected API prefix", "prefix", candidate)
			s.setPrefix(normalizeAPIPrefix(candidate))
			return nil
		}
	}

	s.log.Info("no API prefix detected, using empty prefix")
	s.setPrefix("")
	return nil
}

func (s *Supervisor) probeJSON(ctx context.Context, url string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}
	resp, err := s.probe.Do(req)
	if err != nil {
		return "", false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", false
	}
	return string(body), true
}

// waitForReady polls /health, /config and /agent under the detected
// prefix until all three succeed, accumulating the last failure for the
// Timeout diagnostic.
func (s *Supervisor) waitForReady(ctx context.Context) error {
	port := s.CurrentPort()
	if port == 0 {
		return fault.New(fault.Unreachable, "cannot check readiness without a port")
	}

	deadline := time.Now().Add(readyTimeout)
	var lastErr error

	for time.Now().Before(deadline) {
		err := s.checkEndpoints(ctx, port, s.APIPrefix())
		if err == nil {
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fault.Wrap(fault.Timeout, ctx.Err(), "readiness wait canceled")
		case <-time.After(readyInterval):
		}
	}

	return fault.Wrap(fault.Timeout, lastErr, "opencode not ready after %s", readyTimeout)
}

func (s *Supervisor) checkEndpoints(ctx context.Context, port int, prefix string) error {
	base := fmt.Sprintf("http://127.0.0.1:%d%s", port, prefix)
	for _, path := range []string{"/health", "/config", "/agent"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
		if err != nil {
			return err
		}
		resp, err := s.probe.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("%s returned %d", path, resp.StatusCode)
		}
	}
	return nil
}

func normalizeAPIPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" || trimmed == "/" {
		return ""
	}
	normalized := strings.TrimRight(trimmed, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	return normalized
}
