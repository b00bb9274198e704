// Package stream maintains long-lived SSE connections to the opencode
// event endpoint and dispatches decoded envelopes to a consumer.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openchamber/chamberd/internal/metrics"
)

const retryDelay = 2 * time.Second

// Envelope is one decoded server-sent event. Properties stays raw so
// each consumer unmarshals only the fields it cares about.
type Envelope struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// Consumer receives envelopes from one stream connection. Reset is
// called before every (re)connect so per-connection state never leaks
// across a reconnect.
type Consumer interface {
	Reset()
	Handle(Envelope)
}

// Upstream exposes the connection coordinates of the event source.
type Upstream interface {
	CurrentPort() int
	APIPrefix() string
	WorkingDirectory() string
}

// streamClient has no overall timeout: SSE connections are expected to
// live for hours. TCP keepalives detect dead peers instead.
var streamClient = &http.Client{
	Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	},
}

// Run connects, consumes and reconnects until ctx is canceled. Every
// reconnect resets the consumer first, so stale in-flight state from
// the previous connection cannot mix with fresh events.
func Run(ctx context.Context, log *slog.Logger, name string, up Upstream, c Consumer) {
	log = log.With("consumer", name)
	for {
		if ctx.Err() != nil {
			return
		}

		port := up.CurrentPort()
		if port == 0 {
			if !sleep(ctx, retryDelay) {
				return
			}
			continue
		}

		c.Reset()
		err := consume(ctx, log, port, up.APIPrefix(), up.WorkingDirectory(), c)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Debug("event stream ended", "error", err)
		}
		metrics.IncStreamReconnect(name)
		if !sleep(ctx, retryDelay) {
			return
		}
	}
}

func consume(ctx context.Context, log *slog.Logger, port int, prefix, dir string, c Consumer) error {
	endpoint := fmt.Sprintf("http://127.0.0.1:%d%s/event", port, prefix)
	if dir != "" {
		endpoint += "?directory=" + url.QueryEscape(dir)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	// Identity keeps the byte stream line-oriented; a gzip frame would
	// buffer events past their arrival.
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned %d", resp.StatusCode)
	}
	log.Info("event stream connected", "endpoint", endpoint)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				dispatch(log, strings.Join(data, "\n"), c)
				data = data[:0]
			}
			continue
		}
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(payload, " "))
		}
	}
	return scanner.Err()
}

func dispatch(log *slog.Logger, payload string, c Consumer) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		log.Debug("discarding malformed event", "error", err)
		return
	}
	c.Handle(env)
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
