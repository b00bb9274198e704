package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeUpstream struct {
	port   int
	prefix string
	dir    string
}

func (f fakeUpstream) CurrentPort() int         { return f.port }
func (f fakeUpstream) APIPrefix() string        { return f.prefix }
func (f fakeUpstream) WorkingDirectory() string { return f.dir }

type captureConsumer struct {
	mu     sync.Mutex
	resets int
	events []Envelope
}

func (c *captureConsumer) Reset() {
	c.mu.Lock()
	c.resets++
	c.mu.Unlock()
}

func (c *captureConsumer) Handle(env Envelope) {
	c.mu.Lock()
	c.events = append(c.events, env)
	c.mu.Unlock()
}

func (c *captureConsumer) snapshot() (int, []Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets, append([]Envelope(nil), c.events...)
}

func upstreamFor(t *testing.T, srv *httptest.Server) fakeUpstream {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return fakeUpstream{port: port, dir: "/work/project"}
}

func TestRunConsumesFrames(t *testing.T) {
	var gotDir string
	var gotAccept string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/event" {
			http.NotFound(w, r)
			return
		}
		gotDir = r.URL.Query().Get("directory")
		gotAccept = r.Header.Get("Accept")

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		// One single-line frame, one multi-line frame, one garbage
		// frame that must be skipped.
		fmt.Fprint(w, "data: {\"type\":\"session.status\",\"properties\":{\"sessionID\":\"s1\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message.updated\",\n")
		fmt.Fprint(w, "data: \"properties\":{}}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	consumer := &captureConsumer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, slog.Default(), "test", upstreamFor(t, srv), consumer)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, events := consumer.snapshot()
		if len(events) >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out, got %d events", len(events))
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	resets, events := consumer.snapshot()
	if resets < 1 {
		t.Fatal("Reset was never called before connecting")
	}
	if events[0].Type != "session.status" {
		t.Fatalf("first event type = %q", events[0].Type)
	}
	if events[1].Type != "message.updated" {
		t.Fatalf("second event type = %q", events[1].Type)
	}
	if !strings.Contains(string(events[0].Properties), "s1") {
		t.Fatalf("properties not preserved: %s", events[0].Properties)
	}
	if gotDir != "/work/project" {
		t.Fatalf("directory query = %q", gotDir)
	}
	if gotAccept != "text/event-stream" {
		t.Fatalf("accept header = %q", gotAccept)
	}
}

func TestRunSkipsCycleWithoutPort(t *testing.T) {
	consumer := &captureConsumer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, slog.Default(), "test", fakeUpstream{port: 0}, consumer)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	resets, _ := consumer.snapshot()
	if resets != 0 {
		t.Fatal("consumer must not be reset while the port is unknown")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop promptly on cancellation")
	}
}

func TestRunStopsImmediatelyDuringRetryDelay(t *testing.T) {
	// Upstream refuses connections; Run sits in its retry delay.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	up := upstreamFor(t, srv)
	srv.Close()

	consumer := &captureConsumer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, slog.Default(), "test", up, consumer)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop during the retry delay")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("shutdown deferred by retry delay: %v", elapsed)
	}
}
