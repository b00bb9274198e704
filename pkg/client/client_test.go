package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"status":"ok","serverPort":7654,"opencodePort":4096,"apiPrefix":"/api","isOpencodeReady":true,"cliAvailable":true,"directory":"/work"}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.OpencodePort != 4096 || h.APIPrefix != "/api" || !h.IsOpencodeReady {
		t.Fatalf("unexpected health: %+v", h)
	}
}

func TestHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openchamber/history" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Fatalf("limit = %q, want 5", got)
		}
		fmt.Fprint(w, `{"events":[{"occurredAt":"2025-03-01T12:00:00Z","kind":"ready","pid":42,"port":4096}]}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	events, err := c.History(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.Kind != "ready" || e.PID != 42 || e.Port != 4096 {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.OccurredAt.IsZero() {
		t.Fatal("occurredAt must decode")
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"cannot access \"/nope\""}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	_, err := c.ChangeDirectory(context.Background(), "/nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if want := `cannot access "/nope"`; !strings.Contains(err.Error(), want) {
		t.Fatalf("error = %q, want it to contain %q", err, want)
	}
}
