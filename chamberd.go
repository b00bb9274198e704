// Package chamberd wires the supervisor, gateway and stream consumers
// into one runtime. The cmd/chamberd binary is a thin wrapper around
// this package.
package chamberd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openchamber/chamberd/internal/activity"
	"github.com/openchamber/chamberd/internal/config"
	"github.com/openchamber/chamberd/internal/configstore"
	"github.com/openchamber/chamberd/internal/focus"
	"github.com/openchamber/chamberd/internal/gateway"
	"github.com/openchamber/chamberd/internal/history"
	"github.com/openchamber/chamberd/internal/metrics"
	"github.com/openchamber/chamberd/internal/notify"
	"github.com/openchamber/chamberd/internal/settings"
	"github.com/openchamber/chamberd/internal/stream"
	"github.com/openchamber/chamberd/internal/supervisor"
	"github.com/openchamber/chamberd/internal/uibus"
)

const shutdownGrace = 10 * time.Second

// Runtime owns every long-lived component of the daemon.
type Runtime struct {
	cfg   config.Config
	log   *slog.Logger
	hist  history.Sink
	sup   *supervisor.Supervisor
	gw    *gateway.Gateway
	bus   *uibus.Bus
	focus *focus.State

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a runtime from configuration. The last working directory
// persisted in the settings store seeds the supervisor.
func New(cfg config.Config) (*Runtime, error) {
	log := cfg.Log.New()
	slog.SetDefault(log)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}

	var hist history.Sink = history.Nop{}
	if cfg.History.DSN != "" {
		sqlite, err := history.NewSQLite(cfg.History.DSN)
		if err != nil {
			log.Warn("history sink unavailable", "error", err)
		} else {
			hist = sqlite
		}
	}

	st := settings.NewStore(cfg.Settings.Path)
	initialDir, err := st.LastDirectory()
	if err != nil {
		log.Warn("failed to load last directory", "error", err)
	}

	sup := supervisor.New(cfg.OpenCode, cfg.Log, log.With("component", "supervisor"), hist, initialDir)

	bus := uibus.New()
	focusState := focus.NewState()
	store := configstore.New(cfg.OpenCode.ConfigDir, log.With("component", "configstore"))

	gw := gateway.New(
		log.With("component", "gateway"),
		cfg.Gateway.Port,
		sup, store, st, bus, focusState, hist,
	)

	return &Runtime{
		cfg:   cfg,
		log:   log,
		hist:  hist,
		sup:   sup,
		gw:    gw,
		bus:   bus,
		focus: focusState,
	}, nil
}

// Gateway exposes the HTTP gateway, mainly for the serve command's
// startup log line and for tests.
func (r *Runtime) Gateway() *gateway.Gateway { return r.gw }

// Start brings up the gateway, kicks off the initial opencode spawn and
// launches both stream consumers. The supervisor spawn runs in the
// background so a slow or missing opencode binary never blocks the
// gateway from serving /health.
func (r *Runtime) Start() error {
	if err := r.gw.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.sup.EnsureRunning(ctx); err != nil {
			r.log.Warn("initial opencode start failed", "error", err)
		}
	}()

	deduper := notify.NewDeduper(r.log.With("component", "notify"), r.notificationSink(), r.focus)
	tracker := activity.NewTracker(r.log.With("component", "activity"), r.bus)

	for _, consumer := range []struct {
		name string
		c    stream.Consumer
	}{
		{"notify", deduper},
		{"activity", tracker},
	} {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			stream.Run(ctx, r.log.With("component", "stream"), consumer.name, r.sup, consumer.c)
		}()
	}

	return nil
}

// Shutdown stops everything: gateway drain, stream loops, the
// supervised process, and the history sink.
func (r *Runtime) Shutdown() {
	r.log.Info("shutting down")
	if r.cancel != nil {
		r.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := r.gw.Shutdown(ctx); err != nil {
		r.log.Warn("gateway shutdown", "error", err)
	}

	if err := r.sup.Shutdown(); err != nil {
		r.log.Warn("supervisor shutdown", "error", err)
	}

	r.wg.Wait()

	if err := r.hist.Close(); err != nil {
		r.log.Warn("history close", "error", err)
	}
	r.log.Info("shutdown complete")
}

// notificationSink prefers the desktop notification service and falls
// back to the log on headless machines.
func (r *Runtime) notificationSink() notify.Sink {
	sink, err := notify.NewDBusSink()
	if err != nil {
		r.log.Info("desktop notifications unavailable, logging instead", "error", err)
		return notify.LogSink{Log: r.log}
	}
	return sink
}
