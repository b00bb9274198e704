package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors, registered via Register.
var (
	opencodeStarts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chamberd",
		Subsystem: "opencode",
		Name:      "starts_total",
		Help:      "Number of successful supervised process starts.",
	})
	opencodeRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chamberd",
		Subsystem: "opencode",
		Name:      "restarts_total",
		Help:      "Number of restarts, requested or config-triggered.",
	})
	opencodeStops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chamberd",
		Subsystem: "opencode",
		Name:      "stops_total",
		Help:      "Number of graceful stop sequences.",
	})
	opencodeReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chamberd",
		Subsystem: "opencode",
		Name:      "ready",
		Help:      "1 when the supervised process passed readiness checks.",
	})
	proxyRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chamberd",
		Subsystem: "gateway",
		Name:      "proxy_requests_total",
		Help:      "Proxied requests by upstream status class.",
	}, []string{"code"})
	streamReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chamberd",
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Event stream connect cycles by consumer.",
	}, []string{"consumer"})
	notificationsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chamberd",
		Subsystem: "notify",
		Name:      "notifications_total",
		Help:      "Desktop notifications emitted.",
	})
)

// Register installs all collectors on the given registerer (defaulting
// to prometheus.DefaultRegisterer). Safe to call more than once.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		opencodeStarts, opencodeRestarts, opencodeStops, opencodeReady,
		proxyRequests, streamReconnects, notificationsSent,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the default registry; mounted on the gateway.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart()   { opencodeStarts.Inc() }
func IncRestart() { opencodeRestarts.Inc() }
func IncStop()    { opencodeStops.Inc() }

func SetReady(ready bool) {
	if ready {
		opencodeReady.Set(1)
	} else {
		opencodeReady.Set(0)
	}
}

func IncProxyRequest(code string)        { proxyRequests.WithLabelValues(code).Inc() }
func IncStreamReconnect(consumer string) { streamReconnects.WithLabelValues(consumer).Inc() }
func IncNotification()                   { notificationsSent.Inc() }
