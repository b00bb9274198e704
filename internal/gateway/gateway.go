// Package gateway is the local HTTP control plane: health and status,
// cached model metadata, directory changes, configuration-entity
// routes, UI event fan-out, and a streaming catch-all proxy to the
// supervised opencode server.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openchamber/chamberd/internal/configstore"
	"github.com/openchamber/chamberd/internal/focus"
	"github.com/openchamber/chamberd/internal/history"
	"github.com/openchamber/chamberd/internal/metrics"
	"github.com/openchamber/chamberd/internal/settings"
	"github.com/openchamber/chamberd/internal/uibus"
)

// Supervisor is the slice of the process supervisor the gateway needs.
type Supervisor interface {
	CurrentPort() int
	APIPrefix() string
	IsReady() bool
	CLIAvailable() bool
	WorkingDirectory() string
	SetWorkingDirectory(dir string)
	Restart(ctx context.Context) error
}

const (
	metadataURL          = "https://models.dev/api.json"
	metadataCacheTTL     = 5 * time.Minute
	metadataFetchTimeout = 8 * time.Second
	reloadDelayMS        = 800
)

// Gateway serves the front-end-facing HTTP surface. Directory changes
// and the restarts they trigger are serialized through dirMu so
// overlapping change requests cannot race the supervisor.
type Gateway struct {
	log      *slog.Logger
	sup      Supervisor
	store    *configstore.Store
	settings *settings.Store
	bus      *uibus.Bus
	focus    *focus.State
	hist     history.Sink
	port     int

	dirMu sync.Mutex

	metaMu      sync.Mutex
	metaPayload []byte
	metaFetched time.Time
	metaClient  *http.Client

	proxyClient *http.Client

	srv *http.Server
}

func New(
	log *slog.Logger,
	port int,
	sup Supervisor,
	store *configstore.Store,
	st *settings.Store,
	bus *uibus.Bus,
	fs *focus.State,
	hist history.Sink,
) *Gateway {
	if hist == nil {
		hist = history.Nop{}
	}
	return &Gateway{
		log:        log,
		sup:        sup,
		store:      store,
		settings:   st,
		bus:        bus,
		focus:      fs,
		hist:       hist,
		port:       port,
		metaClient: &http.Client{Timeout: metadataFetchTimeout},
		// The proxy carries long-lived event streams, so the client
		// must not impose an overall timeout.
		proxyClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost: 16,
			},
		},
	}
}

// Handler builds the gin router. Explicit routes handle the local
// surface; everything else under /api falls through to the proxy.
func (g *Gateway) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware())

	r.GET("/health", g.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.GET("/api/openchamber/models-metadata", g.handleModelsMetadata)
	r.POST("/api/opencode/directory", g.handleChangeDirectory)
	r.POST("/api/config/reload", g.handleConfigReload)
	r.Any("/api/config/agents/:name", g.handleEntity(configstore.KindAgent))
	r.Any("/api/config/commands/:name", g.handleEntity(configstore.KindCommand))

	r.GET("/openchamber/events", g.handleEvents)
	r.POST("/openchamber/window", g.handleWindow)
	r.GET("/openchamber/history", g.handleHistory)

	// gin cannot mix a wildcard /api/*rest with the static /api routes
	// above, so the proxy hangs off NoRoute instead.
	r.NoRoute(g.handleProxy)

	return r
}

// Start begins serving in the background.
func (g *Gateway) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", g.port)
	g.srv = &http.Server{
		Addr:              addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen on %s: %w", addr, err)
	}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		g.port = tcp.Port
	}
	g.log.Info("gateway listening", "addr", fmt.Sprintf("http://127.0.0.1:%d", g.port))

	go func() {
		if err := g.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			g.log.Error("gateway server stopped", "error", err)
		}
	}()
	return nil
}

// Port returns the bound listen port, meaningful after Start.
func (g *Gateway) Port() int { return g.port }

// Shutdown drains in-flight requests.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.srv == nil {
		return nil
	}
	return g.srv.Shutdown(ctx)
}

// corsMiddleware mirrors a permissive CORS layer: the gateway binds to
// loopback only, so the front-end origin varies (tauri://, file://,
// localhost dev server) and is not worth restricting.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
