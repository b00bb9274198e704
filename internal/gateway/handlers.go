package gateway

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openchamber/chamberd/internal/fault"
)

type errorResp struct {
	Error string `json:"error"`
}

// respondError maps the fault taxonomy to HTTP statuses.
func respondError(c *gin.Context, err error) {
	c.JSON(fault.StatusOf(err), errorResp{Error: err.Error()})
}

type healthResp struct {
	Status          string `json:"status"`
	ServerPort      int    `json:"serverPort"`
	OpencodePort    int    `json:"opencodePort"`
	APIPrefix       string `json:"apiPrefix"`
	IsOpencodeReady bool   `json:"isOpencodeReady"`
	CLIAvailable    bool   `json:"cliAvailable"`
	Directory       string `json:"directory"`
}

// handleHealth never fails; the front-end polls it to degrade
// gracefully while the supervised process is down.
func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResp{
		Status:          "ok",
		ServerPort:      g.port,
		OpencodePort:    g.sup.CurrentPort(),
		APIPrefix:       g.sup.APIPrefix(),
		IsOpencodeReady: g.sup.IsReady(),
		CLIAvailable:    g.sup.CLIAvailable(),
		Directory:       g.sup.WorkingDirectory(),
	})
}

// handleModelsMetadata serves the models.dev catalog with a short
// cache. Upstream failure falls back to the stale copy when one exists.
func (g *Gateway) handleModelsMetadata(c *gin.Context) {
	g.metaMu.Lock()
	cached := g.metaPayload
	fresh := cached != nil && time.Since(g.metaFetched) < metadataCacheTTL
	g.metaMu.Unlock()

	if fresh {
		c.Data(http.StatusOK, "application/json", cached)
		return
	}

	payload, err := g.fetchMetadata(c)
	if err != nil {
		g.log.Warn("models metadata fetch failed", "error", err)
		if cached != nil {
			c.Data(http.StatusOK, "application/json", cached)
			return
		}
		respondError(c, err)
		return
	}

	g.metaMu.Lock()
	g.metaPayload = payload
	g.metaFetched = time.Now()
	g.metaMu.Unlock()

	c.Data(http.StatusOK, "application/json", payload)
}

func (g *Gateway) fetchMetadata(c *gin.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "build metadata request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.metaClient.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.Unreachable, err, "fetch models metadata")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fault.New(fault.Unreachable, "models metadata upstream returned %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fault.Wrap(fault.Unreachable, err, "read models metadata")
	}
	return payload, nil
}

type directoryReq struct {
	Path string `json:"path"`
}

type directoryResp struct {
	Success   bool   `json:"success"`
	Restarted bool   `json:"restarted"`
	Path      string `json:"path"`
}

// handleChangeDirectory validates the path, updates the supervisor's
// working directory and restarts. Requests are serialized by dirMu;
// re-requesting the active directory while running is a no-op.
func (g *Gateway) handleChangeDirectory(c *gin.Context) {
	var req directoryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fault.New(fault.Validation, "invalid JSON body"))
		return
	}

	path := strings.TrimSpace(req.Path)
	if path == "" {
		respondError(c, fault.New(fault.Validation, "path is required"))
		return
	}
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		respondError(c, fault.New(fault.NotFound, "cannot access %q", path))
		return
	}
	if !info.IsDir() {
		respondError(c, fault.New(fault.Validation, "%q is not a directory", path))
		return
	}

	g.dirMu.Lock()
	defer g.dirMu.Unlock()

	if g.sup.WorkingDirectory() == path && g.sup.CurrentPort() != 0 {
		c.JSON(http.StatusOK, directoryResp{Success: true, Restarted: false, Path: path})
		return
	}

	g.log.Info("changing working directory", "path", path)
	g.sup.SetWorkingDirectory(path)
	if err := g.settings.SetLastDirectory(path); err != nil {
		g.log.Warn("failed to persist last directory", "error", err)
	}

	if err := g.sup.Restart(c.Request.Context()); err != nil {
		respondError(c, fault.Wrap(fault.Internal, err, "failed to restart opencode"))
		return
	}

	c.JSON(http.StatusOK, directoryResp{Success: true, Restarted: true, Path: path})
}

type windowReq struct {
	Focused   bool `json:"focused"`
	Minimized bool `json:"minimized"`
}

// handleWindow records the front-end's window state, which gates
// desktop notifications.
func (g *Gateway) handleWindow(c *gin.Context) {
	var req windowReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fault.New(fault.Validation, "invalid JSON body"))
		return
	}
	g.focus.Report(req.Focused, req.Minimized)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleHistory returns recent supervisor lifecycle events.
func (g *Gateway) handleHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(c, fault.New(fault.Validation, "invalid limit %q", raw))
			return
		}
		limit = n
	}

	events, err := g.hist.Recent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, fault.Wrap(fault.Internal, err, "read history"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// handleEvents streams UI bus events to the front-end as SSE.
func (g *Gateway) handleEvents(c *gin.Context) {
	ch, cancel := g.bus.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(ev.Name, ev.Payload)
			c.Writer.Flush()
		}
	}
}
