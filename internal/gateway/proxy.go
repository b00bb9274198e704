package gateway

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openchamber/chamberd/internal/fault"
	"github.com/openchamber/chamberd/internal/metrics"
	"github.com/openchamber/chamberd/internal/supervisor"
)

// handleProxy forwards everything under /api to the supervised process,
// streaming the response body so event streams pass through unbuffered.
func (g *Gateway) handleProxy(c *gin.Context) {
	path := c.Request.URL.Path
	if path != "/api" && !strings.HasPrefix(path, "/api/") {
		c.JSON(http.StatusNotFound, errorResp{Error: "not found"})
		return
	}

	port := g.sup.CurrentPort()
	if port == 0 {
		g.log.Error("proxy failed: opencode port unknown")
		metrics.IncProxyRequest("502")
		respondError(c, fault.New(fault.Unreachable, "opencode is not running"))
		return
	}

	target := fmt.Sprintf("http://127.0.0.1:%d%s%s", port, g.sup.APIPrefix(), supervisor.RewritePath(path))
	if raw := c.Request.URL.RawQuery; raw != "" {
		target += "?" + raw
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target, c.Request.Body)
	if err != nil {
		metrics.IncProxyRequest("502")
		respondError(c, fault.Wrap(fault.Unreachable, err, "build proxy request"))
		return
	}

	copyProxyHeaders(req.Header, c.Request.Header)
	req.Host = fmt.Sprintf("127.0.0.1:%d", port)

	resp, err := g.proxyClient.Do(req)
	if err != nil {
		g.log.Error("proxy request failed", "target", target, "error", err)
		metrics.IncProxyRequest("502")
		respondError(c, fault.Wrap(fault.Unreachable, err, "opencode request failed"))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	metrics.IncProxyRequest(strconv.Itoa(resp.StatusCode))

	header := c.Writer.Header()
	for key, values := range resp.Header {
		if strings.EqualFold(key, "Connection") {
			continue
		}
		for _, v := range values {
			header.Add(key, v)
		}
	}
	c.Status(resp.StatusCode)

	streamBody(c.Writer, resp.Body)
}

// copyProxyHeaders forwards request headers minus the hop-by-hop
// connection header and the content length, which the transport
// recomputes. Event-stream requests are pinned to keep-alive.
func copyProxyHeaders(dst, src http.Header) {
	for key, values := range src {
		if strings.EqualFold(key, "Connection") || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	if strings.Contains(dst.Get("Accept"), "text/event-stream") {
		dst.Set("Connection", "keep-alive")
	}
}

// streamBody copies with a per-chunk flush so long-lived event streams
// reach the client as they arrive.
func streamBody(w gin.ResponseWriter, body io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			w.Flush()
		}
		if err != nil {
			return
		}
	}
}
