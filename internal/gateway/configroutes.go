package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openchamber/chamberd/internal/configstore"
	"github.com/openchamber/chamberd/internal/fault"
	"github.com/openchamber/chamberd/internal/uibus"
)

type entityMetaResp struct {
	Name      string              `json:"name"`
	IsBuiltIn bool                `json:"isBuiltIn"`
	Sources   *configstore.Sources `json:"sources"`
}

type configActionResp struct {
	Success        bool   `json:"success"`
	RequiresReload bool   `json:"requiresReload"`
	Message        string `json:"message"`
	ReloadDelayMS  int    `json:"reloadDelayMs"`
}

// handleEntity serves GET/POST/PATCH/DELETE for one entity kind. Every
// mutation restarts the supervisor so opencode picks up the new
// configuration, then instructs the front-end to reload itself.
func (g *Gateway) handleEntity(kind configstore.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := strings.TrimSpace(c.Param("name"))
		if name == "" {
			respondError(c, fault.New(fault.Validation, "%s name is required", kind))
			return
		}

		switch c.Request.Method {
		case http.MethodGet:
			g.entitySources(c, kind, name)
		case http.MethodPost:
			g.entityMutation(c, kind, name, "created", func(fields map[string]any) error {
				return g.store.Create(kind, name, fields)
			})
		case http.MethodPatch:
			g.entityMutation(c, kind, name, "updated", func(fields map[string]any) error {
				return g.store.Update(kind, name, fields)
			})
		case http.MethodDelete:
			g.entityDelete(c, kind, name)
		default:
			c.Status(http.StatusMethodNotAllowed)
		}
	}
}

func (g *Gateway) entitySources(c *gin.Context, kind configstore.Kind, name string) {
	sources, err := g.store.Sources(kind, name)
	if err != nil {
		g.log.Error("failed to read entity sources", "kind", kind, "name", name, "error", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entityMetaResp{
		Name:      name,
		IsBuiltIn: sources.Builtin,
		Sources:   sources,
	})
}

func (g *Gateway) entityMutation(c *gin.Context, kind configstore.Kind, name, verb string, apply func(map[string]any) error) {
	fields, err := bindFields(c)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := apply(fields); err != nil {
		g.log.Error("entity mutation failed", "kind", kind, "name", name, "error", err)
		respondError(c, err)
		return
	}

	g.restartAfterConfigChange(c, kind, name, verb)
}

func (g *Gateway) entityDelete(c *gin.Context, kind configstore.Kind, name string) {
	if err := g.store.Delete(kind, name); err != nil {
		g.log.Error("entity delete failed", "kind", kind, "name", name, "error", err)
		respondError(c, err)
		return
	}
	g.restartAfterConfigChange(c, kind, name, "deleted")
}

// handleConfigReload restarts the supervisor without touching any
// stored configuration.
func (g *Gateway) handleConfigReload(c *gin.Context) {
	if err := g.sup.Restart(c.Request.Context()); err != nil {
		respondError(c, fault.Wrap(fault.Internal, err, "failed to restart opencode"))
		return
	}
	g.publishReload()
	c.JSON(http.StatusOK, configActionResp{
		Success:        true,
		RequiresReload: true,
		Message:        "Configuration reloaded successfully. Refreshing interface...",
		ReloadDelayMS:  reloadDelayMS,
	})
}

func (g *Gateway) restartAfterConfigChange(c *gin.Context, kind configstore.Kind, name, verb string) {
	g.log.Info("restarting opencode after config change", "kind", kind, "name", name)
	if err := g.sup.Restart(c.Request.Context()); err != nil {
		respondError(c, fault.Wrap(fault.Internal, err, "failed to restart opencode"))
		return
	}
	g.publishReload()

	label := "Agent"
	if kind == configstore.KindCommand {
		label = "Command"
	}
	c.JSON(http.StatusOK, configActionResp{
		Success:        true,
		RequiresReload: true,
		Message:        fmt.Sprintf("%s %s %s successfully. Reloading interface...", label, name, verb),
		ReloadDelayMS:  reloadDelayMS,
	})
}

func (g *Gateway) publishReload() {
	g.bus.Publish(uibus.Event{
		Name:    "reload",
		Payload: map[string]any{"delayMs": reloadDelayMS},
	})
}

// bindFields decodes an optional JSON object body. An empty body is an
// empty field set; null field values survive decoding as nil entries,
// which Update interprets as removals.
func bindFields(c *gin.Context) (map[string]any, error) {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return map[string]any{}, nil
	}
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		return nil, fault.New(fault.Validation, "malformed JSON payload")
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}
