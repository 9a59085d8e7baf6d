package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storefront/integration/internal/interfaces/http/dto"
)

// Pinger checks connectivity to a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler handles health and system information endpoints.
type SystemHandler struct {
	BaseHandler
	startTime time.Time
	db        Pinger
	redis     Pinger
}

// NewSystemHandler creates a new SystemHandler. db and redis may be nil
// when the component is not part of the deployment.
func NewSystemHandler(db, redis Pinger) *SystemHandler {
	return &SystemHandler{
		startTime: time.Now(),
		db:        db,
		redis:     redis,
	}
}

// RegisterRoutes registers system routes
func (h *SystemHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/system/info", h.GetSystemInfo)
}

// RegisterHealthRoute registers the unversioned health probe
func (h *SystemHandler) RegisterHealthRoute(engine *gin.Engine) {
	engine.GET("/healthz", h.Health)
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name      string `json:"name"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

// GetSystemInfo handles GET /system/info
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	info := SystemInfoResponse{
		Name:      "integration-backend",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}
	h.Success(c, info)
}

// Health handles GET /healthz. Degraded Redis does not fail the probe:
// dedup and markers are optimizations, the pipeline works without them.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	components := map[string]string{}
	healthy := true

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			components["database"] = "down: " + err.Error()
			healthy = false
		} else {
			components["database"] = "up"
		}
	}
	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			components["redis"] = "degraded: " + err.Error()
		} else {
			components["redis"] = "up"
		}
	}

	resp := dto.HealthResponse{Status: "ok", Components: components}
	code := http.StatusOK
	if !healthy {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}
