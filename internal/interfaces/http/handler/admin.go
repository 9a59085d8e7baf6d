package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appwebhook "github.com/storefront/integration/internal/application/webhook"
	"github.com/storefront/integration/internal/infrastructure/scheduler"
	"github.com/storefront/integration/internal/interfaces/http/dto"
)

// StatusCache is the admin surface of the status resolution cache.
type StatusCache interface {
	Invalidate()
}

// ReconcileTrigger is the admin surface of the reconciliation loop.
type ReconcileTrigger interface {
	TriggerNow() error
	History(limit int) []scheduler.RunReport
}

// AdminHandler exposes operational endpoints: replaying audited
// webhooks, refreshing the status cache, driving the reconciler.
type AdminHandler struct {
	BaseHandler
	ingest     *appwebhook.IngestService
	cache      StatusCache
	reconciler ReconcileTrigger
	logger     *zap.Logger
}

// NewAdminHandler creates a new AdminHandler. cache and reconciler may
// be nil; the matching endpoints respond 404.
func NewAdminHandler(ingest *appwebhook.IngestService, cache StatusCache, reconciler ReconcileTrigger, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		ingest:     ingest,
		cache:      cache,
		reconciler: reconciler,
		logger:     logger.Named("admin_handler"),
	}
}

// RegisterRoutes registers admin routes
func (h *AdminHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/admin")
	g.POST("/webhooks/:id/replay", h.Replay)
	g.POST("/status-cache/refresh", h.RefreshStatusCache)
	g.POST("/reconcile/run", h.RunReconciliation)
	g.GET("/reconcile/history", h.ReconciliationHistory)
}

// Replay handles POST /admin/webhooks/:id/replay
func (h *AdminHandler) Replay(c *gin.Context) {
	var req dto.RecordIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		h.BadRequest(c, "Invalid record id")
		return
	}

	result, err := h.ingest.Replay(c.Request.Context(), req.ID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.logger.Info("webhook replayed",
		zap.Uint64("original_id", req.ID),
		zap.Uint64("replay_id", result.RecordID),
		zap.Int("code", result.Code),
	)
	h.Success(c, dto.ReplayResponse{
		OriginalID:   req.ID,
		ReplayID:     result.RecordID,
		ResponseCode: result.Code,
	})
}

// RefreshStatusCache handles POST /admin/status-cache/refresh. The next
// resolution fetches a fresh catalog from the ERP.
func (h *AdminHandler) RefreshStatusCache(c *gin.Context) {
	if h.cache == nil {
		h.NotFound(c, "Status cache is not configured")
		return
	}
	h.cache.Invalidate()
	h.Success(c, gin.H{"invalidated": true})
}

// RunReconciliation handles POST /admin/reconcile/run
func (h *AdminHandler) RunReconciliation(c *gin.Context) {
	if h.reconciler == nil {
		h.NotFound(c, "Reconciler is not configured")
		return
	}
	if err := h.reconciler.TriggerNow(); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, gin.H{"triggered": true})
}

// ReconciliationHistory handles GET /admin/reconcile/history
func (h *AdminHandler) ReconciliationHistory(c *gin.Context) {
	if h.reconciler == nil {
		h.NotFound(c, "Reconciler is not configured")
		return
	}

	reports := h.reconciler.History(20)
	out := make([]dto.ReconcileRunResponse, len(reports))
	for i, r := range reports {
		out[i] = dto.ReconcileRunResponse{
			StartedAt:   r.StartedAt,
			CompletedAt: r.CompletedAt,
			Examined:    r.Examined,
			Advanced:    r.Advanced,
			Unchanged:   r.Unchanged,
			Skipped:     r.Skipped,
			Failed:      r.Failed,
		}
	}
	h.Success(c, out)
}
