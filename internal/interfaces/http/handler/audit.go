package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/storefront/integration/internal/domain/webhook"
	"github.com/storefront/integration/internal/interfaces/http/dto"
)

// LatestLookup resolves the most recent delivery seen for a source.
// appwebhook.IngestService implements it.
type LatestLookup interface {
	LatestRecord(ctx context.Context, source webhook.Source) (*webhook.Record, error)
}

// AuditHandler exposes the webhook audit log for operators.
type AuditHandler struct {
	BaseHandler
	records webhook.RecordRepository
	latest  LatestLookup
}

// NewAuditHandler creates a new AuditHandler. latest may be nil; the
// latest-delivery endpoint then responds 404.
func NewAuditHandler(records webhook.RecordRepository, latest LatestLookup) *AuditHandler {
	return &AuditHandler{records: records, latest: latest}
}

// RegisterRoutes registers audit routes
func (h *AuditHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/audit/webhooks")
	g.GET("", h.List)
	g.GET("/latest", h.Latest)
	g.GET("/:id", h.Get)
}

// List handles GET /audit/webhooks
func (h *AuditHandler) List(c *gin.Context) {
	var req dto.RecordListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}

	filter := req.ToFilter()
	records, total, err := h.records.ListRecent(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	page := filter.Page
	if page == 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize == 0 {
		pageSize = 50
	}
	h.SuccessWithMeta(c, dto.NewRecordResponseList(records), total, page, pageSize)
}

// Latest handles GET /audit/webhooks/latest. It answers the live-tailing
// question "when did this source last deliver anything", backed by the
// event marker rather than an audit log scan.
func (h *AuditHandler) Latest(c *gin.Context) {
	if h.latest == nil {
		h.NotFound(c, "Event marker is not configured")
		return
	}

	var req dto.LatestRecordRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}

	rec, err := h.latest.LatestRecord(c.Request.Context(), webhook.Source(req.Source))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if rec == nil {
		h.NotFound(c, "No recent delivery for source "+req.Source)
		return
	}
	h.Success(c, dto.NewRecordResponse(rec))
}

// Get handles GET /audit/webhooks/:id
func (h *AuditHandler) Get(c *gin.Context) {
	var req dto.RecordIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		h.BadRequest(c, "Invalid record id")
		return
	}

	rec, err := h.records.FindByID(c.Request.Context(), req.ID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewRecordResponse(rec))
}
