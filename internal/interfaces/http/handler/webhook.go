package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appwebhook "github.com/storefront/integration/internal/application/webhook"
	"github.com/storefront/integration/internal/domain/webhook"
	"github.com/storefront/integration/internal/interfaces/http/dto"
)

// WebhookHandler receives inbound notifications from external systems.
// The response code always mirrors what the ingest pipeline decided, so
// the sender's retry behavior matches the audit record.
type WebhookHandler struct {
	BaseHandler
	ingest *appwebhook.IngestService
	logger *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(ingest *appwebhook.IngestService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		ingest: ingest,
		logger: logger.Named("webhook_handler"),
	}
}

// RegisterRoutes registers webhook routes
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/webhooks")
	g.POST("/:source", h.Receive)
}

// Receive handles POST /webhooks/:source
func (h *WebhookHandler) Receive(c *gin.Context) {
	source := webhook.Source(c.Param("source"))
	if !source.IsValid() {
		h.BadRequest(c, "Unknown webhook source")
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.BadRequest(c, "Unreadable request body")
		return
	}

	result, err := h.ingest.Ingest(c.Request.Context(), source, body, c.Request.Header)
	if err != nil {
		// The audit record could not be created; the sender must retry.
		h.logger.Error("ingest aborted", zap.String("source", string(source)), zap.Error(err))
		h.InternalError(c, "Event could not be recorded")
		return
	}

	if result.Code >= 200 && result.Code < 300 {
		c.JSON(result.Code, dto.NewSuccessResponse(dto.IngestResponse{
			RecordID: result.RecordID,
			Message:  result.Message,
		}))
		return
	}

	code := dto.ErrCodeBadRequest
	if result.Code == http.StatusUnauthorized {
		code = dto.ErrCodeSignatureInvalid
	} else if result.Code >= 500 {
		code = dto.ErrCodeInternal
	}
	h.Error(c, result.Code, code, result.Message)
}
