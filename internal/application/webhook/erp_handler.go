package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/storefront/integration/internal/application/reconcile"
	"github.com/storefront/integration/internal/domain/order"
	"github.com/storefront/integration/internal/domain/shared"
	"github.com/storefront/integration/internal/domain/webhook"
)

// erpOrderPayload is the data portion of an ERP order notification.
// StatusID is frequently absent; the event then only means "this order
// changed, go look".
type erpOrderPayload struct {
	ID           string `json:"id"`
	Number       string `json:"number"`
	StatusID     string `json:"statusId"`
	TrackingCode string `json:"trackingCode"`
	Carrier      string `json:"carrier"`
}

// ERPOrderHandler applies ERP order-status notifications to local orders.
type ERPOrderHandler struct {
	orders   order.Repository
	reader   ERPReader
	resolver StatusResolver
	engine   *reconcile.Engine
	logger   *zap.Logger
}

// NewERPOrderHandler creates the handler for (erp, order) events.
func NewERPOrderHandler(orders order.Repository, reader ERPReader, resolver StatusResolver, engine *reconcile.Engine, logger *zap.Logger) *ERPOrderHandler {
	return &ERPOrderHandler{
		orders:   orders,
		reader:   reader,
		resolver: resolver,
		engine:   engine,
		logger:   logger.Named("erp_handler"),
	}
}

func (h *ERPOrderHandler) Handle(ctx context.Context, rec *webhook.Record, env Envelope) (HandleResult, error) {
	var payload erpOrderPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return HandleResult{}, shared.NewDomainError("MALFORMED_PAYLOAD", "Invalid order payload")
	}
	if payload.ID == "" && payload.Number == "" {
		return HandleResult{}, shared.NewDomainError("MISSING_JOIN_KEY", "Order notification carries no order identifier")
	}

	statusID := payload.StatusID
	tracking := payload.TrackingCode
	carrier := payload.Carrier
	meta := webhook.Metadata{}

	// Sparse notification: read the authoritative snapshot back instead
	// of failing.
	if statusID == "" && payload.ID != "" {
		snapshot, err := h.reader.GetOrder(ctx, payload.ID)
		if err != nil {
			return HandleResult{}, err
		}
		statusID = snapshot.StatusID
		if payload.Number == "" {
			payload.Number = snapshot.Number
		}
		if tracking == "" {
			tracking = snapshot.TrackingCode
		}
		if carrier == "" {
			carrier = snapshot.Carrier
		}
		meta["read_back"] = "true"
	}

	o, err := h.findOrder(ctx, payload.ID, payload.Number)
	if errors.Is(err, shared.ErrNotFound) {
		h.logger.Info("order not found locally",
			zap.String("erp_order_id", payload.ID),
			zap.String("order_number", payload.Number),
		)
		meta["order_not_found"] = "true"
		meta["erp_order_id"] = payload.ID
		return HandleResult{Code: http.StatusOK, Metadata: meta}, nil
	}
	if err != nil {
		return HandleResult{}, err
	}

	meta["order_number"] = o.OrderNumber

	if err := h.engine.LinkERPOrder(ctx, o, payload.ID); err != nil {
		return HandleResult{}, err
	}

	if tracking != "" || carrier != "" {
		if err := h.engine.SetTracking(ctx, o, tracking, carrier); err != nil {
			return HandleResult{}, err
		}
	}

	if statusID != "" {
		proposed := h.resolver.Resolve(ctx, webhook.SourceERP, statusID)
		outcome, err := h.engine.ApplyStatus(ctx, o, proposed)
		if err != nil {
			return HandleResult{}, err
		}
		meta["status_id"] = statusID
		meta["resolved_status"] = string(proposed)
		meta["transition"] = string(outcome.Result)
	} else {
		meta["status_missing"] = "true"
	}

	return HandleResult{Code: http.StatusOK, Metadata: meta}, nil
}

// findOrder tries the ERP id first, then the order number.
func (h *ERPOrderHandler) findOrder(ctx context.Context, erpOrderID, number string) (*order.Order, error) {
	if erpOrderID != "" {
		o, err := h.orders.FindByERPOrderID(ctx, erpOrderID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}
	if number != "" {
		return h.orders.FindByOrderNumber(ctx, number)
	}
	return nil, shared.ErrNotFound
}
