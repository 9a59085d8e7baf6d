package webhook

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/storefront/integration/internal/application/reconcile"
	"github.com/storefront/integration/internal/domain/order"
	"github.com/storefront/integration/internal/domain/shared"
	"github.com/storefront/integration/internal/domain/webhook"
)

// CarrierHandler applies shipment events from the carrier broker. The
// push itself is a ping carrying an opaque reference; the shipment
// detail always comes from a read-back.
type CarrierHandler struct {
	orders   order.Repository
	reader   ERPReader
	resolver StatusResolver
	engine   *reconcile.Engine
	logger   *zap.Logger
}

// NewCarrierHandler creates the handler for (carrier, shipment) events.
func NewCarrierHandler(orders order.Repository, reader ERPReader, resolver StatusResolver, engine *reconcile.Engine, logger *zap.Logger) *CarrierHandler {
	return &CarrierHandler{
		orders:   orders,
		reader:   reader,
		resolver: resolver,
		engine:   engine,
		logger:   logger.Named("carrier_handler"),
	}
}

func (h *CarrierHandler) Handle(ctx context.Context, rec *webhook.Record, env Envelope) (HandleResult, error) {
	if env.Ref == "" {
		return HandleResult{}, shared.NewDomainError("MISSING_JOIN_KEY", "Shipment event carries no reference")
	}

	detail, err := h.reader.GetShipment(ctx, env.Ref)
	if err != nil {
		return HandleResult{}, err
	}

	meta := webhook.Metadata{
		"shipment_ref": env.Ref,
	}

	o, err := h.orders.FindByOrderNumber(ctx, detail.OrderNumber)
	if errors.Is(err, shared.ErrNotFound) {
		h.logger.Info("no local order for shipment",
			zap.String("shipment_ref", env.Ref),
			zap.String("order_number", detail.OrderNumber),
		)
		meta["order_not_found"] = "true"
		meta["order_number"] = detail.OrderNumber
		return HandleResult{Code: http.StatusOK, Metadata: meta}, nil
	}
	if err != nil {
		return HandleResult{}, err
	}

	meta["order_number"] = o.OrderNumber

	if err := h.engine.SetTracking(ctx, o, detail.TrackingCode, detail.Carrier); err != nil {
		return HandleResult{}, err
	}

	if detail.StatusID != "" {
		proposed := h.resolver.Resolve(ctx, webhook.SourceCarrier, detail.StatusID)
		outcome, err := h.engine.ApplyStatus(ctx, o, proposed)
		if err != nil {
			return HandleResult{}, err
		}
		meta["carrier_status"] = detail.StatusID
		meta["resolved_status"] = string(proposed)
		meta["transition"] = string(outcome.Result)
	}

	return HandleResult{Code: http.StatusOK, Metadata: meta}, nil
}
