package webhook

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/storefront/integration/internal/domain/webhook"
)

// HandleResult is what a handler reports back to the ingestion pipeline.
type HandleResult struct {
	// Code is the HTTP status acknowledged to the source.
	Code int
	// Metadata is merged into the audit record.
	Metadata webhook.Metadata
}

// Handler processes one decoded notification for a (source, resource)
// pair. Handlers never mutate the order aggregate directly; they delegate
// to the reconciliation engine.
type Handler interface {
	Handle(ctx context.Context, rec *webhook.Record, env Envelope) (HandleResult, error)
}

type routeKey struct {
	source   webhook.Source
	resource string
}

// Router dispatches decoded envelopes to the handler registered for
// their (source, resource) pair. Unregistered resources are acknowledged
// and ignored so sources do not retry events we deliberately skip.
type Router struct {
	handlers map[routeKey]Handler
	logger   *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		handlers: make(map[routeKey]Handler),
		logger:   logger.Named("router"),
	}
}

// Register binds a handler to a (source, resource) pair.
func (r *Router) Register(source webhook.Source, resource string, h Handler) {
	r.handlers[routeKey{source: source, resource: resource}] = h
}

// Dispatch invokes the handler for the envelope's route. Unknown
// resources return a successful ignore result.
func (r *Router) Dispatch(ctx context.Context, rec *webhook.Record, env Envelope) (HandleResult, error) {
	h, ok := r.handlers[routeKey{source: env.Source, resource: env.Resource}]
	if !ok {
		r.logger.Info("ignoring unhandled resource",
			zap.String("source", string(env.Source)),
			zap.String("resource", env.Resource),
			zap.String("action", env.Action),
		)
		return HandleResult{
			Code: http.StatusOK,
			Metadata: webhook.Metadata{
				"ignored":  "true",
				"resource": env.Resource,
			},
		}, nil
	}
	return h.Handle(ctx, rec, env)
}
