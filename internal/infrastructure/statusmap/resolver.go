// Package statusmap translates each source's opaque status identifiers into
// the internal canonical order status. The ERP's status catalog is
// admin-configurable at runtime, so the mapping is discovered and cached
// rather than hard-coded, with a static fallback when discovery fails.
package statusmap

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/integration/internal/domain/order"
	"github.com/storefront/integration/internal/domain/webhook"
	"github.com/storefront/integration/internal/infrastructure/erp"
)

// DefaultTTL is how long a fetched catalog stays fresh
const DefaultTTL = 24 * time.Hour

// fallbackStatus is the conservative default for identifiers no table knows.
// Unknown codes must not drop events and must not park an order in a
// terminal state.
const fallbackStatus = order.StatusProcessing

// CatalogClient fetches the ERP's sales status catalog
type CatalogClient interface {
	FetchSalesStatuses(ctx context.Context) ([]erp.CatalogStatus, error)
}

// Entry maps one external status identifier onto the canonical enum
type Entry struct {
	ExternalID  string
	DisplayName string
	Internal    order.Status
	// Inherited marks child statuses that roll up to a parent definition
	Inherited bool
}

// staticERPTable holds previously observed ERP identifier mappings, used when
// the live catalog cannot be fetched. Extend it from the miss log.
var staticERPTable = map[string]Entry{
	"8":  {ExternalID: "8", DisplayName: "Em aberto", Internal: order.StatusPending},
	"15": {ExternalID: "15", DisplayName: "Em andamento", Internal: order.StatusProcessing},
	"18": {ExternalID: "18", DisplayName: "Faturado", Internal: order.StatusInvoiced},
	"21": {ExternalID: "21", DisplayName: "Enviado", Internal: order.StatusShipped},
	"24": {ExternalID: "24", DisplayName: "Entregue", Internal: order.StatusDelivered},
	"12": {ExternalID: "12", DisplayName: "Cancelado", Internal: order.StatusCancelled},
}

// staticCarrierTable maps the carrier broker's fixed event vocabulary
var staticCarrierTable = map[string]Entry{
	"posted":     {ExternalID: "posted", DisplayName: "Posted", Internal: order.StatusShipped},
	"in_transit": {ExternalID: "in_transit", DisplayName: "In transit", Internal: order.StatusShipped},
	"delivered":  {ExternalID: "delivered", DisplayName: "Delivered", Internal: order.StatusDelivered},
	"cancelled":  {ExternalID: "cancelled", DisplayName: "Cancelled", Internal: order.StatusCancelled},
}

// Resolver is the TTL cache over the discovered status tables. Reads vastly
// outnumber refreshes; concurrent redundant refreshes are harmless and the
// last successful fetch wins.
type Resolver struct {
	catalog CatalogClient
	ttl     time.Duration
	logger  *zap.Logger

	mu        sync.RWMutex
	erpTable  map[string]Entry
	fetchedAt time.Time
}

// NewResolver creates a Resolver backed by the given catalog client
func NewResolver(catalog CatalogClient, ttl time.Duration, logger *zap.Logger) *Resolver {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Resolver{
		catalog: catalog,
		ttl:     ttl,
		logger:  logger.Named("statusmap"),
	}
}

// Resolve maps a source-specific status identifier to the canonical status.
// It never fails: unknown identifiers resolve to the conservative default and
// the miss is logged so operators can extend the static table.
func (r *Resolver) Resolve(ctx context.Context, source webhook.Source, externalID string) order.Status {
	if entry, ok := r.lookup(ctx, source, externalID); ok {
		return entry.Internal
	}
	r.logger.Warn("Unmapped external status, using conservative default",
		zap.String("source", source.String()),
		zap.String("external_id", externalID),
		zap.String("default", fallbackStatus.String()))
	return fallbackStatus
}

// Lookup returns the full mapping entry when one exists
func (r *Resolver) lookup(ctx context.Context, source webhook.Source, externalID string) (Entry, bool) {
	switch source {
	case webhook.SourceERP:
		table := r.erpEntries(ctx)
		entry, ok := table[externalID]
		return entry, ok
	case webhook.SourceCarrier:
		entry, ok := staticCarrierTable[externalID]
		return entry, ok
	default:
		return Entry{}, false
	}
}

// Invalidate clears the cached catalog so the next lookup re-fetches.
// Used operationally when the ERP's status catalog changes.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.erpTable = nil
	r.fetchedAt = time.Time{}
	r.logger.Info("Status resolution cache invalidated")
}

// erpEntries returns the live ERP table, refreshing it when stale and
// falling back to the static table when discovery fails
func (r *Resolver) erpEntries(ctx context.Context) map[string]Entry {
	r.mu.RLock()
	table, fetchedAt := r.erpTable, r.fetchedAt
	r.mu.RUnlock()

	if table != nil && time.Since(fetchedAt) < r.ttl {
		return table
	}

	fresh, err := r.fetch(ctx)
	if err != nil || len(fresh) == 0 {
		r.logger.Warn("Status catalog discovery failed, running on static fallback table",
			zap.Error(err))
		if table != nil {
			// A stale live table still beats the static one
			return table
		}
		return staticERPTable
	}

	r.mu.Lock()
	r.erpTable = fresh
	r.fetchedAt = time.Now()
	r.mu.Unlock()
	return fresh
}

// fetch pulls the catalog and classifies each status name onto the enum
func (r *Resolver) fetch(ctx context.Context) (map[string]Entry, error) {
	statuses, err := r.catalog.FetchSalesStatuses(ctx)
	if err != nil {
		return nil, err
	}
	table := make(map[string]Entry, len(statuses))
	for _, s := range statuses {
		internal, ok := Classify(s.Name)
		if !ok {
			internal = fallbackStatus
			r.logger.Info("Unclassifiable catalog status name, defaulting",
				zap.String("external_id", s.ID),
				zap.String("name", s.Name))
		}
		table[s.ID] = Entry{
			ExternalID:  s.ID,
			DisplayName: s.Name,
			Internal:    internal,
			Inherited:   s.Inherited,
		}
	}
	return table, nil
}
