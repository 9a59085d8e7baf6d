package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storefront/integration/internal/application/reconcile"
	"github.com/storefront/integration/internal/domain/order"
	"github.com/storefront/integration/internal/domain/shared"
	"github.com/storefront/integration/internal/infrastructure/config"
	"github.com/storefront/integration/internal/infrastructure/erp"
	"github.com/storefront/integration/internal/infrastructure/statusmap"
)

type memOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]order.Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[uuid.UUID]order.Order)}
}

func (m *memOrderRepo) FindByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &o, nil
}

func (m *memOrderRepo) FindByOrderNumber(ctx context.Context, number string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.OrderNumber == number {
			o := o
			return &o, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memOrderRepo) FindByPaymentID(ctx context.Context, paymentID string) (*order.Order, error) {
	return nil, shared.ErrNotFound
}

func (m *memOrderRepo) FindByERPOrderID(ctx context.Context, erpOrderID string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ERPOrderID == erpOrderID && erpOrderID != "" {
			o := o
			return &o, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memOrderRepo) Save(ctx context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = *o
	return nil
}

func (m *memOrderRepo) SaveWithLock(ctx context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.Version++
	stored, ok := m.orders[o.ID]
	if !ok || stored.Version != o.Version-1 {
		o.Version--
		return shared.ErrConcurrencyConflict
	}
	m.orders[o.ID] = *o
	return nil
}

func (m *memOrderRepo) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, o := range m.orders {
		if o.Status == order.StatusDelivered || o.Status == order.StatusCancelled {
			continue
		}
		if o.LastExternalSyncAt == nil || o.LastExternalSyncAt.Before(cutoff) {
			out = append(out, o)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

type stubReader struct {
	mu        sync.Mutex
	snapshots map[string]erp.OrderSnapshot
	calls     int
}

func (s *stubReader) GetOrder(ctx context.Context, erpOrderID string) (*erp.OrderSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	snap, ok := s.snapshots[erpOrderID]
	if !ok {
		return nil, errors.New("erp unreachable")
	}
	return &snap, nil
}

type failingCatalog struct{}

func (failingCatalog) FetchSalesStatuses(ctx context.Context) ([]erp.CatalogStatus, error) {
	return nil, errors.New("catalog unreachable")
}

func newTestReconciler(t *testing.T, repo *memOrderRepo, reader *stubReader) *Reconciler {
	t.Helper()
	logger := zap.NewNop()
	engine := reconcile.NewEngine(repo, nil, nil, nil, logger)
	resolver := statusmap.NewResolver(failingCatalog{}, time.Hour, logger)

	r, err := NewReconciler(config.ReconcileConfig{
		Enabled:    true,
		Interval:   time.Minute,
		StaleAfter: time.Hour,
		BatchSize:  10,
	}, repo, reader, resolver, engine, nil, logger)
	require.NoError(t, err)
	return r
}

func seedOrder(t *testing.T, repo *memOrderRepo, number, erpOrderID string) *order.Order {
	t.Helper()
	o, err := order.New(number)
	require.NoError(t, err)
	o.ERPOrderID = erpOrderID
	require.NoError(t, repo.Save(context.Background(), o))
	return o
}

func TestReconciler_AdvancesStaleOrder(t *testing.T) {
	repo := newMemOrderRepo()
	reader := &stubReader{snapshots: map[string]erp.OrderSnapshot{
		"erp-1": {ID: "erp-1", Number: "O-1", StatusID: "21", TrackingCode: "TRK-1", Carrier: "correios"},
	}}
	seedOrder(t, repo, "O-1", "erp-1")

	r := newTestReconciler(t, repo, reader)
	report := r.RunOnce(context.Background())

	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 1, report.Advanced)

	stored, err := repo.FindByOrderNumber(context.Background(), "O-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, stored.Status)
	assert.Equal(t, "TRK-1", stored.TrackingCode)
	assert.NotNil(t, stored.LastExternalSyncAt)
}

func TestReconciler_UnchangedOrderStillMarkedSynced(t *testing.T) {
	repo := newMemOrderRepo()
	reader := &stubReader{snapshots: map[string]erp.OrderSnapshot{
		"erp-2": {ID: "erp-2", Number: "O-2", StatusID: "8"},
	}}
	seedOrder(t, repo, "O-2", "erp-2")

	r := newTestReconciler(t, repo, reader)
	report := r.RunOnce(context.Background())

	assert.Equal(t, 1, report.Unchanged)

	stored, err := repo.FindByOrderNumber(context.Background(), "O-2")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, stored.Status)
	assert.NotNil(t, stored.LastExternalSyncAt, "synced orders leave the stale window")
}

func TestReconciler_FaultIsolationPerOrder(t *testing.T) {
	repo := newMemOrderRepo()
	reader := &stubReader{snapshots: map[string]erp.OrderSnapshot{
		"erp-ok": {ID: "erp-ok", Number: "O-4", StatusID: "15"},
	}}
	seedOrder(t, repo, "O-3", "erp-missing")
	seedOrder(t, repo, "O-4", "erp-ok")

	r := newTestReconciler(t, repo, reader)
	report := r.RunOnce(context.Background())

	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Advanced)

	stored, err := repo.FindByOrderNumber(context.Background(), "O-4")
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, stored.Status)
}

func TestReconciler_UnlinkedOrderSkipped(t *testing.T) {
	repo := newMemOrderRepo()
	reader := &stubReader{snapshots: map[string]erp.OrderSnapshot{}}
	seedOrder(t, repo, "O-5", "")

	r := newTestReconciler(t, repo, reader)
	report := r.RunOnce(context.Background())

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, reader.calls, "no read-back without an ERP link")
}

func TestReconciler_StartStopAndTrigger(t *testing.T) {
	repo := newMemOrderRepo()
	reader := &stubReader{snapshots: map[string]erp.OrderSnapshot{}}
	r := newTestReconciler(t, repo, reader)

	require.Error(t, r.TriggerNow(), "trigger before start")

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.TriggerNow())

	assert.Eventually(t, func() bool {
		return len(r.History(1)) == 1
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
}

func TestNewReconciler_RejectsBadConfig(t *testing.T) {
	repo := newMemOrderRepo()
	_, err := NewReconciler(config.ReconcileConfig{}, repo, &stubReader{}, nil, nil, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
