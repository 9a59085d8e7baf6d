package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storefront/integration/internal/application/reconcile"
	"github.com/storefront/integration/internal/domain/order"
	"github.com/storefront/integration/internal/domain/shared"
	"github.com/storefront/integration/internal/domain/webhook"
	"github.com/storefront/integration/internal/infrastructure/cache"
	"github.com/storefront/integration/internal/infrastructure/erp"
	"github.com/storefront/integration/internal/infrastructure/signature"
	"github.com/storefront/integration/internal/infrastructure/statusmap"
)

const (
	testERPSecret     = "erp-secret"
	testPaymentSecret = "payment-secret"
)

// memRecordRepo is an in-memory webhook.RecordRepository.
type memRecordRepo struct {
	mu      sync.Mutex
	nextID  uint64
	records map[uint64]*webhook.Record

	failCreate bool
}

func newMemRecordRepo() *memRecordRepo {
	return &memRecordRepo{records: make(map[uint64]*webhook.Record)}
}

func (m *memRecordRepo) Create(ctx context.Context, r *webhook.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return errors.New("storage down")
	}
	m.nextID++
	r.ID = m.nextID
	clone := *r
	m.records[r.ID] = &clone
	return nil
}

func (m *memRecordRepo) FindByID(ctx context.Context, id uint64) (*webhook.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (m *memRecordRepo) UpdateRouting(ctx context.Context, id uint64, eventType, resource, action, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return shared.ErrNotFound
	}
	r.SetRouting(eventType, resource, action, eventID)
	return nil
}

func (m *memRecordRepo) MarkProcessing(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return shared.ErrNotFound
	}
	return r.BeginProcessing()
}

func (m *memRecordRepo) MarkSuccess(ctx context.Context, id uint64, responseCode int, patch webhook.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return shared.ErrNotFound
	}
	if err := r.Complete(responseCode); err != nil {
		return err
	}
	r.Metadata.Merge(patch)
	return nil
}

func (m *memRecordRepo) MarkError(ctx context.Context, id uint64, message string, responseCode int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return shared.ErrNotFound
	}
	return r.Fail(message, responseCode)
}

func (m *memRecordRepo) AddMetadata(ctx context.Context, id uint64, patch webhook.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return shared.ErrNotFound
	}
	r.Metadata.Merge(patch)
	return nil
}

func (m *memRecordRepo) ListRecent(ctx context.Context, filter webhook.RecordFilter) ([]webhook.Record, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []webhook.Record
	for id := m.nextID; id >= 1; id-- {
		r, ok := m.records[id]
		if !ok {
			continue
		}
		if filter.Source != "" && r.Source != filter.Source {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, *r)
	}
	return out, int64(len(out)), nil
}

// memOrderRepo is an in-memory order.Repository.
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

func (m *memOrderRepo) find(match func(order.Order) bool) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if match(o) {
			o := o
			return &o, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memOrderRepo) FindByOrderNumber(ctx context.Context, number string) (*order.Order, error) {
	return m.find(func(o order.Order) bool { return o.OrderNumber == number })
}

func (m *memOrderRepo) FindByPaymentID(ctx context.Context, paymentID string) (*order.Order, error) {
	if paymentID == "" {
		return nil, shared.ErrNotFound
	}
	return m.find(func(o order.Order) bool { return o.PaymentID == paymentID })
}

func (m *memOrderRepo) FindByERPOrderID(ctx context.Context, erpOrderID string) (*order.Order, error) {
	if erpOrderID == "" {
		return nil, shared.ErrNotFound
	}
	return m.find(func(o order.Order) bool { return o.ERPOrderID == erpOrderID })
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
	return nil, nil
}

// fakeERP serves read-backs and counts compensating writes.
type fakeERP struct {
	mu        sync.Mutex
	orders    map[string]erp.OrderSnapshot
	shipments map[string]erp.ShipmentDetail
	upserts   []erp.UpsertOrderRequest
}

func newFakeERP() *fakeERP {
	return &fakeERP{
		orders:    make(map[string]erp.OrderSnapshot),
		shipments: make(map[string]erp.ShipmentDetail),
	}
}

func (f *fakeERP) GetOrder(ctx context.Context, erpOrderID string) (*erp.OrderSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.orders[erpOrderID]
	if !ok {
		return nil, &erp.APIError{StatusCode: http.StatusNotFound, Message: "order not found"}
	}
	return &s, nil
}

func (f *fakeERP) GetShipment(ctx context.Context, ref string) (*erp.ShipmentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shipments[ref]
	if !ok {
		return nil, &erp.APIError{StatusCode: http.StatusNotFound, Message: "shipment not found"}
	}
	return &s, nil
}

func (f *fakeERP) UpsertOrder(ctx context.Context, req erp.UpsertOrderRequest) (*erp.OrderSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, req)
	return &erp.OrderSnapshot{ID: "erp-" + req.Number, Number: req.Number}, nil
}

func (f *fakeERP) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

// fakeGateway serves payment read-backs.
type fakeGateway struct {
	payments map[string]PaymentDetail
}

func (f *fakeGateway) PaymentStatus(ctx context.Context, paymentID string) (*PaymentDetail, error) {
	d, ok := f.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("gateway: payment %s not found", paymentID)
	}
	return &d, nil
}

// failingCatalog forces the resolver onto its static fallback table.
type failingCatalog struct{}

func (failingCatalog) FetchSalesStatuses(ctx context.Context) ([]erp.CatalogStatus, error) {
	return nil, errors.New("catalog unreachable")
}

type pipeline struct {
	service *IngestService
	records *memRecordRepo
	orders  *memOrderRepo
	erp     *fakeERP
	gateway *fakeGateway
}

func newTestPipeline(t *testing.T) *pipeline {
	t.Helper()

	logger := zap.NewNop()
	records := newMemRecordRepo()
	orders := newMemOrderRepo()
	erpFake := newFakeERP()
	gateway := &fakeGateway{payments: make(map[string]PaymentDetail)}

	engine := reconcile.NewEngine(orders, erpFake, nil, nil, logger)
	resolver := statusmap.NewResolver(failingCatalog{}, time.Hour, logger)

	router := NewRouter(logger)
	router.Register(webhook.SourceERP, "order", NewERPOrderHandler(orders, erpFake, resolver, engine, logger))
	router.Register(webhook.SourcePayment, "payment", NewPaymentHandler(orders, gateway, engine, nil, logger))
	router.Register(webhook.SourceCarrier, "shipment", NewCarrierHandler(orders, erpFake, resolver, engine, logger))

	verifier := signature.NewVerifier(signature.Config{
		ERPSecret:     testERPSecret,
		PaymentSecret: testPaymentSecret,
	}, logger)

	dedup := cache.NewInMemoryDedupStore()
	t.Cleanup(func() { _ = dedup.Close() })

	service := NewIngestService(records, verifier, router, dedup, cache.NewInMemoryEventMarker(time.Minute), nil, IngestConfig{}, logger)

	return &pipeline{
		service: service,
		records: records,
		orders:  orders,
		erp:     erpFake,
		gateway: gateway,
	}
}

func erpHeaders(body []byte) http.Header {
	h := http.Header{}
	h.Set(signature.ERPSignatureHeader, signature.SignERP(testERPSecret, body))
	return h
}

func paymentHeaders(paymentID string) http.Header {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	requestID := "req-" + paymentID
	h := http.Header{}
	h.Set(signature.PaymentRequestIDHeader, requestID)
	h.Set(signature.PaymentSignatureHeader, signature.SignPayment(testPaymentSecret, paymentID, requestID, ts))
	return h
}

func seedOrder(t *testing.T, orders *memOrderRepo, number string) *order.Order {
	t.Helper()
	o, err := order.New(number)
	require.NoError(t, err)
	require.NoError(t, orders.Save(context.Background(), o))
	return o
}

// Scenario A: payment approval advances the order, pushes it to the ERP
// and audits the match.
func TestIngest_PaymentApproval(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	o := seedOrder(t, p.orders, "O-1")
	o.PaymentID = "P-123"
	require.NoError(t, p.orders.Save(ctx, o))

	p.gateway.payments["P-123"] = PaymentDetail{
		PaymentID:   "P-123",
		OrderNumber: "O-1",
		Status:      "approved",
		Amount:      decimal.NewFromInt(199),
	}

	body := []byte(`{"id":1,"type":"payment","action":"payment.updated","data":{"id":"P-123"}}`)
	res, err := p.service.Ingest(ctx, webhook.SourcePayment, body, paymentHeaders("P-123"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Code)

	stored, err := p.orders.FindByOrderNumber(ctx, "O-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, stored.Status)
	assert.Equal(t, order.PaymentStatusApproved, stored.PaymentStatus)
	assert.NotNil(t, stored.PaidAt)

	assert.Equal(t, 1, p.erp.upsertCount(), "ERP order push attempted")

	rec, err := p.records.FindByID(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, webhook.RecordStatusSuccess, rec.Status)
	assert.Equal(t, "O-1", rec.Metadata["order_id"])
}

// Idempotent replay: the same approval twice yields one transition and
// one compensating ERP call.
func TestIngest_PaymentApprovalReplay(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	o := seedOrder(t, p.orders, "O-2")
	o.PaymentID = "P-200"
	require.NoError(t, p.orders.Save(ctx, o))
	p.gateway.payments["P-200"] = PaymentDetail{
		PaymentID:   "P-200",
		OrderNumber: "O-2",
		Status:      "approved",
		Amount:      decimal.NewFromInt(50),
	}

	// No event id on the second delivery, so Redis dedup does not absorb
	// it; idempotency must come from the transition rules.
	body := []byte(`{"type":"payment","data":{"id":"P-200"}}`)

	res, err := p.service.Ingest(ctx, webhook.SourcePayment, body, paymentHeaders("P-200"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Code)

	res, err = p.service.Ingest(ctx, webhook.SourcePayment, body, paymentHeaders("P-200"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Code)

	stored, err := p.orders.FindByOrderNumber(ctx, "O-2")
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, stored.Status)
	assert.Equal(t, 1, p.erp.upsertCount(), "ERP create not repeated on replay")

	rec, err := p.records.FindByID(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, string(order.ApplyResultUnchanged), rec.Metadata["transition"], "second delivery is a no-op")
}

// Scenario B: an ERP status push carrying catalog id 15 maps to
// processing and advances the order.
func TestIngest_ERPStatusAdvance(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	o := seedOrder(t, p.orders, "O-3")
	o.ERPOrderID = "erp-77"
	require.NoError(t, p.orders.Save(ctx, o))

	body := []byte(`{"event":"order.updated","data":{"id":"erp-77","statusId":"15"}}`)
	res, err := p.service.Ingest(ctx, webhook.SourceERP, body, erpHeaders(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Code)

	stored, err := p.orders.FindByERPOrderID(ctx, "erp-77")
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, stored.Status)

	// Redelivery does not regress or re-apply
	res, err = p.service.Ingest(ctx, webhook.SourceERP, body, erpHeaders(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Code)

	rec, err := p.records.FindByID(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, string(order.ApplyResultUnchanged), rec.Metadata["transition"])
}

// A sparse ERP notification without a status id triggers an
// authoritative read-back.
func TestIngest_ERPSparseNotificationReadsBack(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	o := seedOrder(t, p.orders, "O-4")
	o.ERPOrderID = "erp-88"
	require.NoError(t, p.orders.Save(ctx, o))

	p.erp.orders["erp-88"] = erp.OrderSnapshot{
		ID:       "erp-88",
		Number:   "O-4",
		StatusID: "21",
	}

	body := []byte(`{"event":"order.updated","data":{"id":"erp-88"}}`)
	res, err := p.service.Ingest(ctx, webhook.SourceERP, body, erpHeaders(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Code)

	stored, err := p.orders.FindByERPOrderID(ctx, "erp-88")
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, stored.Status)

	rec, err := p.records.FindByID(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "true", rec.Metadata["read_back"])
}

// Signature rejection: wrong secret means 401, an errored record, and no
// handler invocation.
func TestIngest_SignatureRejection(t *testing.T) {
	logger := zap.NewNop()
	records := newMemRecordRepo()
	spy := &spyHandler{result: HandleResult{Code: http.StatusOK}}

	router := NewRouter(logger)
	router.Register(webhook.SourceERP, "order", spy)
	verifier := signature.NewVerifier(signature.Config{ERPSecret: testERPSecret}, logger)
	service := NewIngestService(records, verifier, router, nil, nil, nil, IngestConfig{}, logger)

	body := []byte(`{"event":"order.updated","data":{"id":"erp-1"}}`)
	h := http.Header{}
	h.Set(signature.ERPSignatureHeader, signature.SignERP("wrong-secret", body))

	res, err := service.Ingest(context.Background(), webhook.SourceERP, body, h)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, 0, spy.calls, "handler never invoked on signature failure")

	rec, err := records.FindByID(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, webhook.RecordStatusError, rec.Status)
	assert.Equal(t, http.StatusUnauthorized, rec.ResponseCode)
}

// Malformed envelopes are rejected with 400 before routing.
func TestIngest_MalformedEnvelope(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	body := []byte(`{"data":{}}`)
	res, err := p.service.Ingest(ctx, webhook.SourceERP, body, erpHeaders(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	rec, err := p.records.FindByID(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, webhook.RecordStatusError, rec.Status)
}

// An order unknown locally is acknowledged with a diagnostic, never
// retried into a dead end.
func TestIngest_UnknownLocalOrderAcknowledged(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	body := []byte(`{"event":"order.updated","data":{"id":"erp-unknown","statusId":"15"}}`)
	res, err := p.service.Ingest(ctx, webhook.SourceERP, body, erpHeaders(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Code)

	rec, err := p.records.FindByID(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, webhook.RecordStatusSuccess, rec.Status)
	assert.Equal(t, "true", rec.Metadata["order_not_found"])
}

// Unknown resources are acknowledged and audited as ignored.
func TestIngest_UnknownResourceIgnored(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	body := []byte(`{"event":"stock.updated","data":{"id":"x"}}`)
	res, err := p.service.Ingest(ctx, webhook.SourceERP, body, erpHeaders(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Code)

	rec, err := p.records.FindByID(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, webhook.RecordStatusSuccess, rec.Status)
	assert.Equal(t, "true", rec.Metadata["ignored"])
}

// Carrier pings resolve the shipment detail before touching the order.
func TestIngest_CarrierShipment(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	o := seedOrder(t, p.orders, "O-5")
	_, err := o.ApplyStatus(order.StatusInvoiced)
	require.NoError(t, err)
	require.NoError(t, p.orders.Save(ctx, o))

	p.erp.shipments["SHP-9"] = erp.ShipmentDetail{
		Ref:          "SHP-9",
		OrderNumber:  "O-5",
		StatusID:     "posted",
		TrackingCode: "TRK-900",
		Carrier:      "correios",
	}

	body := []byte(`{"topic":"shipment","resource":"SHP-9"}`)
	res, err := p.service.Ingest(ctx, webhook.SourceCarrier, body, http.Header{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Code)

	stored, err := p.orders.FindByOrderNumber(ctx, "O-5")
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, stored.Status)
	assert.Equal(t, "TRK-900", stored.TrackingCode)
	assert.Equal(t, "correios", stored.Carrier)
}

// Exact redelivery with the same event id short-circuits on the dedup
// guard; the record is still audited.
func TestIngest_EventIDDedup(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	o := seedOrder(t, p.orders, "O-6")
	o.ERPOrderID = "erp-66"
	require.NoError(t, p.orders.Save(ctx, o))

	body := []byte(`{"event":"order.updated","eventId":"evt-1","data":{"id":"erp-66","statusId":"15"}}`)

	res, err := p.service.Ingest(ctx, webhook.SourceERP, body, erpHeaders(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Code)

	res, err = p.service.Ingest(ctx, webhook.SourceERP, body, erpHeaders(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Code)

	rec, err := p.records.FindByID(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, webhook.RecordStatusSuccess, rec.Status)
	assert.Equal(t, "true", rec.Metadata["duplicate"])
}

// A storage failure on create aborts before any business logic.
func TestIngest_AuditCreateFailureAborts(t *testing.T) {
	p := newTestPipeline(t)
	p.records.failCreate = true

	body := []byte(`{"event":"order.updated","data":{"id":"erp-1"}}`)
	_, err := p.service.Ingest(context.Background(), webhook.SourceERP, body, erpHeaders(body))
	assert.Error(t, err)
}

// Replay re-runs handling over the stored payload without signature
// verification and links the new record to the original.
func TestIngest_Replay(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	o := seedOrder(t, p.orders, "O-7")
	o.ERPOrderID = "erp-70"
	require.NoError(t, p.orders.Save(ctx, o))

	body := []byte(`{"event":"order.updated","data":{"id":"erp-70","statusId":"18"}}`)
	res, err := p.service.Ingest(ctx, webhook.SourceERP, body, erpHeaders(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Code)

	replayRes, err := p.service.Replay(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, replayRes.Code)
	assert.NotEqual(t, res.RecordID, replayRes.RecordID)

	rec, err := p.records.FindByID(ctx, replayRes.RecordID)
	require.NoError(t, err)
	assert.Equal(t, webhook.RecordStatusSuccess, rec.Status)
	assert.Equal(t, strconv.FormatUint(res.RecordID, 10), rec.Metadata["replayed_from"])
	assert.Equal(t, string(order.ApplyResultUnchanged), rec.Metadata["transition"])

	stored, err := p.orders.FindByOrderNumber(ctx, "O-7")
	require.NoError(t, err)
	assert.Equal(t, order.StatusInvoiced, stored.Status, "replay does not double-apply")

	_, err = p.service.Replay(ctx, 9999)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

// A replay of a delivery whose event id is still inside the dedup
// window is flagged, so operators can tell it apart from a provider
// redelivery that the live path would have swallowed.
func TestIngest_ReplayFlagsActiveDedupWindow(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	o := seedOrder(t, p.orders, "O-9")
	o.ERPOrderID = "erp-90"
	require.NoError(t, p.orders.Save(ctx, o))

	body := []byte(`{"event":"order.updated","eventId":"evt-90","data":{"id":"erp-90","statusId":"15"}}`)
	res, err := p.service.Ingest(ctx, webhook.SourceERP, body, erpHeaders(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Code)

	replayRes, err := p.service.Replay(ctx, res.RecordID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, replayRes.Code)

	rec, err := p.records.FindByID(ctx, replayRes.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "true", rec.Metadata["dedup_active"])
}

// The event marker points LatestRecord at the newest audit record per
// source; sources that never delivered resolve to nothing.
func TestIngest_LatestRecord(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	o := seedOrder(t, p.orders, "O-10")
	o.ERPOrderID = "erp-100"
	require.NoError(t, p.orders.Save(ctx, o))

	first := []byte(`{"event":"order.updated","data":{"id":"erp-100","statusId":"15"}}`)
	_, err := p.service.Ingest(ctx, webhook.SourceERP, first, erpHeaders(first))
	require.NoError(t, err)

	second := []byte(`{"event":"order.updated","data":{"id":"erp-100","statusId":"18"}}`)
	res, err := p.service.Ingest(ctx, webhook.SourceERP, second, erpHeaders(second))
	require.NoError(t, err)

	latest, err := p.service.LatestRecord(ctx, webhook.SourceERP)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, res.RecordID, latest.ID)

	quiet, err := p.service.LatestRecord(ctx, webhook.SourceCarrier)
	require.NoError(t, err)
	assert.Nil(t, quiet)
}

// A dead payment cancels the order while it is still cancellable.
func TestIngest_PaymentRejectedCancelsOrder(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	o := seedOrder(t, p.orders, "O-8")
	o.PaymentID = "P-800"
	require.NoError(t, p.orders.Save(ctx, o))
	p.gateway.payments["P-800"] = PaymentDetail{
		PaymentID:   "P-800",
		OrderNumber: "O-8",
		Status:      "rejected",
	}

	body := []byte(`{"type":"payment","data":{"id":"P-800"}}`)
	res, err := p.service.Ingest(ctx, webhook.SourcePayment, body, paymentHeaders("P-800"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Code)

	stored, err := p.orders.FindByOrderNumber(ctx, "O-8")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, stored.Status)
	assert.Equal(t, order.PaymentStatusRejected, stored.PaymentStatus)
}
