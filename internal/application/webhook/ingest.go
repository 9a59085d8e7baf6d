package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/integration/internal/domain/shared"
	"github.com/storefront/integration/internal/domain/webhook"
	"github.com/storefront/integration/internal/infrastructure/cache"
	"github.com/storefront/integration/internal/infrastructure/erp"
	"github.com/storefront/integration/internal/infrastructure/signature"
	"github.com/storefront/integration/internal/infrastructure/telemetry"
)

// IngestResult is what the HTTP layer acknowledges to the source.
type IngestResult struct {
	RecordID uint64
	Code     int
	// Message is a short human-readable outcome for the ack body.
	Message string
}

// IngestMetrics is the telemetry surface of the pipeline.
// telemetry.WebhookMetrics implements it.
type IngestMetrics interface {
	RecordReceived(ctx context.Context, source webhook.Source)
	RecordProcessed(ctx context.Context, source webhook.Source, outcome string, elapsed time.Duration)
}

// IngestConfig holds pipeline tunables.
type IngestConfig struct {
	// DedupTTL is how long a source event id blocks exact redelivery.
	DedupTTL time.Duration
}

// IngestService runs the full inbound pipeline: durable audit record,
// signature check, envelope decode, dedup, dispatch, outcome bookkeeping.
// Every branch writes its outcome to the audit record before returning.
type IngestService struct {
	records  webhook.RecordRepository
	verifier *signature.Verifier
	router   *Router
	dedup    shared.DedupStore
	marker   cache.EventMarker
	metrics  IngestMetrics
	cfg      IngestConfig
	logger   *zap.Logger
}

// NewIngestService wires the pipeline. dedup, marker and metrics may be
// nil; the corresponding step is skipped.
func NewIngestService(
	records webhook.RecordRepository,
	verifier *signature.Verifier,
	router *Router,
	dedup shared.DedupStore,
	marker cache.EventMarker,
	metrics IngestMetrics,
	cfg IngestConfig,
	logger *zap.Logger,
) *IngestService {
	if cfg.DedupTTL == 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	return &IngestService{
		records:  records,
		verifier: verifier,
		router:   router,
		dedup:    dedup,
		marker:   marker,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger.Named("ingest"),
	}
}

// Ingest processes one inbound notification. The returned error is only
// non-nil when the audit record itself could not be created; every other
// failure is reflected in the result code.
func (s *IngestService) Ingest(ctx context.Context, source webhook.Source, body []byte, headers http.Header) (IngestResult, error) {
	started := time.Now()

	rec, err := webhook.NewRecord(source, body, headerMetadata(headers))
	if err != nil {
		return IngestResult{}, err
	}
	if err := s.records.Create(ctx, rec); err != nil {
		// Never process an unlogged event.
		s.logger.Error("audit record creation failed", zap.Error(err))
		return IngestResult{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordReceived(ctx, source)
	}
	s.publishMarker(ctx, source, rec.ID)

	result := s.process(ctx, rec, source, body, headers)

	if s.metrics != nil {
		s.metrics.RecordProcessed(ctx, source, outcomeFor(result), time.Since(started))
	}
	return result, nil
}

// outcomeFor buckets a result for the processed-total metric.
func outcomeFor(result IngestResult) string {
	switch {
	case result.Message == "duplicate":
		return telemetry.OutcomeDuplicate
	case result.Code == http.StatusUnauthorized:
		return telemetry.OutcomeRejected
	case result.Code >= 200 && result.Code < 300:
		return telemetry.OutcomeSuccess
	default:
		return telemetry.OutcomeError
	}
}

// process runs everything after the durable create. All failure paths
// mark the record before returning.
func (s *IngestService) process(ctx context.Context, rec *webhook.Record, source webhook.Source, body []byte, headers http.Header) IngestResult {
	env, err := DecodeEnvelope(source, body)
	if err != nil {
		return s.fail(ctx, rec, err.Error(), http.StatusBadRequest)
	}

	if err := s.records.UpdateRouting(ctx, rec.ID, env.EventType, env.Resource, env.Action, env.EventID); err != nil {
		s.logger.Warn("routing update failed", zap.Uint64("record_id", rec.ID), zap.Error(err))
	}
	rec.SetRouting(env.EventType, env.Resource, env.Action, env.EventID)

	if err := s.verifier.Verify(source, body, headers, env.Ref); err != nil {
		return s.fail(ctx, rec, err.Error(), http.StatusUnauthorized)
	}

	if dup := s.isDuplicate(ctx, env); dup {
		if err := s.records.MarkSuccess(ctx, rec.ID, http.StatusOK, webhook.Metadata{"duplicate": "true"}); err != nil {
			s.logger.Warn("marking duplicate failed", zap.Uint64("record_id", rec.ID), zap.Error(err))
		}
		return IngestResult{RecordID: rec.ID, Code: http.StatusOK, Message: "duplicate"}
	}

	if err := s.records.MarkProcessing(ctx, rec.ID); err != nil {
		return s.fail(ctx, rec, "record lifecycle error: "+err.Error(), http.StatusInternalServerError)
	}

	handled, err := s.router.Dispatch(ctx, rec, env)
	if err != nil {
		code := classifyHandlerError(err)
		s.logger.Error("handler failed",
			zap.Uint64("record_id", rec.ID),
			zap.String("source", string(source)),
			zap.String("resource", env.Resource),
			zap.Int("code", code),
			zap.Error(err),
		)
		return s.fail(ctx, rec, err.Error(), code)
	}

	code := handled.Code
	if code == 0 {
		code = http.StatusOK
	}
	if err := s.records.MarkSuccess(ctx, rec.ID, code, handled.Metadata); err != nil {
		s.logger.Warn("marking success failed", zap.Uint64("record_id", rec.ID), zap.Error(err))
	}
	return IngestResult{RecordID: rec.ID, Code: code, Message: "ok"}
}

// Replay re-runs routing and handling over the stored payload of an
// existing record. Signature verification is skipped: it was proven when
// the payload was first received. The replay gets its own audit record.
func (s *IngestService) Replay(ctx context.Context, recordID uint64) (IngestResult, error) {
	orig, err := s.records.FindByID(ctx, recordID)
	if err != nil {
		return IngestResult{}, err
	}

	rec, err := webhook.NewRecord(orig.Source, orig.RawPayload, orig.Headers)
	if err != nil {
		return IngestResult{}, err
	}
	rec.Metadata["replayed_from"] = strconv.FormatUint(orig.ID, 10)
	if err := s.records.Create(ctx, rec); err != nil {
		return IngestResult{}, err
	}

	env, err := DecodeEnvelope(orig.Source, orig.RawPayload)
	if err != nil {
		res := s.fail(ctx, rec, err.Error(), http.StatusBadRequest)
		return res, nil
	}

	if err := s.records.UpdateRouting(ctx, rec.ID, env.EventType, env.Resource, env.Action, env.EventID); err != nil {
		s.logger.Warn("routing update failed", zap.Uint64("record_id", rec.ID), zap.Error(err))
	}
	rec.SetRouting(env.EventType, env.Resource, env.Action, env.EventID)
	s.annotateDedupWindow(ctx, rec.ID, env)

	if err := s.records.MarkProcessing(ctx, rec.ID); err != nil {
		return s.fail(ctx, rec, "record lifecycle error: "+err.Error(), http.StatusInternalServerError), nil
	}

	handled, err := s.router.Dispatch(ctx, rec, env)
	if err != nil {
		code := classifyHandlerError(err)
		return s.fail(ctx, rec, err.Error(), code), nil
	}

	code := handled.Code
	if code == 0 {
		code = http.StatusOK
	}
	if err := s.records.MarkSuccess(ctx, rec.ID, code, handled.Metadata); err != nil {
		s.logger.Warn("marking success failed", zap.Uint64("record_id", rec.ID), zap.Error(err))
	}
	return IngestResult{RecordID: rec.ID, Code: code, Message: "ok"}, nil
}

// annotateDedupWindow records on a replay whether the original event id
// would still be swallowed as a duplicate on the live path. Operators use
// it to tell a replay apart from a provider redelivery still in flight.
func (s *IngestService) annotateDedupWindow(ctx context.Context, recordID uint64, env Envelope) {
	if s.dedup == nil || env.EventID == "" {
		return
	}
	active, err := s.dedup.IsProcessed(ctx, string(env.Source)+":"+env.EventID)
	if err != nil {
		s.logger.Warn("dedup lookup failed", zap.Uint64("record_id", recordID), zap.Error(err))
		return
	}
	if !active {
		return
	}
	if err := s.records.AddMetadata(ctx, recordID, webhook.Metadata{"dedup_active": "true"}); err != nil {
		s.logger.Warn("metadata update failed", zap.Uint64("record_id", recordID), zap.Error(err))
	}
}

// LatestRecord resolves the most recent delivery seen for source via the
// event marker and loads its audit record. Returns (nil, nil) when no
// delivery was seen within the marker TTL or no marker is configured.
func (s *IngestService) LatestRecord(ctx context.Context, source webhook.Source) (*webhook.Record, error) {
	if s.marker == nil {
		return nil, nil
	}
	last, err := s.marker.Last(ctx, source)
	if err != nil {
		return nil, err
	}
	if last == "" {
		return nil, nil
	}
	recordID, err := strconv.ParseUint(last, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt event marker for %s: %w", source, err)
	}
	return s.records.FindByID(ctx, recordID)
}

// fail marks the record as errored and mirrors the code in the result.
func (s *IngestService) fail(ctx context.Context, rec *webhook.Record, message string, code int) IngestResult {
	if err := s.records.MarkError(ctx, rec.ID, message, code); err != nil {
		s.logger.Error("marking error failed", zap.Uint64("record_id", rec.ID), zap.Error(err))
	}
	return IngestResult{RecordID: rec.ID, Code: code, Message: message}
}

// isDuplicate consumes the SETNX guard for the envelope's event id.
// Sources without event ids are never deduplicated here; handler
// idempotency covers them.
func (s *IngestService) isDuplicate(ctx context.Context, env Envelope) bool {
	if s.dedup == nil || env.EventID == "" {
		return false
	}
	fresh, err := s.dedup.MarkProcessed(ctx, string(env.Source)+":"+env.EventID, s.cfg.DedupTTL)
	if err != nil {
		// Dedup is an optimization; on store failure fall through to the
		// idempotent handler path.
		s.logger.Warn("dedup check failed", zap.Error(err))
		return false
	}
	return !fresh
}

func (s *IngestService) publishMarker(ctx context.Context, source webhook.Source, recordID uint64) {
	if s.marker == nil {
		return
	}
	if err := s.marker.Mark(ctx, source, strconv.FormatUint(recordID, 10)); err != nil {
		s.logger.Warn("event marker failed", zap.Error(err))
	}
}

// classifyHandlerError maps handler failures onto the response taxonomy:
// deterministic input problems are 400, everything else 500.
func classifyHandlerError(err error) int {
	if errors.Is(err, shared.ErrConcurrencyConflict) {
		return http.StatusInternalServerError
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return http.StatusBadRequest
	}
	var apiErr *erp.APIError
	if errors.As(err, &apiErr) && apiErr.IsValidation() {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// headerMetadata flattens the headers worth auditing. Full header dumps
// would store secrets; only correlation headers are kept.
func headerMetadata(headers http.Header) webhook.Metadata {
	meta := webhook.Metadata{}
	for _, name := range []string{
		signature.ERPSignatureHeader,
		signature.PaymentSignatureHeader,
		signature.PaymentRequestIDHeader,
		"Content-Type",
		"User-Agent",
	} {
		if v := headers.Get(name); v != "" {
			meta[name] = v
		}
	}
	return meta
}

var _ IngestMetrics = (*telemetry.WebhookMetrics)(nil)
