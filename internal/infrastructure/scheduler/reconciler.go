package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/integration/internal/application/reconcile"
	"github.com/storefront/integration/internal/domain/order"
	"github.com/storefront/integration/internal/domain/webhook"
	"github.com/storefront/integration/internal/infrastructure/config"
	"github.com/storefront/integration/internal/infrastructure/erp"
)

var (
	// ErrReconcilerNotRunning is returned when triggering a stopped reconciler
	ErrReconcilerNotRunning = errors.New("reconciler is not running")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid reconciler configuration")
)

// ERPReader reads order state back from the ERP.
type ERPReader interface {
	GetOrder(ctx context.Context, erpOrderID string) (*erp.OrderSnapshot, error)
}

// StatusResolver maps an external status identifier to the canonical status.
type StatusResolver interface {
	Resolve(ctx context.Context, source webhook.Source, externalID string) order.Status
}

// Metrics is the subset of telemetry the reconciler reports.
type Metrics interface {
	RecordReconciled(ctx context.Context, outcome string)
}

// RunReport summarizes one reconciliation pass.
type RunReport struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Examined    int
	Advanced    int
	Unchanged   int
	Skipped     int
	Failed      int
}

// Reconciler periodically sweeps orders that have not been confirmed
// against the ERP recently and replays their authoritative state through
// the same transition path the webhooks use. It covers the delivery gaps
// webhooks leave: lost notifications, extended downtime, out-of-band
// status changes.
type Reconciler struct {
	cfg      config.ReconcileConfig
	orders   order.Repository
	reader   ERPReader
	resolver StatusResolver
	engine   *reconcile.Engine
	metrics  Metrics
	logger   *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// Recent run reports for monitoring (in-memory, limited size)
	historyMu  sync.RWMutex
	history    []RunReport
	maxHistory int

	trigger chan struct{}
}

// NewReconciler creates a reconciler. metrics may be nil.
func NewReconciler(
	cfg config.ReconcileConfig,
	orders order.Repository,
	reader ERPReader,
	resolver StatusResolver,
	engine *reconcile.Engine,
	metrics Metrics,
	logger *zap.Logger,
) (*Reconciler, error) {
	if cfg.Interval <= 0 || cfg.StaleAfter <= 0 || cfg.BatchSize <= 0 {
		return nil, ErrInvalidConfig
	}
	return &Reconciler{
		cfg:        cfg,
		orders:     orders,
		reader:     reader,
		resolver:   resolver,
		engine:     engine,
		metrics:    metrics,
		logger:     logger.Named("reconciler"),
		maxHistory: 50,
		trigger:    make(chan struct{}, 1),
	}, nil
}

// Start launches the periodic sweep loop.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = true
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.loop(ctx)

	r.logger.Info("Reconciler started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("stale_after", r.cfg.StaleAfter),
		zap.Int("batch_size", r.cfg.BatchSize),
	)
	return nil
}

// Stop gracefully stops the reconciler.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Reconciler stopped gracefully")
		return nil
	case <-ctx.Done():
		r.logger.Warn("Reconciler stop timed out")
		return ctx.Err()
	}
}

// TriggerNow requests an immediate sweep outside the regular interval.
func (r *Reconciler) TriggerNow() error {
	r.mu.Lock()
	running := r.isRunning
	r.mu.Unlock()
	if !running {
		return ErrReconcilerNotRunning
	}

	select {
	case r.trigger <- struct{}{}:
	default:
		// A sweep is already pending
	}
	return nil
}

// History returns recent run reports, newest first.
func (r *Reconciler) History(limit int) []RunReport {
	r.historyMu.RLock()
	defer r.historyMu.RUnlock()

	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	result := make([]RunReport, limit)
	copy(result, r.history[:limit])
	return result
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.trigger:
		}
		report := r.RunOnce(ctx)
		r.addToHistory(report)
	}
}

// RunOnce executes a single reconciliation pass over the stale batch.
// Failures are isolated per order; one unreachable ERP record never
// aborts the sweep.
func (r *Reconciler) RunOnce(ctx context.Context) RunReport {
	report := RunReport{StartedAt: time.Now()}
	cutoff := report.StartedAt.Add(-r.cfg.StaleAfter)

	stale, err := r.orders.FindStale(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("stale order query failed", zap.Error(err))
		report.CompletedAt = time.Now()
		return report
	}

	for i := range stale {
		o := &stale[i]
		report.Examined++

		outcome := r.reconcileOrder(ctx, o)
		switch outcome {
		case "advanced":
			report.Advanced++
		case "unchanged":
			report.Unchanged++
		case "skipped":
			report.Skipped++
		default:
			report.Failed++
		}
		if r.metrics != nil {
			r.metrics.RecordReconciled(ctx, outcome)
		}
	}

	report.CompletedAt = time.Now()
	r.logger.Info("Reconciliation pass completed",
		zap.Int("examined", report.Examined),
		zap.Int("advanced", report.Advanced),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", report.CompletedAt.Sub(report.StartedAt)),
	)
	return report
}

func (r *Reconciler) reconcileOrder(ctx context.Context, o *order.Order) string {
	if o.ERPOrderID == "" {
		// Nothing to read back against until a payment links the order
		return "skipped"
	}

	snapshot, err := r.reader.GetOrder(ctx, o.ERPOrderID)
	if err != nil {
		r.logger.Warn("ERP read-back failed",
			zap.String("order_number", o.OrderNumber),
			zap.String("erp_order_id", o.ERPOrderID),
			zap.Error(err),
		)
		return "error"
	}

	if snapshot.TrackingCode != "" || snapshot.Carrier != "" {
		if err := r.engine.SetTracking(ctx, o, snapshot.TrackingCode, snapshot.Carrier); err != nil {
			r.logger.Warn("tracking update failed",
				zap.String("order_number", o.OrderNumber),
				zap.Error(err),
			)
		}
	}

	outcome := "unchanged"
	if snapshot.StatusID != "" {
		status := r.resolver.Resolve(ctx, webhook.SourceERP, snapshot.StatusID)
		result, err := r.engine.ApplyStatus(ctx, o, status)
		if err != nil {
			r.logger.Error("reconciliation transition failed",
				zap.String("order_number", o.OrderNumber),
				zap.Error(err),
			)
			return "error"
		}
		if result.Result == order.ApplyResultApplied {
			outcome = "advanced"
		}
	}

	if err := r.engine.MarkSynced(ctx, o, time.Now()); err != nil {
		r.logger.Warn("sync timestamp update failed",
			zap.String("order_number", o.OrderNumber),
			zap.Error(err),
		)
	}
	return outcome
}

func (r *Reconciler) addToHistory(report RunReport) {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()

	r.history = append([]RunReport{report}, r.history...)
	if len(r.history) > r.maxHistory {
		r.history = r.history[:r.maxHistory]
	}
}
