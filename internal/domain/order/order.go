package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storefront/integration/internal/domain/shared"
)

// Status represents the canonical fulfillment status of an order,
// independent of any external system's vocabulary.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusInvoiced   Status = "invoiced"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// pipelineRank orders the fulfillment pipeline. Cancelled is not part of the
// pipeline; it is an absorbing state handled separately.
var pipelineRank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusInvoiced:   2,
	StatusShipped:    3,
	StatusDelivered:  4,
}

// IsValid checks if the status is a valid Status
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusInvoiced, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true for states that accept no further transitions
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// PaymentStatus represents the canonical payment status of an order
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusApproved  PaymentStatus = "approved"
	PaymentStatusRejected  PaymentStatus = "rejected"
	PaymentStatusInProcess PaymentStatus = "in_process"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// IsValid checks if the status is a valid PaymentStatus
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusApproved, PaymentStatusRejected, PaymentStatusInProcess, PaymentStatusCancelled:
		return true
	}
	return false
}

// ApplyResult is the outcome of proposing a status transition
type ApplyResult string

const (
	// ApplyResultApplied means the proposed status replaced the current one
	ApplyResultApplied ApplyResult = "applied"
	// ApplyResultUnchanged means the proposed status equals the current one (idempotent replay)
	ApplyResultUnchanged ApplyResult = "unchanged"
	// ApplyResultRejected means the proposed status would regress the pipeline
	ApplyResultRejected ApplyResult = "rejected"
)

// Order is the local order aggregate reconciled against the external systems.
// Status transitions must go through ApplyStatus so that webhook-driven and
// batch-driven updates obey identical rules.
type Order struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OrderNumber        string          `gorm:"uniqueIndex;not null" json:"order_number"`
	ERPOrderID         string          `gorm:"index" json:"erp_order_id,omitempty"`
	Status             Status          `gorm:"not null;default:pending" json:"status"`
	PaymentStatus      PaymentStatus   `gorm:"not null;default:pending" json:"payment_status"`
	PaymentID          string          `gorm:"index" json:"payment_id,omitempty"`
	Total              decimal.Decimal `gorm:"type:decimal(14,2)" json:"total"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	TrackingCode       string          `json:"tracking_code,omitempty"`
	Carrier            string          `json:"carrier,omitempty"`
	LastExternalSyncAt *time.Time      `json:"last_external_sync_at,omitempty"`
	Version            int64           `gorm:"not null;default:1" json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// TableName returns the table name for GORM
func (Order) TableName() string {
	return "orders"
}

// New creates a new pending order
func New(orderNumber string) (*Order, error) {
	if orderNumber == "" {
		return nil, shared.NewDomainError("INVALID_ORDER_NUMBER", "Order number cannot be empty")
	}
	now := time.Now()
	return &Order{
		ID:            uuid.New(),
		OrderNumber:   orderNumber,
		Status:        StatusPending,
		PaymentStatus: PaymentStatusPending,
		Total:         decimal.Zero,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ApplyStatus proposes a transition to the given canonical status.
// Forward moves along the pipeline and cancellation from any non-terminal
// state are applied; an equal status is an idempotent no-op; a backward move
// is rejected and the current status kept, which protects against
// out-of-order delivery from sources that are not themselves ordered.
func (o *Order) ApplyStatus(proposed Status) (ApplyResult, error) {
	if !proposed.IsValid() {
		return ApplyResultRejected, shared.NewDomainError("INVALID_STATUS", "Unknown canonical status: "+string(proposed))
	}
	if proposed == o.Status {
		return ApplyResultUnchanged, nil
	}
	if proposed == StatusCancelled {
		if o.Status.IsTerminal() {
			return ApplyResultRejected, nil
		}
		o.Status = StatusCancelled
		o.UpdatedAt = time.Now()
		return ApplyResultApplied, nil
	}
	if o.Status == StatusCancelled {
		return ApplyResultRejected, nil
	}
	if pipelineRank[proposed] > pipelineRank[o.Status] {
		o.Status = proposed
		o.UpdatedAt = time.Now()
		return ApplyResultApplied, nil
	}
	return ApplyResultRejected, nil
}

// ApprovePayment records payment approval. The order status may only advance
// from pending to processing on approval; it never regresses an order that has
// already moved further down the pipeline.
func (o *Order) ApprovePayment(paidAt time.Time) (advanced bool) {
	o.PaymentStatus = PaymentStatusApproved
	if o.PaidAt == nil {
		t := paidAt
		o.PaidAt = &t
	}
	o.UpdatedAt = time.Now()
	if o.Status == StatusPending {
		o.Status = StatusProcessing
		return true
	}
	return false
}

// SetPaymentStatus records a non-approval payment status change
func (o *Order) SetPaymentStatus(status PaymentStatus) error {
	if !status.IsValid() {
		return shared.NewDomainError("INVALID_PAYMENT_STATUS", "Unknown payment status: "+string(status))
	}
	o.PaymentStatus = status
	o.UpdatedAt = time.Now()
	return nil
}

// SetTracking records carrier tracking details
func (o *Order) SetTracking(trackingCode, carrier string) {
	if trackingCode != "" {
		o.TrackingCode = trackingCode
	}
	if carrier != "" {
		o.Carrier = carrier
	}
	o.UpdatedAt = time.Now()
}

// LinkERPOrder records the foreign-system identifier once the order is known
// to exist in the ERP. The link is set once and never overwritten.
func (o *Order) LinkERPOrder(erpOrderID string) {
	if o.ERPOrderID == "" && erpOrderID != "" {
		o.ERPOrderID = erpOrderID
		o.UpdatedAt = time.Now()
	}
}

// MarkSynced records the time of the last successful authoritative read-back
func (o *Order) MarkSynced(at time.Time) {
	t := at
	o.LastExternalSyncAt = &t
	o.UpdatedAt = time.Now()
}
