package dto

import (
	"time"

	"github.com/storefront/integration/internal/domain/webhook"
)

// RecordListRequest holds the audit listing query parameters
type RecordListRequest struct {
	Source   string `form:"source" binding:"omitempty,webhooksource"`
	Status   string `form:"status" binding:"omitempty,oneof=received processing success error"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=200"`
}

// ToFilter converts the request into a domain filter
func (r RecordListRequest) ToFilter() webhook.RecordFilter {
	return webhook.RecordFilter{
		Source:   webhook.Source(r.Source),
		Status:   webhook.RecordStatus(r.Status),
		Page:     r.Page,
		PageSize: r.PageSize,
	}
}

// RecordIDRequest binds the audit record id path parameter
type RecordIDRequest struct {
	ID uint64 `uri:"id" binding:"required,min=1"`
}

// LatestRecordRequest binds the latest-delivery query parameter
type LatestRecordRequest struct {
	Source string `form:"source" binding:"required,webhooksource"`
}

// RecordResponse is the API shape of an audit record. The raw payload is
// intentionally omitted from list responses.
type RecordResponse struct {
	ID           uint64            `json:"id"`
	Source       string            `json:"source"`
	EventID      string            `json:"event_id,omitempty"`
	EventType    string            `json:"event_type,omitempty"`
	Resource     string            `json:"resource,omitempty"`
	Action       string            `json:"action,omitempty"`
	Status       string            `json:"status"`
	ResponseCode int               `json:"response_code"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ReceivedAt   time.Time         `json:"received_at"`
	ProcessedAt  *time.Time        `json:"processed_at,omitempty"`
}

// NewRecordResponse maps a domain record to its API shape
func NewRecordResponse(r *webhook.Record) RecordResponse {
	return RecordResponse{
		ID:           r.ID,
		Source:       string(r.Source),
		EventID:      r.EventID,
		EventType:    r.EventType,
		Resource:     r.Resource,
		Action:       r.Action,
		Status:       string(r.Status),
		ResponseCode: r.ResponseCode,
		ErrorMessage: r.ErrorMessage,
		Metadata:     r.Metadata,
		ReceivedAt:   r.ReceivedAt,
		ProcessedAt:  r.ProcessedAt,
	}
}

// NewRecordResponseList maps a slice of domain records
func NewRecordResponseList(records []webhook.Record) []RecordResponse {
	out := make([]RecordResponse, len(records))
	for i := range records {
		out[i] = NewRecordResponse(&records[i])
	}
	return out
}

// ReplayResponse is returned by the admin replay endpoint
type ReplayResponse struct {
	OriginalID   uint64 `json:"original_id"`
	ReplayID     uint64 `json:"replay_id"`
	ResponseCode int    `json:"response_code"`
}

// IngestResponse acknowledges an inbound webhook
type IngestResponse struct {
	RecordID uint64 `json:"record_id"`
	Message  string `json:"message"`
}

// ReconcileRunResponse is the API shape of a reconciliation pass report
type ReconcileRunResponse struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Examined    int       `json:"examined"`
	Advanced    int       `json:"advanced"`
	Unchanged   int       `json:"unchanged"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
}

// HealthResponse reports component health
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}
