package webhook

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/storefront/integration/internal/domain/shared"
)

// Source identifies the external system that pushed a notification
type Source string

const (
	SourceERP     Source = "erp"
	SourcePayment Source = "payment"
	SourceCarrier Source = "carrier"
)

// IsValid checks if the source is a known Source
func (s Source) IsValid() bool {
	switch s {
	case SourceERP, SourcePayment, SourceCarrier:
		return true
	}
	return false
}

// String returns the string representation of Source
func (s Source) String() string {
	return string(s)
}

// RecordStatus represents the processing state of a webhook record.
// It only moves forward: received -> processing -> success | error.
type RecordStatus string

const (
	RecordStatusReceived   RecordStatus = "received"
	RecordStatusProcessing RecordStatus = "processing"
	RecordStatusSuccess    RecordStatus = "success"
	RecordStatusError      RecordStatus = "error"
)

// Metadata is the open key/value bag accumulated by handlers during
// processing. Merges are last-writer-wins per key.
type Metadata map[string]string

// Value implements driver.Valuer, storing the bag as JSON
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata column type %T", value)
	}
	if len(b) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(b, m)
}

// Merge applies the patch onto the bag, last writer wins per key
func (m Metadata) Merge(patch Metadata) {
	for k, v := range patch {
		m[k] = v
	}
}

// Record is the durable audit entry for one inbound notification. The raw
// payload is stored verbatim and is immutable once written; signature
// verification and replay operate on exactly what was received.
type Record struct {
	ID           uint64       `gorm:"primaryKey;autoIncrement" json:"id"`
	Source       Source       `gorm:"index;not null" json:"source"`
	EventID      string       `gorm:"index" json:"event_id,omitempty"`
	EventType    string       `json:"event_type"`
	Resource     string       `json:"resource"`
	Action       string       `json:"action"`
	Status       RecordStatus `gorm:"index;not null;default:received" json:"status"`
	RawPayload   []byte       `json:"-"`
	Headers      Metadata     `gorm:"type:text" json:"headers,omitempty"`
	ResponseCode int          `json:"response_code"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Metadata     Metadata     `gorm:"type:text" json:"metadata"`
	ReceivedAt   time.Time    `gorm:"index" json:"received_at"`
	ProcessedAt  *time.Time   `json:"processed_at,omitempty"`
}

// TableName returns the table name for GORM
func (Record) TableName() string {
	return "webhook_records"
}

// NewRecord creates a record in the received state. It must be persisted
// before any business logic looks at the payload.
func NewRecord(source Source, rawPayload []byte, headers Metadata) (*Record, error) {
	if !source.IsValid() {
		return nil, shared.NewDomainError("INVALID_SOURCE", "Unknown webhook source: "+string(source))
	}
	if headers == nil {
		headers = Metadata{}
	}
	return &Record{
		Source:     source,
		Status:     RecordStatusReceived,
		RawPayload: rawPayload,
		Headers:    headers,
		Metadata:   Metadata{},
		ReceivedAt: time.Now(),
	}, nil
}

// SetRouting records the decoded envelope discriminators
func (r *Record) SetRouting(eventType, resource, action, eventID string) {
	r.EventType = eventType
	r.Resource = resource
	r.Action = action
	r.EventID = eventID
}

// BeginProcessing moves the record from received to processing
func (r *Record) BeginProcessing() error {
	if r.Status != RecordStatusReceived {
		return shared.ErrInvalidState
	}
	r.Status = RecordStatusProcessing
	return nil
}

// Complete moves the record to success with the response code sent back
func (r *Record) Complete(responseCode int) error {
	if r.Status != RecordStatusReceived && r.Status != RecordStatusProcessing {
		return shared.ErrInvalidState
	}
	now := time.Now()
	r.Status = RecordStatusSuccess
	r.ResponseCode = responseCode
	r.ProcessedAt = &now
	return nil
}

// Fail moves the record to error with the failure context
func (r *Record) Fail(message string, responseCode int) error {
	if r.Status == RecordStatusSuccess || r.Status == RecordStatusError {
		return shared.ErrInvalidState
	}
	now := time.Now()
	r.Status = RecordStatusError
	r.ErrorMessage = message
	r.ResponseCode = responseCode
	r.ProcessedAt = &now
	return nil
}
