package webhook

import "context"

// RecordFilter holds the audit query parameters
type RecordFilter struct {
	Source   Source
	Status   RecordStatus
	Page     int
	PageSize int
}

// RecordRepository defines the interface for webhook record persistence.
// Records are append/update only and never deleted.
type RecordRepository interface {
	// Create durably inserts a record before any business logic runs.
	// A failure here must abort processing of the notification.
	Create(ctx context.Context, r *Record) error

	// FindByID finds a record by ID
	FindByID(ctx context.Context, id uint64) (*Record, error)

	// UpdateRouting stores the decoded envelope discriminators once the
	// body has been parsed
	UpdateRouting(ctx context.Context, id uint64, eventType, resource, action, eventID string) error

	// MarkProcessing moves a record to processing
	MarkProcessing(ctx context.Context, id uint64) error

	// MarkSuccess moves a record to success and merges the metadata patch
	MarkSuccess(ctx context.Context, id uint64, responseCode int, patch Metadata) error

	// MarkError moves a record to error with the failure context
	MarkError(ctx context.Context, id uint64, message string, responseCode int) error

	// AddMetadata merges the patch into the record's metadata bag,
	// last writer wins per key
	AddMetadata(ctx context.Context, id uint64, patch Metadata) error

	// ListRecent lists records newest-first with filtering and pagination
	ListRecent(ctx context.Context, filter RecordFilter) ([]Record, int64, error)
}
