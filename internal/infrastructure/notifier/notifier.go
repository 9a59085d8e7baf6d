// Package notifier delivers operational alerts raised during webhook
// processing, such as a paid order that could not be written to the ERP.
package notifier

import (
	"context"

	"go.uber.org/zap"
)

// Severity levels for alerts.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Alert is a single operational notification.
type Alert struct {
	Severity string
	Subject  string
	Message  string
	Fields   map[string]string
}

// Notifier delivers alerts to operators. Implementations must be safe
// for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log. It is the default
// sink; deployments that page on log patterns build on top of it.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, alert Alert) error {
	fields := make([]zap.Field, 0, len(alert.Fields)+2)
	fields = append(fields,
		zap.String("subject", alert.Subject),
		zap.String("severity", alert.Severity),
	)
	for k, v := range alert.Fields {
		fields = append(fields, zap.String(k, v))
	}

	switch alert.Severity {
	case SeverityError:
		n.logger.Error(alert.Message, fields...)
	case SeverityWarning:
		n.logger.Warn(alert.Message, fields...)
	default:
		n.logger.Info(alert.Message, fields...)
	}
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
