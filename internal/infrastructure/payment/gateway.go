package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxResponseSize = 1 << 20 // 1MB

// Detail is the authoritative payment state as reported by the gateway.
// Notifications carry only the payment id; everything else comes from here.
type Detail struct {
	PaymentID   string          `json:"id"`
	OrderNumber string          `json:"order_number"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
}

// APIError is a non-2xx gateway response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: status %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether a retry could plausibly succeed
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Config holds payment gateway client settings
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// GatewayClient reads payment state back from the gateway REST API
type GatewayClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGatewayClient creates a new gateway client
func NewGatewayClient(cfg Config, logger *zap.Logger) *GatewayClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &GatewayClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("gateway-client"),
	}
}

// PaymentStatus fetches the authoritative state of a payment by its id
func (c *GatewayClient) PaymentStatus(ctx context.Context, paymentID string) (*Detail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payments/"+paymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{StatusCode: http.StatusServiceUnavailable, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &body) == nil && body.Message != "" {
			apiErr.Message = body.Message
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		c.logger.Warn("gateway call failed",
			zap.String("payment_id", paymentID),
			zap.Int("status", resp.StatusCode))
		return nil, apiErr
	}

	var detail Detail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &detail, nil
}
