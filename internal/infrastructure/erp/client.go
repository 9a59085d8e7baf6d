// Package erp is the outbound client for the ERP's REST API: authoritative
// read-backs when a notification is incomplete, and compensating writes
// (order create/update). All calls share one process-wide rate limiter so
// webhook workers and batch jobs together stay under the ERP's request limit.
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxResponseSize limits the response body size to prevent memory exhaustion
const maxResponseSize = 4 * 1024 * 1024 // 4MB

// Module is an entry of the ERP's module-discovery endpoint
type Module struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// CatalogStatus is one admin-configurable status definition of an ERP module
type CatalogStatus struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Inherited bool   `json:"inherited"`
}

// OrderSnapshot is the authoritative order state as the ERP sees it
type OrderSnapshot struct {
	ID           string `json:"id"`
	Number       string `json:"number"`
	StatusID     string `json:"status_id"`
	TrackingCode string `json:"tracking_code"`
	Carrier      string `json:"carrier"`
}

// ShipmentDetail is the full record behind a carrier shipment reference
type ShipmentDetail struct {
	Ref          string `json:"ref"`
	OrderNumber  string `json:"order_number"`
	StatusID     string `json:"status_id"`
	TrackingCode string `json:"tracking_code"`
	Carrier      string `json:"carrier"`
}

// UpsertOrderRequest is the compensating order create-or-update push.
// The ERP deduplicates on Number, which makes the call idempotent.
type UpsertOrderRequest struct {
	Number    string          `json:"number"`
	PaymentID string          `json:"payment_id,omitempty"`
	Total     decimal.Decimal `json:"total"`
	PaidAt    *time.Time      `json:"paid_at,omitempty"`
}

// Config holds ERP client settings
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RateLimitPerSec caps the outbound call rate (the observed ERP limit is
	// 3 requests per second)
	RateLimitPerSec float64
	RateBurst       int
	// RateWaitBudget bounds how long a caller may block waiting for a
	// permit before failing with ErrRateBudgetExceeded
	RateWaitBudget time.Duration
}

// Client is the rate-limited ERP API client
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	waitBudget time.Duration
	tokens     TokenProvider
	logger     *zap.Logger
}

// NewClient creates a new ERP client
func NewClient(cfg Config, tokens TokenProvider, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	perSec := cfg.RateLimitPerSec
	if perSec <= 0 {
		perSec = 3
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	waitBudget := cfg.RateWaitBudget
	if waitBudget == 0 {
		waitBudget = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(perSec), burst),
		waitBudget: waitBudget,
		tokens:     tokens,
		logger:     logger.Named("erp-client"),
	}
}

// FetchModules calls the ERP's module-discovery endpoint
func (c *Client) FetchModules(ctx context.Context) ([]Module, error) {
	var out struct {
		Modules []Module `json:"modules"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v2/modules", nil, &out); err != nil {
		return nil, err
	}
	return out.Modules, nil
}

// FetchModuleStatuses fetches the admin-configurable status list of a module
func (c *Client) FetchModuleStatuses(ctx context.Context, moduleID string) ([]CatalogStatus, error) {
	var out struct {
		Statuses []CatalogStatus `json:"statuses"`
	}
	path := fmt.Sprintf("/api/v2/modules/%s/statuses", moduleID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Statuses, nil
}

// FetchSalesStatuses discovers the sales module and returns its status
// catalog. The module identifier is admin-configurable and must be found,
// not assumed.
func (c *Client) FetchSalesStatuses(ctx context.Context) ([]CatalogStatus, error) {
	modules, err := c.FetchModules(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range modules {
		if isSalesModule(m) {
			return c.FetchModuleStatuses(ctx, m.ID)
		}
	}
	return nil, fmt.Errorf("erp: no sales module in discovery response (%d modules)", len(modules))
}

// isSalesModule matches the sales module by kind, falling back to its name
func isSalesModule(m Module) bool {
	if strings.EqualFold(m.Kind, "sales") {
		return true
	}
	name := strings.ToLower(m.Name)
	return strings.Contains(name, "sales") || strings.Contains(name, "venda")
}

// GetOrder reads back the authoritative state of an order by its ERP id
func (c *Client) GetOrder(ctx context.Context, erpOrderID string) (*OrderSnapshot, error) {
	var out OrderSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/v2/orders/"+erpOrderID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpsertOrder pushes a compensating order create-or-update
func (c *Client) UpsertOrder(ctx context.Context, req UpsertOrderRequest) (*OrderSnapshot, error) {
	var out OrderSnapshot
	if err := c.do(ctx, http.MethodPut, "/api/v2/orders", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetShipment resolves the full record behind a carrier shipment reference
func (c *Client) GetShipment(ctx context.Context, ref string) (*ShipmentDetail, error) {
	var out ShipmentDetail
	if err := c.do(ctx, http.MethodGet, "/api/v2/shipments/"+ref, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do executes one API call: permit, token, request, decode
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.acquirePermit(ctx); err != nil {
		return err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}

	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors and timeouts are transient by classification
		return &APIError{StatusCode: http.StatusServiceUnavailable, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &APIError{StatusCode: http.StatusServiceUnavailable, Message: "read response: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var decoded struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Message != "" {
			apiErr.Code = decoded.Code
			apiErr.Message = decoded.Message
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// acquirePermit blocks on the shared limiter with a bounded wait. The limiter
// is process-wide so webhook workers and batch jobs compete for the same
// budget instead of independently exceeding the ERP's limit.
func (c *Client) acquirePermit(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.waitBudget)
	defer cancel()

	if err := c.limiter.Wait(waitCtx); err != nil {
		// Wait fails either with the deadline error or with its own
		// would-exceed-deadline error before blocking at all. Both mean the
		// queue is backed up past the budget, as long as the caller's own
		// context is still live.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("ERP rate limiter queue backed up past wait budget",
			zap.Duration("budget", c.waitBudget))
		return ErrRateBudgetExceeded
	}
	return nil
}
