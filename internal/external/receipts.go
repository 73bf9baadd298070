package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"steward/internal/config"
	"steward/internal/types"
)

// receiptsAPIBase is the default SendGrid API base URL.
// Overridable in tests via ReceiptClientConfig.BaseURL.
const receiptsAPIBase = "https://api.sendgrid.com"

// ReceiptClientConfig holds the configuration for creating a ReceiptClient.
type ReceiptClientConfig struct {
	Receipts config.ReceiptsConfig
	BaseURL  string // Override for testing; defaults to receiptsAPIBase
	Logger   *slog.Logger
}

// ReceiptClient issues donor tax receipts by making direct HTTP calls to the
// SendGrid v3 Mail Send API through BaseClient, so every send inherits the
// platform's resilience infrastructure (circuit breaker, retries, error
// mapping). It satisfies the receipt sender collaborator used by the
// payment.succeeded handler.
type ReceiptClient struct {
	base    *BaseClient
	cfg     config.ReceiptsConfig
	baseURL string
	logger  *slog.Logger
}

// NewReceiptClient creates a ReceiptClient with a BaseClient configured for
// the receipt provider (short retries; receipt failure blocks webhook
// acknowledgement, so total latency must stay inside the request timeout).
func NewReceiptClient(httpClient *http.Client, cfg ReceiptClientConfig) *ReceiptClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = receiptsAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"receipts",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"Steward/1.0",
	)

	return &ReceiptClient{
		base:    base,
		cfg:     cfg.Receipts,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// NewReceiptClientWithBase creates a ReceiptClient with a pre-configured
// BaseClient. Useful for testing when you want to control the BaseClient
// configuration (e.g., disable retries).
func NewReceiptClientWithBase(base *BaseClient, cfg ReceiptClientConfig) *ReceiptClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = receiptsAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ReceiptClient{
		base:    base,
		cfg:     cfg.Receipts,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Send issues a receipt email using the provider's dynamic template API.
//
// Error mapping:
//   - 429 Too Many Requests -> handled by BaseClient (retry + upstream_rate_limited)
//   - 5xx -> handled by BaseClient (retry + upstream_unavailable)
//   - Other 4xx -> upstream_email_provider_unavailable
func (c *ReceiptClient) Send(ctx context.Context, input types.ReceiptInput) error {
	payload := c.buildMailPayload(input)

	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal receipt mail payload",
			err,
		)
	}

	reqURL := c.baseURL + "/v3/mail/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create receipt send request",
			err,
		)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return c.wrapTransportError(err)
	}
	defer resp.Body.Close()

	// The provider returns 202 Accepted on success.
	if resp.StatusCode == http.StatusAccepted {
		c.logger.Info("receipt queued with email provider",
			"template_id", payload.TemplateID,
		)
		return nil
	}

	return c.handleErrorResponse(resp)
}

// mailPayload represents the provider's v3 mail/send JSON request body using
// dynamic templates.
type mailPayload struct {
	Personalizations []personalization `json:"personalizations"`
	From             mailAddress       `json:"from"`
	TemplateID       string            `json:"template_id"`
}

type personalization struct {
	To          []mailAddress  `json:"to"`
	DynamicData map[string]any `json:"dynamic_template_data,omitempty"`
}

type mailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (c *ReceiptClient) buildMailPayload(input types.ReceiptInput) mailPayload {
	templateID := input.TemplateID
	if templateID == "" {
		templateID = c.cfg.TemplateID
	}

	return mailPayload{
		Personalizations: []personalization{
			{
				To:          []mailAddress{{Email: input.Recipient}},
				DynamicData: input.Data,
			},
		},
		From: mailAddress{
			Email: c.cfg.FromAddress,
			Name:  c.cfg.FromName,
		},
		TemplateID: templateID,
	}
}

// providerErrorResponse represents the JSON error body returned by the
// email provider.
type providerErrorResponse struct {
	Errors []providerErrorDetail `json:"errors"`
}

type providerErrorDetail struct {
	Message string `json:"message"`
	Field   string `json:"field"`
}

// handleErrorResponse reads a provider error response and maps it to a
// types.AppError.
func (c *ReceiptClient) handleErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("email provider returned status %d and response body was unreadable", resp.StatusCode),
			readErr,
		)
	}

	var provErr providerErrorResponse
	errMsg := string(body)
	if jsonErr := json.Unmarshal(body, &provErr); jsonErr == nil && len(provErr.Errors) > 0 {
		errMsg = provErr.Errors[0].Message
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			"email provider rate limit exceeded",
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("email provider server error: %s", errMsg),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("email provider error (%d): %s", resp.StatusCode, errMsg),
			nil,
		)
	}
}

// wrapTransportError wraps a BaseClient transport error with context.
func (c *ReceiptClient) wrapTransportError(err error) error {
	// AppErrors from BaseClient (circuit breaker, retries exhausted) already
	// carry the right error code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("receipt send request failed: %v", err),
		err,
	)
}
