package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edgard/funnelbot/internal/config"
	"github.com/edgard/funnelbot/internal/funnel"
)

const maxErrorBody = 512

// HTTPClient is a Gateway backed by the gateway's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   *RetryPolicy
	logger  *slog.Logger
}

// NewHTTPClient creates a gateway client from configuration.
func NewHTTPClient(cfg config.PaymentConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	retry := DefaultRetryPolicy()
	retry.MaxAttempts = cfg.MaxRetries + 1
	if cfg.RetryBaseDelay > 0 {
		retry.InitialDelay = cfg.RetryBaseDelay
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		retry:   retry,
		logger:  logger.With("component", "payment_gateway"),
	}
}

type createChargeRequest struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	Payer       payer   `json:"payer"`
	Reference   string  `json:"external_reference,omitempty"`
}

type payer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type chargeResponse struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Amount float64 `json:"amount"`
	PIX    struct {
		Code   string `json:"copy_paste"`
		QRCode string `json:"qr_code_base64"`
	} `json:"pix"`
}

// Create issues a new charge. It is never retried, so a timeout cannot
// produce a duplicate charge.
func (c *HTTPClient) Create(ctx context.Context, req CreateRequest) (*funnel.Charge, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: invalid amount %.2f", ErrGateway, req.Amount)
	}

	body, err := json.Marshal(createChargeRequest{
		Amount:      req.Amount,
		Description: req.Description,
		Payer:       payer{Name: req.PayerName, Email: req.PayerEmail},
		Reference:   req.Reference,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode charge request: %w", err)
	}

	var resp chargeResponse
	if err := c.do(ctx, http.MethodPost, "/charges", body, &resp); err != nil {
		c.logger.ErrorContext(ctx, "Failed to create charge", "amount", req.Amount, "error", err)
		return nil, err
	}
	if resp.ID == "" || resp.PIX.Code == "" {
		return nil, fmt.Errorf("%w: incomplete charge response", ErrGateway)
	}

	amount := resp.Amount
	if amount == 0 {
		amount = req.Amount
	}
	c.logger.InfoContext(ctx, "Charge created", "charge_id", resp.ID, "amount", amount)
	return &funnel.Charge{
		ID:     resp.ID,
		Amount: amount,
		Status: MapStatus(resp.Status),
		Code:   resp.PIX.Code,
		QRCode: resp.PIX.QRCode,
	}, nil
}

// Status queries the current status of a charge, retrying transient failures.
func (c *HTTPClient) Status(ctx context.Context, chargeID string) (funnel.ChargeStatus, error) {
	if chargeID == "" {
		return "", fmt.Errorf("%w: empty charge id", ErrGateway)
	}

	var resp chargeResponse
	err := c.retry.Execute(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/charges/"+url.PathEscape(chargeID), nil, &resp)
	})
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to query charge status", "charge_id", chargeID, "error", err)
		return "", err
	}

	status := MapStatus(resp.Status)
	c.logger.DebugContext(ctx, "Charge status", "charge_id", chargeID, "raw", resp.Status, "status", status)
	return status, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := fmt.Errorf("%w: %s %s returned %d: %s", ErrGateway, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
			return permanent(err)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return permanent(fmt.Errorf("%w: malformed response: %w", ErrGateway, err))
	}
	return nil
}
