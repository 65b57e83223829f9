// Package client talks to the funding API's read-only status and manual
// fallback endpoints on behalf of a signed-in user.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
)

// APIError is a non-success envelope returned by the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap lets callers branch on the domain sentinels.
func (e *APIError) Unwrap() error {
	switch {
	case e.Code == "GATEWAY_UNAVAILABLE":
		return domain.ErrGatewayUnavailable
	case e.Code == "GATEWAY_REJECTED":
		return domain.ErrGatewayRejected
	case e.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case e.StatusCode == http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case e.StatusCode == http.StatusBadRequest:
		return domain.ErrInvalidRequest
	default:
		return nil
	}
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type intentBody struct {
	Reference        string     `json:"reference"`
	Status           string     `json:"status"`
	Amount           int64      `json:"amount"`
	Currency         string     `json:"currency"`
	FailureReason    *string    `json:"failure_reason"`
	AuthorizationURL *string    `json:"authorization_url"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CreditedAt       *time.Time `json:"credited_at"`
}

type resultBody struct {
	Reference string  `json:"reference"`
	Outcome   string  `json:"outcome"`
	Amount    int64   `json:"amount"`
	Reason    *string `json:"reason"`
}

// Status fetches the stored state of reference. It never triggers a gateway
// call on the server.
func (c *Client) Status(ctx context.Context, reference string) (*domain.PaymentIntent, error) {
	var body intentBody
	if err := c.do(ctx, http.MethodGet, "/payments/status", reference, &body); err != nil {
		return nil, fmt.Errorf("Status: %w", err)
	}

	intent := &domain.PaymentIntent{
		Reference:        body.Reference,
		Amount:           body.Amount,
		Currency:         body.Currency,
		Status:           domain.IntentStatus(body.Status),
		AuthorizationURL: body.AuthorizationURL,
		CreatedAt:        body.CreatedAt,
		UpdatedAt:        body.UpdatedAt,
		CreditedAt:       body.CreditedAt,
	}
	if body.FailureReason != nil {
		r := domain.FailureReason(*body.FailureReason)
		intent.FailureReason = &r
	}
	return intent, nil
}

// Fallback asks the server to reconcile reference against the gateway now.
func (c *Client) Fallback(ctx context.Context, reference string) (domain.ReconcileResult, error) {
	var body resultBody
	if err := c.do(ctx, http.MethodPost, "/payments/fallback", reference, &body); err != nil {
		return domain.ReconcileResult{}, fmt.Errorf("Fallback: %w", err)
	}

	res := domain.ReconcileResult{
		Reference: body.Reference,
		Outcome:   domain.Outcome(body.Outcome),
		Amount:    body.Amount,
	}
	if body.Reason != nil {
		res.Reason = domain.FailureReason(*body.Reason)
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path, reference string, out any) error {
	u := c.baseURL + path + "?" + url.Values{"reference": {reference}}.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}

	if !env.Success || resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return true
	case errors.Is(err, domain.ErrGatewayRejected):
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}
