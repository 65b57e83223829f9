package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/josh-kwaku/wallet-reconciler/internal/logging"
	"github.com/josh-kwaku/wallet-reconciler/internal/metrics"
)

const maxResponseBody = 1 << 20

type Config struct {
	BaseURL     string
	SecretKey   string
	CallbackURL string
	Timeout     time.Duration
	Breaker     BreakerConfig
}

// Client is safe for concurrent use. It holds no per-transaction state.
type Client struct {
	baseURL     string
	secretKey   string
	callbackURL string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker[*response]
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	breaker := cfg.Breaker
	if breaker.MinRequests == 0 {
		breaker = DefaultBreakerConfig()
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:   cfg.SecretKey,
		callbackURL: cfg.CallbackURL,
		httpClient:  &http.Client{Timeout: timeout},
		breaker:     newBreaker("paystack", breaker),
	}
}

type response struct {
	status int
	body   []byte
}

type initializeBody struct {
	Email       string         `json:"email"`
	Amount      string         `json:"amount"`
	Reference   string         `json:"reference"`
	Currency    string         `json:"currency,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// CreateTransaction opens a remote transaction for req.Reference and returns
// where the customer should be sent to pay.
func (c *Client) CreateTransaction(ctx context.Context, req InitializeRequest) (*Authorization, error) {
	metadata := make(map[string]any, len(req.Extra)+1)
	for k, v := range req.Extra {
		metadata[k] = v
	}
	metadata["user_id"] = req.UserID.String()

	body, err := json.Marshal(initializeBody{
		Email:       req.Email,
		Amount:      ToProviderAmount(req.Amount).String(),
		Reference:   req.Reference,
		Currency:    req.Currency,
		CallbackURL: c.callbackURL,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("CreateTransaction: marshal: %w", err)
	}

	env, err := c.call(ctx, "initialize", http.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return nil, fmt.Errorf("CreateTransaction: %w", err)
	}

	var data initializeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("CreateTransaction: decode data: %w", err)
	}
	if data.AuthorizationURL == "" {
		return nil, fmt.Errorf("CreateTransaction: no authorization url: %w", ErrRejected)
	}

	return &Authorization{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

// VerifyTransaction asks the provider for the current state of reference.
// It is read-only on the provider side and safe to repeat.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	env, err := c.call(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, fmt.Errorf("VerifyTransaction: %w", err)
	}

	var data transactionData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("VerifyTransaction: decode data: %w", err)
	}
	if data.Reference == "" {
		data.Reference = reference
	}
	return data.toTransaction(), nil
}

func (c *Client) call(ctx context.Context, op, method, path string, body []byte) (*envelope, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	resp, err := c.breaker.Execute(func() (*response, error) {
		return c.do(ctx, method, path, body)
	})
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RecordGatewayCall(op, duration, "rejected_open")
			log.Warn("gateway call short-circuited", "operation", op, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		metrics.RecordGatewayCall(op, duration, resultLabel(err))
		log.Warn("gateway call failed", "operation", op, "duration_ms", duration.Milliseconds(), "error", err)
		return nil, err
	}

	metrics.RecordGatewayCall(op, duration, "ok")
	log.Debug("gateway call completed", "operation", op, "status", resp.status, "duration_ms", duration.Milliseconds())

	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Status {
		return nil, fmt.Errorf("%s: %w", env.Message, ErrRejected)
	}
	return &env, nil
}

// do performs one HTTP round trip and classifies the outcome. Only
// ErrUnavailable counts against the breaker.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if callerGone(ctx) {
			return nil, fmt.Errorf("send: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if callerGone(ctx) {
			return nil, fmt.Errorf("read body: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrTransactionNotFound
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		if isNotFoundMessage(respBody) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, truncate(respBody, 256))
	}

	return &response{status: resp.StatusCode, body: respBody}, nil
}

// isNotFoundMessage catches the provider's 400 "Transaction reference not found".
func isNotFoundMessage(body []byte) bool {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false
	}
	return !env.Status && strings.Contains(strings.ToLower(env.Message), "not found")
}

// callerGone is true when the caller abandoned the request. An expired
// deadline is not that: it still reads as an unavailable provider.
func callerGone(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrTransactionNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrRejected):
		return "rejected"
	default:
		return "error"
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
