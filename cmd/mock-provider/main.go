// Command mock-provider is a Paystack stand-in for local runs. Transactions
// live in memory; POST /simulate/{reference} settles one and optionally
// delivers the signed charge.success webhook.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-reconciler/internal/gateway"
	"github.com/josh-kwaku/wallet-reconciler/internal/logging"
)

type transaction struct {
	Reference       string          `json:"reference"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaidAt          *time.Time      `json:"paid_at"`
	GatewayResponse string          `json:"gateway_response"`
	Metadata        map[string]any  `json:"metadata"`
}

type provider struct {
	mu         sync.Mutex
	txs        map[string]*transaction
	secret     string
	webhookURL string
	httpClient *http.Client
}

func main() {
	logging.Init("mock-provider", envOr("LOG_LEVEL", "info"), os.Getenv("APP_ENV"))

	p := &provider{
		txs:        map[string]*transaction{},
		secret:     envOr("PAYSTACK_SECRET_KEY", "sk_test_mock"),
		webhookURL: envOr("WEBHOOK_URL", "http://localhost:8080/payments/webhook"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}

	addr := ":" + envOr("PORT", "8081")
	slog.Info("mock provider started", "addr", addr, "webhook_url", p.webhookURL)
	if err := http.ListenAndServe(addr, p.routes()); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (p *provider) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /transaction/initialize", p.authorized(p.initialize))
	mux.HandleFunc("GET /transaction/verify/{reference}", p.authorized(p.verify))
	mux.HandleFunc("POST /simulate/{reference}", p.simulate)
	return mux
}

func (p *provider) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+p.secret {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"status": false, "message": "Invalid key"})
			return
		}
		next(w, r)
	}
}

func (p *provider) initialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string          `json:"email"`
		Amount    decimal.Decimal `json:"amount"`
		Reference string          `json:"reference"`
		Currency  string          `json:"currency"`
		Metadata  map[string]any  `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reference == "" || !req.Amount.IsPositive() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": false, "message": "Invalid transaction parameters"})
		return
	}

	p.mu.Lock()
	if _, exists := p.txs[req.Reference]; exists {
		p.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": false, "message": "Duplicate Transaction Reference"})
		return
	}
	p.txs[req.Reference] = &transaction{
		Reference: req.Reference,
		Status:    "ongoing",
		Amount:    req.Amount,
		Currency:  req.Currency,
		Metadata:  req.Metadata,
	}
	p.mu.Unlock()

	code := strings.TrimPrefix(req.Reference, "fund_")
	code = code[:min(12, len(code))]

	slog.Info("transaction initialized", "reference", req.Reference, "amount", req.Amount.String())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  true,
		"message": "Authorization URL created",
		"data": map[string]string{
			"authorization_url": "http://localhost:8081/checkout/" + req.Reference,
			"access_code":       code,
			"reference":         req.Reference,
		},
	})
}

func (p *provider) verify(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("reference")

	p.mu.Lock()
	tx, ok := p.txs[ref]
	var snapshot transaction
	if ok {
		snapshot = *tx
	}
	p.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": false, "message": "Transaction reference not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "message": "Verification successful", "data": snapshot})
}

// simulate settles a transaction. Query: outcome=success|failed|abandoned
// (default success), webhook=false to skip the delivery, amount= to report a
// different amount in subunits.
func (p *provider) simulate(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("reference")
	q := r.URL.Query()

	outcome := q.Get("outcome")
	if outcome == "" {
		outcome = "success"
	}

	p.mu.Lock()
	tx, ok := p.txs[ref]
	if !ok {
		p.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]any{"status": false, "message": "Transaction reference not found"})
		return
	}
	tx.Status = outcome
	tx.GatewayResponse = map[string]string{"success": "Approved", "failed": "Declined"}[outcome]
	if outcome == "success" {
		now := time.Now().UTC()
		tx.PaidAt = &now
	}
	if a := q.Get("amount"); a != "" {
		if d, err := decimal.NewFromString(a); err == nil {
			tx.Amount = d
		}
	}
	snapshot := *tx
	p.mu.Unlock()

	slog.Info("transaction settled", "reference", ref, "outcome", outcome)

	delivered := false
	if outcome == "success" && q.Get("webhook") != "false" {
		if err := p.deliver(r.Context(), snapshot); err != nil {
			slog.Warn("webhook delivery failed", "reference", ref, "error", err)
		} else {
			delivered = true
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": true, "data": snapshot, "webhook_delivered": delivered})
}

func (p *provider) deliver(ctx context.Context, tx transaction) error {
	body, err := json.Marshal(map[string]any{"event": gateway.EventChargeSuccess, "data": tx})
	if err != nil {
		return fmt.Errorf("deliver: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("deliver: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(gateway.SignatureHeader, gateway.Sign(body, p.secret))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deliver: webhook returned %d", resp.StatusCode)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
