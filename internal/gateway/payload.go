package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type transactionData struct {
	Reference       string          `json:"reference"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaidAt          *time.Time      `json:"paid_at"`
	GatewayResponse string          `json:"gateway_response"`
	Metadata        json.RawMessage `json:"metadata"`
}

func (d transactionData) toTransaction() *Transaction {
	tx := &Transaction{
		Reference:       d.Reference,
		Status:          mapStatus(d.Status),
		RawStatus:       d.Status,
		Currency:        d.Currency,
		PaidAt:          d.PaidAt,
		GatewayResponse: d.GatewayResponse,
	}
	tx.Amount, tx.AmountErr = FromProviderAmount(d.Amount)
	tx.UserID, tx.HasUserID = userIDFromMetadata(d.Metadata)
	return tx
}

// userIDFromMetadata reads user_id (or the older userId) from the provider
// metadata. The provider may send an object, an empty string, or the object
// JSON-encoded inside a string.
func userIDFromMetadata(raw json.RawMessage) (uuid.UUID, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return uuid.Nil, false
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil || inner == "" {
			return uuid.Nil, false
		}
		raw = json.RawMessage(inner)
	}

	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return uuid.Nil, false
	}

	for _, key := range []string{"user_id", "userId"} {
		s, ok := meta[key].(string)
		if !ok || s == "" {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return uuid.Nil, false
		}
		return id, true
	}
	return uuid.Nil, false
}

// Event is a parsed webhook delivery.
type Event struct {
	Type        string
	Transaction *Transaction
}

const EventChargeSuccess = "charge.success"

// ParseEvent decodes a webhook body. It does not check the signature.
func ParseEvent(body []byte) (*Event, error) {
	var raw struct {
		Event string          `json:"event"`
		Data  transactionData `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("ParseEvent: %w", err)
	}
	if raw.Event == "" {
		return nil, fmt.Errorf("ParseEvent: missing event type")
	}
	if raw.Data.Reference == "" {
		return nil, fmt.Errorf("ParseEvent: missing reference")
	}
	return &Event{Type: raw.Event, Transaction: raw.Data.toTransaction()}, nil
}
