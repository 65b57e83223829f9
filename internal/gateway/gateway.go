// Package gateway talks to the Paystack-compatible payment provider. It owns
// amount normalisation and maps provider status strings onto Status.
package gateway

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnavailable covers transport failures, timeouts, 5xx, 429 and an open
	// breaker. It is the only retryable gateway error.
	ErrUnavailable = errors.New("gateway unavailable")

	// ErrTransactionNotFound means the provider has no record of the reference
	// yet, which usually just means the customer has not paid.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrRejected is a 4xx other than 404/429: the provider refused the call.
	ErrRejected = errors.New("gateway rejected request")

	ErrFractionalAmount = errors.New("provider amount is not a whole number of units")
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Transaction is the provider's authoritative view of a reference.
// Amount is already converted to wallet units. When AmountErr is set the
// provider amount could not be converted and Amount is zero.
type Transaction struct {
	Reference       string
	Status          Status
	RawStatus       string
	Amount          int64
	AmountErr       error
	Currency        string
	UserID          uuid.UUID
	HasUserID       bool
	PaidAt          *time.Time
	GatewayResponse string
}

type InitializeRequest struct {
	Reference string
	Email     string
	Amount    int64
	Currency  string
	UserID    uuid.UUID
	// Extra is merged into the provider metadata next to user_id.
	Extra map[string]any
}

type Authorization struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

func mapStatus(raw string) Status {
	switch raw {
	case "success":
		return StatusSuccess
	case "failed", "reversed":
		return StatusFailed
	default:
		// pending, ongoing, processing, queued, abandoned and anything new
		return StatusPending
	}
}
