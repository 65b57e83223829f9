package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type IntentStatus string

const (
	IntentStatusInitiated IntentStatus = "initiated"
	IntentStatusPending   IntentStatus = "pending"
	IntentStatusVerified  IntentStatus = "verified"
	IntentStatusCredited  IntentStatus = "credited"
	IntentStatusFailed    IntentStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s IntentStatus) IsTerminal() bool {
	return s == IntentStatusCredited || s == IntentStatusFailed
}

type FailureReason string

const (
	ReasonMetadataMissing  FailureReason = "metadata_missing"
	ReasonMetadataMismatch FailureReason = "metadata_mismatch"
	ReasonAmountMismatch   FailureReason = "amount_mismatch"
	ReasonGatewayDeclined  FailureReason = "gateway_declined"
	ReasonInitFailed       FailureReason = "initialization_failed"
)

// NeedsReview is true for failures an operator must look at before any
// manual credit is considered.
func (r FailureReason) NeedsReview() bool {
	switch r {
	case ReasonMetadataMissing, ReasonMetadataMismatch, ReasonAmountMismatch:
		return true
	default:
		return false
	}
}

// PaymentIntent is one requested wallet funding. Amount is in the wallet's
// unit; the gateway works in hundredths of it.
type PaymentIntent struct {
	Reference        string
	UserID           uuid.UUID
	Amount           int64
	Currency         string
	Status           IntentStatus
	FailureReason    *FailureReason
	AuthorizationURL *string
	Metadata         json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CreditedAt       *time.Time
}

// FundingPolicy is an immutable snapshot of funding settings.
type FundingPolicy struct {
	MinAmount int64
	Currency  string
}
