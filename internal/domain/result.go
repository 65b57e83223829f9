package domain

import "fmt"

type Outcome string

const (
	OutcomeCredited        Outcome = "credited"
	OutcomeAlreadyCredited Outcome = "already_credited"
	OutcomePending         Outcome = "pending"
	OutcomeFailed          Outcome = "failed"
)

// ReconcileResult is what every entry point gets back from a reconcile call.
// Amount is set for Credited and AlreadyCredited; Reason only for Failed.
type ReconcileResult struct {
	Reference string
	Outcome   Outcome
	Amount    int64
	Reason    FailureReason
}

func Credited(ref string, amount int64) ReconcileResult {
	return ReconcileResult{Reference: ref, Outcome: OutcomeCredited, Amount: amount}
}

func AlreadyCredited(ref string, amount int64) ReconcileResult {
	return ReconcileResult{Reference: ref, Outcome: OutcomeAlreadyCredited, Amount: amount}
}

func Pending(ref string) ReconcileResult {
	return ReconcileResult{Reference: ref, Outcome: OutcomePending}
}

func Failed(ref string, reason FailureReason) ReconcileResult {
	return ReconcileResult{Reference: ref, Outcome: OutcomeFailed, Reason: reason}
}

// Settled is true when the wallet holds the funds, whichever call applied them.
func (r ReconcileResult) Settled() bool {
	return r.Outcome == OutcomeCredited || r.Outcome == OutcomeAlreadyCredited
}

// Err returns the review error behind a Failed result, if any.
func (r ReconcileResult) Err() error {
	if r.Outcome != OutcomeFailed {
		return nil
	}
	switch r.Reason {
	case ReasonMetadataMissing, ReasonMetadataMismatch:
		return fmt.Errorf("%s: %w", r.Reference, ErrMetadataMissing)
	case ReasonAmountMismatch:
		return fmt.Errorf("%s: %w", r.Reference, ErrAmountMismatch)
	default:
		return nil
	}
}
