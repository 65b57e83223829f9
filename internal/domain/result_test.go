package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconcileResult_Settled(t *testing.T) {
	assert.True(t, Credited("r", 500).Settled())
	assert.True(t, AlreadyCredited("r", 500).Settled())
	assert.False(t, Pending("r").Settled())
	assert.False(t, Failed("r", ReasonGatewayDeclined).Settled())
}

func TestReconcileResult_Err(t *testing.T) {
	tests := []struct {
		name   string
		result ReconcileResult
		want   error
	}{
		{"credited", Credited("r", 1), nil},
		{"pending", Pending("r"), nil},
		{"declined", Failed("r", ReasonGatewayDeclined), nil},
		{"metadata missing", Failed("r", ReasonMetadataMissing), ErrMetadataMissing},
		{"metadata mismatch", Failed("r", ReasonMetadataMismatch), ErrMetadataMissing},
		{"amount mismatch", Failed("r", ReasonAmountMismatch), ErrAmountMismatch},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.result.Err()
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestIntentStatus_IsTerminal(t *testing.T) {
	assert.True(t, IntentStatusCredited.IsTerminal())
	assert.True(t, IntentStatusFailed.IsTerminal())
	assert.False(t, IntentStatusInitiated.IsTerminal())
	assert.False(t, IntentStatusPending.IsTerminal())
	assert.False(t, IntentStatusVerified.IsTerminal())
}

func TestFailureReason_NeedsReview(t *testing.T) {
	assert.True(t, ReasonAmountMismatch.NeedsReview())
	assert.True(t, ReasonMetadataMissing.NeedsReview())
	assert.False(t, ReasonGatewayDeclined.NeedsReview())
	assert.False(t, ReasonInitFailed.NeedsReview())
}
