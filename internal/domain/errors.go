package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user is not active")
	ErrInvalidAmount      = errors.New("amount below minimum funding threshold")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected is a provider refusal or an unreadable provider
	// answer. Retrying the same call will not change it.
	ErrGatewayRejected    = errors.New("payment gateway rejected the request")
	ErrMetadataMissing    = errors.New("gateway transaction has no user metadata")
	ErrAmountMismatch     = errors.New("gateway amount differs from intent amount")
	ErrIntentTerminal     = errors.New("payment intent already in terminal state")
	ErrDuplicateReference = errors.New("duplicate payment reference")
)
