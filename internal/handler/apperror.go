package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrInvalidSignature = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature is invalid"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrMissingReference = &AppError{http.StatusBadRequest, "MISSING_REFERENCE", "reference query parameter is required"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrRateLimited      = &AppError{http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, slow down"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidAmount     = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount is below the minimum funding amount"}
	ErrUserNotFound      = &AppError{http.StatusNotFound, "USER_NOT_FOUND", "User not found"}
	ErrUserInactive      = &AppError{http.StatusForbidden, "USER_INACTIVE", "User account is not active"}
	ErrPaymentNotFound   = &AppError{http.StatusNotFound, "PAYMENT_NOT_FOUND", "No payment with that reference"}
	ErrGatewayBadGateway = &AppError{http.StatusBadGateway, "GATEWAY_UNAVAILABLE", "Payment gateway is unavailable, try again"}
	// Fallback verification reports gateway trouble as a plain server error.
	ErrGatewayFailed = &AppError{http.StatusInternalServerError, "GATEWAY_UNAVAILABLE", "Payment gateway is unavailable, try again"}

	ErrIdempotencyConflict = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
)

// CodeGatewayRejected marks a gateway refusal. The HTTP status follows the
// endpoint's gateway status, but clients must not retry it.
const CodeGatewayRejected = "GATEWAY_REJECTED"
