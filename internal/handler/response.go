package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
	"github.com/josh-kwaku/wallet-reconciler/internal/logging"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{Success: true, Data: data})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

// RespondDomainError maps a service error onto the API error envelope.
// gatewayErr picks the status used for gateway trouble, which differs by
// endpoint.
func RespondDomainError(ctx context.Context, w http.ResponseWriter, err error, gatewayErr *AppError) {
	var appErr *AppError

	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		appErr = ErrInvalidAmount
	case errors.Is(err, domain.ErrUserNotFound):
		appErr = ErrUserNotFound
	case errors.Is(err, domain.ErrUserInactive):
		appErr = ErrUserInactive
	case errors.Is(err, domain.ErrNotFound):
		appErr = ErrPaymentNotFound
	case errors.Is(err, domain.ErrGatewayUnavailable):
		appErr = gatewayErr
	case errors.Is(err, domain.ErrGatewayRejected):
		logging.FromContext(ctx).Error("payment gateway rejected request", "error", err)
		appErr = &AppError{gatewayErr.Status, CodeGatewayRejected, "Payment gateway rejected the request"}
	case errors.Is(err, domain.ErrInvalidRequest):
		appErr = ErrInvalidRequest
	case errors.Is(err, domain.ErrUnauthorized):
		appErr = ErrInvalidToken
	default:
		logging.FromContext(ctx).Error("unhandled service error", "error", err)
		appErr = ErrInternalError
	}

	RespondAppError(w, appErr, nil)
}
