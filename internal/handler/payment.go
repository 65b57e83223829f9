package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-reconciler/internal/auth"
	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
	"github.com/josh-kwaku/wallet-reconciler/internal/logging"
)

type paymentEngine interface {
	Initiate(ctx context.Context, userID uuid.UUID, amount int64, metadata map[string]any) (*domain.PaymentIntent, error)
	Status(ctx context.Context, reference string) (*domain.PaymentIntent, error)
	Reconcile(ctx context.Context, reference string, source domain.Source) (domain.ReconcileResult, error)
}

type walletReader interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (*domain.WalletBalance, error)
	ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error)
}

type PaymentHandler struct {
	engine   paymentEngine
	wallets  walletReader
	currency string
}

func NewPaymentHandler(engine paymentEngine, wallets walletReader, currency string) *PaymentHandler {
	return &PaymentHandler{engine: engine, wallets: wallets, currency: currency}
}

type initiateRequest struct {
	Amount   int64          `json:"amount" validate:"required,gt=0"`
	Metadata map[string]any `json:"metadata" validate:"omitempty,max=20"`
}

type intentDTO struct {
	Reference        string     `json:"reference"`
	Status           string     `json:"status"`
	Amount           int64      `json:"amount"`
	Currency         string     `json:"currency"`
	FailureReason    *string    `json:"failure_reason"`
	AuthorizationURL *string    `json:"authorization_url,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CreditedAt       *time.Time `json:"credited_at,omitempty"`
}

func toIntentDTO(p *domain.PaymentIntent) intentDTO {
	dto := intentDTO{
		Reference:        p.Reference,
		Status:           string(p.Status),
		Amount:           p.Amount,
		Currency:         p.Currency,
		AuthorizationURL: p.AuthorizationURL,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
		CreditedAt:       p.CreditedAt,
	}
	if p.FailureReason != nil {
		r := string(*p.FailureReason)
		dto.FailureReason = &r
	}
	return dto
}

type reconcileDTO struct {
	Reference string  `json:"reference"`
	Outcome   string  `json:"outcome"`
	Amount    int64   `json:"amount,omitempty"`
	Reason    *string `json:"reason,omitempty"`
	Settled   bool    `json:"settled"`
}

func toReconcileDTO(r domain.ReconcileResult) reconcileDTO {
	dto := reconcileDTO{
		Reference: r.Reference,
		Outcome:   string(r.Outcome),
		Amount:    r.Amount,
		Settled:   r.Settled(),
	}
	if r.Reason != "" {
		reason := string(r.Reason)
		dto.Reason = &reason
	}
	return dto
}

type entryDTO struct {
	Reference string    `json:"reference"`
	Amount    int64     `json:"amount"`
	AppliedAt time.Time `json:"applied_at"`
}

type entriesDTO struct {
	Entries []entryDTO `json:"entries"`
	Total   int        `json:"total"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
}

type pageQuery struct {
	Limit  int `json:"limit" validate:"gte=1,max=100"`
	Offset int `json:"offset" validate:"gte=0"`
}

type balanceDTO struct {
	UserID    uuid.UUID  `json:"user_id"`
	Balance   int64      `json:"balance"`
	Currency  string     `json:"currency"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := validateStruct(req); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	intent, err := h.engine.Initiate(r.Context(), userID, req.Amount, req.Metadata)
	if err != nil {
		log.Warn("payment initiation failed", "error", err)
		RespondDomainError(r.Context(), w, err, ErrGatewayBadGateway)
		return
	}

	RespondSuccess(w, http.StatusOK, toIntentDTO(intent))
}

func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	ref := r.URL.Query().Get("reference")
	if ref == "" {
		RespondAppError(w, ErrMissingReference, nil)
		return
	}

	intent, err := h.ownedIntent(r.Context(), ref, userID)
	if err != nil {
		RespondDomainError(r.Context(), w, err, ErrGatewayBadGateway)
		return
	}

	RespondSuccess(w, http.StatusOK, toIntentDTO(intent))
}

// Fallback runs a manual reconcile for one of the caller's references. Any
// settled outcome, or a still-pending one, is a 200.
func (h *PaymentHandler) Fallback(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	ref := r.URL.Query().Get("reference")
	if ref == "" {
		RespondAppError(w, ErrMissingReference, nil)
		return
	}

	if _, err := h.ownedIntent(r.Context(), ref, userID); err != nil {
		RespondDomainError(r.Context(), w, err, ErrGatewayFailed)
		return
	}

	result, err := h.engine.Reconcile(r.Context(), ref, domain.SourceFallback)
	if err != nil {
		log.Warn("fallback reconcile failed", "reference", ref, "error", err)
		RespondDomainError(r.Context(), w, err, ErrGatewayFailed)
		return
	}

	log.Info("fallback reconcile completed", "reference", ref, "outcome", result.Outcome)
	RespondSuccess(w, http.StatusOK, toReconcileDTO(result))
}

func (h *PaymentHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	wb, err := h.wallets.GetBalance(r.Context(), userID)
	if err != nil {
		RespondDomainError(r.Context(), w, err, ErrGatewayBadGateway)
		return
	}

	dto := balanceDTO{UserID: userID, Balance: wb.Balance, Currency: h.currency}
	if !wb.UpdatedAt.IsZero() {
		dto.UpdatedAt = &wb.UpdatedAt
	}

	RespondSuccess(w, http.StatusOK, dto)
}

// Entries lists the caller's ledger credits. The sum of all entries equals
// the wallet balance.
func (h *PaymentHandler) Entries(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	page := pageQuery{Limit: 20}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			RespondValidationError(w, []FieldError{{Field: "limit", Message: "must be an integer"}})
			return
		}
		page.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			RespondValidationError(w, []FieldError{{Field: "offset", Message: "must be an integer"}})
			return
		}
		page.Offset = n
	}
	if fields := validateStruct(page); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	entries, total, err := h.wallets.ListEntries(r.Context(), userID, page.Limit, page.Offset)
	if err != nil {
		RespondDomainError(r.Context(), w, err, ErrGatewayBadGateway)
		return
	}

	dto := entriesDTO{Entries: make([]entryDTO, 0, len(entries)), Total: total, Limit: page.Limit, Offset: page.Offset}
	for _, e := range entries {
		dto.Entries = append(dto.Entries, entryDTO{Reference: e.Reference, Amount: e.Amount, AppliedAt: e.AppliedAt})
	}
	RespondSuccess(w, http.StatusOK, dto)
}

// ownedIntent hides intents belonging to other users behind ErrNotFound.
func (h *PaymentHandler) ownedIntent(ctx context.Context, ref string, userID uuid.UUID) (*domain.PaymentIntent, error) {
	intent, err := h.engine.Status(ctx, ref)
	if err != nil {
		return nil, err
	}
	if intent.UserID != userID {
		logging.FromContext(ctx).Warn("reference requested by non-owner", "reference", ref)
		return nil, domain.ErrNotFound
	}
	return intent, nil
}
