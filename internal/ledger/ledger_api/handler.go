package ledger_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"

	"github.com/go-chi/chi/v5"
)

type LedgerService interface {
	GetLedger(ctx context.Context, vendorID string) (*models.VendorLedger, error)
	ListPayouts(ctx context.Context, vendorID string) ([]models.PayoutRequest, error)
	RequestPayout(ctx context.Context, p models.Principal, amount int64, details string) (*models.PayoutRequest, error)
	SettlePayout(ctx context.Context, p models.Principal, payoutID string, status models.PayoutStatus) (*models.PayoutRequest, error)
}

type Handler struct {
	Ledger LedgerService
	Logger *logger.Logger
}

func NewHandler(ledger LedgerService, log *logger.Logger) *Handler {
	return &Handler{Ledger: ledger, Logger: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/vendors/me/ledger", h.GetLedger)
	r.Get("/api/vendors/me/payouts", h.ListPayouts)
	r.Post("/api/vendors/me/payouts", h.RequestPayout)
	r.Post("/api/admin/payouts/{payoutId}/settle", h.SettlePayout)
}

func vendor(w http.ResponseWriter, r *http.Request) (models.Principal, bool) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		utils.WriteError(w, "", apperr.New(apperr.KindUnauthorized, "authentication required"))
		return p, false
	}
	if p.Role != models.RoleVendor {
		utils.WriteError(w, "", apperr.Forbidden("vendors only"))
		return p, false
	}
	return p, true
}

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	p, ok := vendor(w, r)
	if !ok {
		return
	}
	l, err := h.Ledger.GetLedger(r.Context(), p.ID)
	if err != nil {
		utils.WriteError(w, "Could not load ledger", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ledger", l))
}

func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	p, ok := vendor(w, r)
	if !ok {
		return
	}
	list, err := h.Ledger.ListPayouts(r.Context(), p.ID)
	if err != nil {
		utils.WriteError(w, "Could not load payouts", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payouts", list))
}

func (h *Handler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	p, ok := vendor(w, r)
	if !ok {
		return
	}
	var req models.PayoutCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, "Invalid request body", apperr.Validation("malformed JSON"))
		return
	}
	payout, err := h.Ledger.RequestPayout(r.Context(), p, req.Amount, req.PayoutDetails)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			h.Logger.Error("LEDGER", fmt.Sprintf("payout request for %s failed: %v", p.ID, err))
		}
		utils.WriteError(w, "Payout request failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Payout requested", payout))
}

func (h *Handler) SettlePayout(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		utils.WriteError(w, "", apperr.New(apperr.KindUnauthorized, "authentication required"))
		return
	}
	var req models.PayoutSettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, "Invalid request body", apperr.Validation("malformed JSON"))
		return
	}
	payout, err := h.Ledger.SettlePayout(r.Context(), p, chi.URLParam(r, "payoutId"), req.Status)
	if err != nil {
		utils.WriteError(w, "Settlement failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payout settled", payout))
}
