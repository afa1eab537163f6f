package payment

import (
	"encoding/json"
	"net/http"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Processor *Processor
}

type resultResponse struct {
	EventID string `json:"event_id"`
	Applied bool   `json:"applied"`
}

// Results accepts the same payload as the Kafka feed. Duplicates answer 200
// with applied=false so the caller stops retrying.
func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	var res models.PaymentResult
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		utils.WriteError(w, "Invalid request payload", apperr.Validation("malformed JSON"))
		return
	}
	applied, err := h.Processor.Handle(r.Context(), res)
	if err != nil {
		utils.WriteError(w, "Payment result rejected", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment result accepted", resultResponse{
		EventID: res.EventID,
		Applied: applied,
	}))
}

// Events lists the journalled results for one payment reference.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "paymentRef")
	events, err := h.Processor.Store.ListByPaymentRef(r.Context(), ref)
	if err != nil {
		utils.WriteError(w, "Failed to load payment events", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment events retrieved", events))
}
