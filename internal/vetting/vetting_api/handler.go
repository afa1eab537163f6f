package vetting_api

import (
	"context"
	"encoding/json"
	"net/http"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"

	"github.com/go-chi/chi/v5"
)

type VettingService interface {
	EvaluateApplication(ctx context.Context, p models.Principal, app models.VendorApplication) (*models.Vendor, error)
	GetVendor(ctx context.Context, id string) (*models.Vendor, error)
}

type Handler struct {
	Service VettingService
	Logger  *logger.Logger
}

func NewHandler(svc VettingService, log *logger.Logger) *Handler {
	return &Handler{Service: svc, Logger: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/vendors/applications", h.Apply)
	r.Get("/api/vendors/me", h.GetMine)
}

// Apply answers 201 for a live shop and 202 when it was held for review.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		utils.WriteError(w, "", apperr.New(apperr.KindUnauthorized, "authentication required"))
		return
	}
	var app models.VendorApplication
	if err := json.NewDecoder(r.Body).Decode(&app); err != nil {
		utils.WriteError(w, "Invalid request body", apperr.Validation("malformed JSON"))
		return
	}
	v, err := h.Service.EvaluateApplication(r.Context(), p, app)
	if err != nil {
		utils.WriteError(w, "Application failed", err)
		return
	}
	if v.Status == models.VendorPending {
		utils.WriteJSON(w, http.StatusAccepted, utils.SuccessResponse("Application held for review", v))
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Shop is live", v))
}

func (h *Handler) GetMine(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		utils.WriteError(w, "", apperr.New(apperr.KindUnauthorized, "authentication required"))
		return
	}
	v, err := h.Service.GetVendor(r.Context(), p.ID)
	if err != nil {
		utils.WriteError(w, "Could not load vendor", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Vendor", v))
}
