package analytics_api

import (
	"fmt"
	"net/http"

	"ms-marketplace/internal/analytics"
	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"

	"github.com/go-chi/chi/v5"
)

// Handler handles analytics HTTP endpoints
type Handler struct {
	Service *analytics.Service
	Logger  *logger.Logger
}

// NewHandler creates a new analytics handler
func NewHandler(service *analytics.Service, logger *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: logger}
}

// RegisterRoutes registers the analytics routes on a chi router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/vendors/me/summary", h.GetVendorSummary)
}

// GetVendorSummary serves the caller's own dashboard. Admins may look at any
// vendor with ?vendor_id=.
func (h *Handler) GetVendorSummary(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		utils.WriteError(w, "", apperr.New(apperr.KindUnauthorized, "authentication required"))
		return
	}

	vendorID := p.ID
	if other := r.URL.Query().Get("vendor_id"); other != "" && p.Role == models.RoleAdmin {
		vendorID = other
	} else if p.Role != models.RoleVendor && p.Role != models.RoleAdmin {
		utils.WriteError(w, "", apperr.Forbidden("vendors only"))
		return
	}

	summary, err := h.Service.VendorSummary(r.Context(), vendorID)
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("summary for vendor %s failed: %v", vendorID, err))
		utils.WriteError(w, "Failed to load summary", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Vendor summary", summary))
}
