package config_api

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

type ConfigGate interface {
	Current(ctx context.Context) (models.SystemConfig, error)
	Set(ctx context.Context, p models.Principal, patch models.ConfigPatch) (models.SystemConfig, error)
}

type Handler struct {
	Gate   ConfigGate
	Logger *logger.Logger
}

func NewHandler(gate ConfigGate, log *logger.Logger) *Handler {
	return &Handler{Gate: gate, Logger: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/admin/config", h.Get)
	r.Patch("/api/admin/config", h.Patch)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		utils.WriteError(w, "", apperr.New(apperr.KindUnauthorized, "authentication required"))
		return
	}
	if !p.Can(models.CapManageConfig) {
		utils.WriteError(w, "", apperr.Forbidden("not allowed to read system config"))
		return
	}
	cfg, err := h.Gate.Current(r.Context())
	if err != nil {
		utils.WriteError(w, "Could not load config", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("System config", cfg))
}

func (h *Handler) Patch(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		utils.WriteError(w, "", apperr.New(apperr.KindUnauthorized, "authentication required"))
		return
	}
	var patch models.ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		utils.WriteError(w, "Invalid request body", apperr.Validation("malformed JSON"))
		return
	}
	cfg, err := h.Gate.Set(r.Context(), p, patch)
	if err != nil {
		utils.WriteError(w, "Config update failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("System config updated", cfg))
}
