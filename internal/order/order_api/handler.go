package order_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/releasekey"
	"ms-marketplace/internal/utils"

	"github.com/go-chi/chi/v5"
)

type OrderService interface {
	CreateOrder(ctx context.Context, p models.Principal, req models.CheckoutRequest) (*models.CheckoutResult, error)
	GetOrder(ctx context.Context, p models.Principal, orderID string) (*models.Order, error)
	GetOrderGroup(ctx context.Context, p models.Principal, groupID string) (*models.OrderGroup, error)
	ListBuyerOrders(ctx context.Context, p models.Principal) ([]models.Order, error)
	AdvanceStatus(ctx context.Context, p models.Principal, orderID string, to models.OrderStatus) (*models.Order, error)
	CancelOrder(ctx context.Context, p models.Principal, orderID string) (*models.Order, error)
	RefundOrder(ctx context.Context, p models.Principal, orderID string) (*models.Order, error)
}

type ReleaseKeyService interface {
	Reissue(ctx context.Context, p models.Principal, orderID string) (*releasekey.Reissued, error)
	Redeem(ctx context.Context, p models.Principal, orderID, code string) error
}

type Handler struct {
	OrderService OrderService
	ReleaseKeys  ReleaseKeyService
	Logger       *logger.Logger
}

func NewHandler(orders OrderService, keys ReleaseKeyService, log *logger.Logger) *Handler {
	return &Handler{OrderService: orders, ReleaseKeys: keys, Logger: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/groups/{groupId}", h.GetOrderGroup)
		r.Get("/{orderId}", h.GetOrder)
		r.Post("/{orderId}/status", h.AdvanceStatus)
		r.Post("/{orderId}/cancel", h.CancelOrder)
		r.Post("/{orderId}/refund", h.RefundOrder)
		r.Post("/{orderId}/release-key", h.ReissueReleaseKey)
		r.Post("/{orderId}/release-key/redeem", h.RedeemReleaseKey)
	})
}

func principal(w http.ResponseWriter, r *http.Request) (models.Principal, bool) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		utils.WriteError(w, "", apperr.New(apperr.KindUnauthorized, "authentication required"))
	}
	return p, ok
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.WriteError(w, "Invalid request body", apperr.Validation("malformed JSON"))
		return false
	}
	return true
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.CheckoutRequest
	if !decode(w, r, &req) {
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	res, err := h.OrderService.CreateOrder(r.Context(), p, req)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("CreateOrder: buyer %s: %v", p.ID, err))
		utils.WriteError(w, "Checkout failed", err)
		return
	}
	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	utils.WriteJSON(w, status, utils.SuccessResponse("Order placed", res))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	o, err := h.OrderService.GetOrder(r.Context(), p, chi.URLParam(r, "orderId"))
	if err != nil {
		utils.WriteError(w, "Could not load order", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order", o))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	orders, err := h.OrderService.ListBuyerOrders(r.Context(), p)
	if err != nil {
		utils.WriteError(w, "Could not load orders", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Orders", orders))
}

func (h *Handler) GetOrderGroup(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	g, err := h.OrderService.GetOrderGroup(r.Context(), p, chi.URLParam(r, "groupId"))
	if err != nil {
		utils.WriteError(w, "Could not load order group", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order group", g))
}

func (h *Handler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.StatusUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	h.transition(w, r, "AdvanceStatus", func(ctx context.Context, orderID string) (*models.Order, error) {
		return h.OrderService.AdvanceStatus(ctx, p, orderID, req.Status)
	})
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	h.transition(w, r, "CancelOrder", func(ctx context.Context, orderID string) (*models.Order, error) {
		return h.OrderService.CancelOrder(ctx, p, orderID)
	})
}

func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	h.transition(w, r, "RefundOrder", func(ctx context.Context, orderID string) (*models.Order, error) {
		return h.OrderService.RefundOrder(ctx, p, orderID)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, orderID string) (*models.Order, error)) {
	orderID := chi.URLParam(r, "orderId")
	o, err := fn(r.Context(), orderID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindStateConflict {
			// callers should only offer legal transitions
			h.Logger.Warn("API", fmt.Sprintf("%s: illegal transition on %s: %v", op, orderID, err))
		}
		utils.WriteError(w, "Order update failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order updated", o))
}

func (h *Handler) ReissueReleaseKey(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	res, err := h.ReleaseKeys.Reissue(r.Context(), p, chi.URLParam(r, "orderId"))
	if err != nil {
		utils.WriteError(w, "Could not issue release key", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Release key issued", res))
}

func (h *Handler) RedeemReleaseKey(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.RedeemRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.ReleaseKeys.Redeem(r.Context(), p, chi.URLParam(r, "orderId"), strings.TrimSpace(req.Code)); err != nil {
		utils.WriteError(w, "Release failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Funds released", nil))
}
