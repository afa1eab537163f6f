package sse

import (
	"fmt"
	"net/http"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"
)

// Handler streams a vendor's live notifications.
type Handler struct {
	Logger  *logger.Logger
	Emitter *VendorEventEmitter
}

func NewHandler(emitter *VendorEventEmitter, log *logger.Logger) *Handler {
	return &Handler{Logger: log, Emitter: emitter}
}

// HandleVendorEvents serves GET /api/vendors/me/events.
func (h *Handler) HandleVendorEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		utils.WriteError(w, "", apperr.New(apperr.KindUnauthorized, "authentication required"))
		return
	}
	if p.Role != models.RoleVendor {
		utils.WriteError(w, "", apperr.Forbidden("vendors only"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.WriteError(w, "", apperr.New(apperr.KindInternal, "streaming unsupported"))
		return
	}

	setupSSEHeaders(w)
	ctx := r.Context()
	events := h.Emitter.Subscribe(ctx, p.ID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"vendor_id\":%q}\n\n", p.ID)
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Vendor %s connected to live events", p.ID))

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data)
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Vendor %s disconnected", p.ID))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Accel-Buffering", "no")
}
