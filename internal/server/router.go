package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	analytics_api "ms-marketplace/internal/analytics/api"
	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/ledger/ledger_api"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/order/order_api"
	"ms-marketplace/internal/payment"
	"ms-marketplace/internal/sse"
	"ms-marketplace/internal/sysconfig/config_api"
	"ms-marketplace/internal/utils"
	"ms-marketplace/internal/vetting/vetting_api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handlers struct {
	Orders    *order_api.Handler
	Ledger    *ledger_api.Handler
	Vetting   *vetting_api.Handler
	Config    *config_api.Handler
	Analytics *analytics_api.Handler
	Payments  *payment.Handler
	Events    *sse.Handler
}

type Options struct {
	Verifier       auth.Verifier
	InternalToken  string
	RequestTimeout time.Duration
	// Health reports whether the backing stores are reachable.
	Health func(ctx context.Context) error
	Logger *logger.Logger
}

func NewRouter(h Handlers, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(log))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(req.Context()); err != nil {
				log.Error("HEALTH", err.Error())
				utils.WriteError(w, "Unhealthy", apperr.Unavailable("dependencies unavailable"))
				return
			}
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})

	// --- Internal Routes ---
	if h.Payments != nil {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireInternal(opts.InternalToken))
			r.Use(middleware.Timeout(opts.RequestTimeout))
			r.Post("/internal/payments/results", h.Payments.Results)
			r.Get("/internal/payments/{paymentRef}/events", h.Payments.Events)
		})
		log.Info("ROUTER", "Payment endpoints registered under /internal/payments")
	}

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(opts.Verifier, log))

		// streams outlive the request timeout
		if h.Events != nil {
			r.Get("/api/vendors/me/events", h.Events.HandleVendorEvents)
			log.Info("ROUTER", "Vendor event stream registered at /api/vendors/me/events")
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.RequestTimeout))
			if h.Orders != nil {
				h.Orders.RegisterRoutes(r)
				log.Info("ROUTER", "Order routes registered under /api/orders")
			}
			if h.Ledger != nil {
				h.Ledger.RegisterRoutes(r)
				log.Info("ROUTER", "Ledger and payout routes registered")
			}
			if h.Vetting != nil {
				h.Vetting.RegisterRoutes(r)
				log.Info("ROUTER", "Vendor application routes registered")
			}
			if h.Config != nil {
				h.Config.RegisterRoutes(r)
				log.Info("ROUTER", "Admin config routes registered under /api/admin/config")
			}
			if h.Analytics != nil {
				h.Analytics.RegisterRoutes(r)
				log.Info("ROUTER", "Analytics routes registered under /api/vendors/me/summary")
			}
		})
	})
	return r
}

func accessLog(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			if ww.Status() >= http.StatusInternalServerError {
				log.Error("API", fmt.Sprintf("%s %s - %d (%s) req=%s", r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context())))
				return
			}
			log.LogAPI(r.Method, r.URL.Path, ww.Status(), time.Since(start))
		})
	}
}
