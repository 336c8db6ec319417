package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// NewRouter wires the HTTP surface. ws, if non-nil, is served at /ws.
func NewRouter(h *Handler, ws http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if ws != nil {
		r.Handle("/ws", ws)
	}

	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/status", h.Status)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)

		r.Post("/orders", h.CreateOrder)
		r.Get("/orders", h.GetActiveOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Post("/orders/{id}/fill", h.FillOrder)
		r.Delete("/orders/{id}", h.CancelOrder)

		r.Get("/accounts/{address}/orders", h.GetUserOrders)
		r.Get("/accounts/{address}/active-count", h.GetActiveOrderCount)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/pause", h.Pause)
			r.Post("/unpause", h.Unpause)
			r.Post("/ownership", h.TransferOwnership)
			r.Post("/ownership/accept", h.AcceptOwnership)
			r.Post("/withdraw", h.EmergencyWithdraw)
			if h.Ledger != nil {
				r.Post("/mint", h.Mint)
			}
		})

		if h.Ledger != nil {
			r.Post("/ledger/approve", h.Approve)
			r.Get("/ledger/balance", h.Balance)
		}
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
