package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/barter-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware операторского API.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/orders", h.CreateOrder)
		r.Post("/orders/{id}/status", h.UpdateOrderStatus)

		r.Get("/users/{id}/orders", h.GetUserOrders)
		r.Post("/users/{id}/wallet", h.ManageWallet)

		r.Post("/broadcast", h.Broadcast)

		r.Put("/schedules/{city}", h.SetSchedule)
		r.Post("/blocked-slots", h.AddBlockedSlot)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
