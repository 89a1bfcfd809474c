package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/MegrimInc/RedisMicroService-sub000/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты сервиса. Логирующее middleware
// применяется только к REST-маршрутам: websocket-маршрутам нужен доступ
// к http.Hijacker.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Use(custommiddleware.Logger(h.logger))

		r.Route("/bars/{barID}", func(r chi.Router) {
			r.Get("/status", h.BarStatus)
			r.Put("/open", h.SetOpenFlag)
			r.Put("/happy-hour", h.SetHappyHourFlag)
		})
	})

	r.Route("/ws", func(r chi.Router) {
		r.Get("/customer", h.CustomerSocket)
		r.Get("/bartender", h.BartenderSocket)
		r.Get("/terminal", h.TerminalSocket)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
