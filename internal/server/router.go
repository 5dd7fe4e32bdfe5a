package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Riboost-Studio/print-my-bridge/internal/model"
)

// routes registers the bridge routes. Mux-level middleware runs before route
// matching, so unknown paths are still counted by the limiter.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, model.PrintResponse{Success: false, Message: "NotFound"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, model.PrintResponse{Success: false, Message: "MethodNotAllowed"})
	})

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/printers", s.listPrinters)
		r.Post("/print", s.print)
		r.Get("/events", s.streamEvents)
	})

	return r
}
