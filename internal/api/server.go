package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes wires all HTTP routes onto a mux router.
func (h *Handler) SetupRoutes() *mux.Router {
	r := mux.NewRouter()

	// The run endpoint is the only expensive one; it alone is rate limited.
	r.Handle("/agent/run",
		h.rateLimitMiddleware(http.HandlerFunc(h.RunAgent))).Methods("POST")

	r.HandleFunc("/agent/runs", h.ListRuns).Methods("GET")
	r.HandleFunc("/agent/runs/{id}", h.GetRun).Methods("GET")
	r.HandleFunc("/agent/runs/{id}/ws", h.StreamRun).Methods("GET")

	r.PathPrefix("/videos/").Handler(
		http.StripPrefix("/videos/", http.FileServer(http.Dir(h.artifactDir))))

	r.HandleFunc("/health", h.Health).Methods("GET")

	r.Use(h.loggingMiddleware)

	return r
}
