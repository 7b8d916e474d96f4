package core

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the http.Handler serving the attic API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/attachments", s.handleIngest)

	// Single attachment operations
	mux.HandleFunc("HEAD /v1/tiers/{tier}/{name}", s.handleHead)
	mux.HandleFunc("GET /v1/tiers/{tier}/{name}", s.handleGet)
	mux.HandleFunc("GET /v1/tiers/{tier}/{name}/path", s.handlePath)
	mux.HandleFunc("POST /v1/tiers/{tier}/{name}/move", s.handleMove)
	mux.HandleFunc("DELETE /v1/tiers/{tier}/{name}", s.handleDelete)

	// Bulk operations
	mux.HandleFunc("DELETE /v1/tiers/{tier}", s.handleClearTier)
	mux.HandleFunc("DELETE /v1/tiers", s.handleClearAll)

	mux.HandleFunc("GET /v1/orphans", s.handleListOrphans)
	mux.HandleFunc("POST /v1/orphans/reconcile", s.handleReconcile)

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Add middleware
	handler := s.SlashFix(mux)
	handler = s.LogRequest(handler)
	handler = s.RequireAuthentication(handler)
	handler = s.Recoverer(handler)
	return handler
}
