package server

import (
	"net/http"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check and info.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/info", s.handleInfo)

	// Chunked uploads.
	mux.HandleFunc("POST /v1/uploads/chunk", s.handleChunk)
	mux.HandleFunc("GET /v1/uploads/{session}/offset", s.handleOffset)

	// Single-shot fallback for clients without chunking.
	mux.HandleFunc("POST /v1/uploads", s.handleSingleShot)

	// Out-of-band finalize from a transfer relay.
	mux.HandleFunc("POST /v1/uploads/relay", s.handleRelayFinalize)

	// Admin.
	mux.HandleFunc("POST /v1/admin/reap", s.handleAdminReap)

	return mux
}
