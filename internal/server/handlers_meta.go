package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"aurec/internal/api"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.InfoResponse{
		Version:           s.opts.Version,
		MaxArtifactBytes:  s.opts.MaxArtifactBytes,
		MaxPieceBytes:     s.opts.MaxPieceBytes,
		AllowedMediaTypes: s.opts.AllowedMediaTypes,
	})
}

// SetReaper attaches a reaper so the admin endpoint can trigger sweeps.
func (s *Server) SetReaper(r *StaleArtifactReaper) {
	s.reaper = r
}

// authorizeAdmin gates admin routes on the pre-shared admin token. With no
// token configured the admin surface is disabled entirely.
func (s *Server) authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	if s.opts.AdminToken == "" {
		s.writeServiceError(w, r, makeAPIError(http.StatusForbidden, "forbidden", ErrCodeForbidden,
			fmt.Errorf("admin endpoints are not configured")))
		return false
	}
	token := r.Header.Get(api.AdminTokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AdminToken)) != 1 {
		s.writeServiceError(w, r, makeAPIError(http.StatusForbidden, "forbidden", ErrCodeForbidden,
			fmt.Errorf("invalid admin token")))
		return false
	}
	return true
}

func (s *Server) handleAdminReap(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAdmin(w, r) {
		return
	}
	if s.reaper == nil {
		s.writeServiceError(w, r, internalError(fmt.Errorf("reaper is not configured")))
		return
	}
	resp, err := s.reaper.Sweep(r.Context())
	if err != nil {
		s.writeServiceError(w, r, internalError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}
