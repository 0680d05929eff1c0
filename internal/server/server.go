// Package server implements the upload side of the pipeline: the chunk
// receiver, the finalization service that turns assembled artifacts into
// durable records, and the HTTP surface in front of both.
package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	allowRemoteEnvKey = "AUREC_ALLOW_REMOTE"
	adminTokenEnvKey  = "AUREC_ADMIN_TOKEN"
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 60 * time.Second
	writeTimeout      = 60 * time.Second
	idleTimeout       = 60 * time.Second
)

// Options tunes the HTTP surface.
type Options struct {
	Version           string
	MaxPieceBytes     int64
	MaxArtifactBytes  int64
	AllowedMediaTypes []string
	RateLimitMax      int
	RateLimitWindow   time.Duration
	RelaySecretHash   string
	AdminToken        string
}

// Server wraps the HTTP handlers for the upload API.
type Server struct {
	addr      string
	receiver  *ChunkReceiver
	finalizer *FinalizationService
	limiter   *uploadRateLimiter
	reaper    *StaleArtifactReaper
	opts      Options
	logger    *slog.Logger
}

// New creates a server over the given receiver and finalizer.
func New(addr string, receiver *ChunkReceiver, finalizer *FinalizationService, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.AdminToken == "" {
		opts.AdminToken = strings.TrimSpace(os.Getenv(adminTokenEnvKey))
	}
	return &Server{
		addr:      addr,
		receiver:  receiver,
		finalizer: finalizer,
		limiter:   newUploadRateLimiter(opts.RateLimitMax, opts.RateLimitWindow),
		opts:      opts,
		logger:    logger,
	}
}

// Handler returns the full HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.withRequestLogging(s.routes())
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.log().Info("starting server", "addr", s.addr)
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	return server.ListenAndServe()
}

// ListenAddr converts a base API URL into a listen address.
func ListenAddr(apiURL string) (string, error) {
	if apiURL == "" {
		return "", fmt.Errorf("api url is required")
	}
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host := u.Hostname()
		if !isAllowedListenHost(host) {
			return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
		}
		return u.Host, nil
	}

	host, _, err := net.SplitHostPort(apiURL)
	if err == nil && !isAllowedListenHost(host) {
		return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
	}

	return apiURL, nil
}

func isAllowedListenHost(host string) bool {
	if host == "" {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(allowRemoteEnvKey)), "true") {
		return true
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// rateLimitKey buckets requests by client host.
func rateLimitKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
