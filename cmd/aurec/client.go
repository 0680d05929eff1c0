package main

import (
	"log/slog"
	"net"
	"net/url"
	"time"

	"aurec/internal/config"
	"aurec/internal/queue"
	"aurec/internal/transfer"
)

const connectivityProbeTimeout = 2 * time.Second

// openQueue opens the local submission queue per config; the flat-file
// directory defaults to a sibling of the database.
func openQueue(cfg *config.Config) (queue.Store, error) {
	dir := cfg.Queue.Dir
	if dir == "" {
		dir = cfg.DataDir + "/queue"
	}
	return queue.Open(queue.Options{
		Backend: cfg.Queue.Backend,
		DBPath:  cfg.DBPath,
		Dir:     dir,
	})
}

// connectivityProbe reports whether the upload server is reachable. A
// plain TCP dial keeps the offline check cheap; it runs before every
// delivery attempt.
func connectivityProbe(apiURL string) transfer.Connectivity {
	return func() bool {
		u, err := url.Parse(apiURL)
		if err != nil || u.Host == "" {
			return false
		}
		host := u.Host
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), defaultPortFor(u.Scheme))
		}
		conn, err := net.DialTimeout("tcp", host, connectivityProbeTimeout)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

func defaultPortFor(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

func newTransferClient(cfg *config.Config, store queue.Store, logger *slog.Logger) *transfer.Client {
	return transfer.NewClient(cfg.APIURL, store, connectivityProbe(cfg.APIURL), transfer.Options{
		ChunkSize:   cfg.Upload.ChunkSizeBytes,
		RetryDelays: cfg.RetryDelays(),
		MaxAttempts: cfg.Upload.MaxAttempts,
	}, logger)
}
