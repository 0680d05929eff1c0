package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"aurec/internal/blobstore"
	"aurec/internal/config"
	"aurec/internal/hoststore"
	"aurec/internal/server"
)

func newSrvCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "srv",
		Short: "Run the aurec upload server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg == nil {
				return fmt.Errorf("config not initialized")
			}
			if cfg.DBPath == "" {
				return fmt.Errorf("db path is required")
			}

			logger := slog.Default().With("component", "server")

			addr, err := server.ListenAddr(cfg.APIURL)
			if err != nil {
				return err
			}

			logger.Info("opening host store", "path", cfg.DBPath)
			host, err := hoststore.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer host.Close()

			blobs, err := blobstore.NewLocalCAS(filepath.Join(cfg.DataDir, "blobs"))
			if err != nil {
				return err
			}

			maxPiece := cfg.Upload.ChunkSizeBytes * 2
			receiver, err := server.NewChunkReceiver(
				filepath.Join(cfg.DataDir, "spool"), maxPiece, cfg.Upload.MaxArtifactBytes, logger)
			if err != nil {
				return err
			}

			finalizer := server.NewFinalizationService(
				host, blobs, cfg.AllowedMediaTypes(), cfg.Upload.MaxArtifactBytes, logger)

			srv := server.New(addr, receiver, finalizer, server.Options{
				Version:           version,
				MaxPieceBytes:     maxPiece,
				MaxArtifactBytes:  cfg.Upload.MaxArtifactBytes,
				AllowedMediaTypes: cfg.AllowedMediaTypes(),
				RateLimitMax:      cfg.Upload.RateLimitMax,
				RateLimitWindow:   cfg.RateLimitWindow(),
				RelaySecretHash:   cfg.Upload.RelaySecretHash,
			}, logger)

			reaper := server.NewStaleArtifactReaper(
				receiver, cfg.TempArtifactTTL(), cfg.ReapInterval(), logger)
			srv.SetReaper(reaper)
			go reaper.Run(cmd.Context())

			return srv.ListenAndServe()
		},
	}
}
