package main

import (
	"bytes"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"aurec/internal/api"
	"aurec/internal/config"
)

const (
	adminHTTPTimeout = 30 * time.Second
	adminTokenEnvKey = "AUREC_ADMIN_TOKEN"
)

func newInfoCmd(cfg *config.Config, outputFormat *string) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show upload server limits and version",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out api.InfoResponse
			resp, err := adminClient(cfg).R().
				SetContext(cmd.Context()).
				SetResult(&out).
				Get("/v1/info")
			if err != nil {
				return err
			}
			if resp.IsError() {
				return api.DecodeError(resp.StatusCode(), bytes.NewReader(resp.Body()))
			}
			return writeResult(*outputFormat, out)
		},
	}
}

func newReapCmd(cfg *config.Config, outputFormat *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Trigger a stale upload sweep on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out api.ReapResponse
			req := adminClient(cfg).R().
				SetContext(cmd.Context()).
				SetResult(&out)
			if token := strings.TrimSpace(os.Getenv(adminTokenEnvKey)); token != "" {
				req.SetHeader(api.AdminTokenHeader, token)
			}
			resp, err := req.Post("/v1/admin/reap")
			if err != nil {
				return err
			}
			if resp.IsError() {
				return api.DecodeError(resp.StatusCode(), bytes.NewReader(resp.Body()))
			}
			return writeResult(*outputFormat, out)
		},
	}
}

func adminClient(cfg *config.Config) *resty.Client {
	return resty.New().
		SetBaseURL(cfg.APIURL).
		SetTimeout(adminHTTPTimeout).
		SetRetryCount(0)
}
