package main

import (
	"context"
	"errors"
	"net"

	"aurec/internal/api"
	"aurec/internal/capture"
	"aurec/internal/transfer"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "unauthorized", "forbidden":
			lines = append(lines, "hint: verify the relay secret configuration (upload.relay_secret_hash).")
		case "resource_exhausted":
			lines = append(lines, "hint: the server is rate limiting uploads; retry shortly or drain the queue later.")
		case "payload_too_large":
			lines = append(lines, "hint: lower upload.chunk_size_bytes or upload.max_artifact_bytes to match the server.")
		}
		if apiErr.Status >= 500 {
			lines = append(lines, "hint: server returned an internal error; check server logs for details.")
		}
		return uniqueLines(lines)
	}

	switch {
	case errors.Is(err, capture.ErrDeviceNotFound):
		lines = append(lines, "hint: install the capture command or change capture.command in config.")
	case errors.Is(err, capture.ErrDeviceBusy):
		lines = append(lines, "hint: another process is using the audio device.")
	case errors.Is(err, capture.ErrPermissionDenied):
		lines = append(lines, "hint: grant microphone access to this process and retry.")
	case errors.Is(err, transfer.ErrOffline):
		lines = append(lines, "hint: the submission is safe in the local queue; run: aurec queue drain")
	case errors.Is(err, context.DeadlineExceeded):
		lines = append(lines, "hint: request timed out; check server health at AUREC_API_URL.")
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			lines = append(lines,
				"hint: ensure an aurec server is running at AUREC_API_URL.",
				"hint: start a local server with: aurec srv",
				"hint: offline submissions stay queued; run: aurec queue drain once connected.",
			)
		}
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
