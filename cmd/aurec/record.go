package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"aurec/internal/capture"
	"aurec/internal/config"
	"aurec/internal/models"
	"aurec/internal/transfer"
)

func newRecordCmd(cfg *config.Config, outputFormat *string) *cobra.Command {
	var (
		title    string
		language string
		consent  bool
		ownerID  string
		recordID string
		metaFile string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record audio and submit it, queueing when offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := collectFormFields(metaFile, title, language, consent, ownerID, recordID)
			if err != nil {
				return err
			}

			logger := slog.Default()
			device := capture.NewExecDevice(cfg.Capture.Command, cfg.Capture.Args, cfg.Capture.MediaType)
			session := capture.NewSession(device, cfg.CaptureCeiling(), logger)

			if err := session.Start(); err != nil {
				return fmt.Errorf("start capture: %w", err)
			}

			artifact, err := waitAndStop(cmd, session, duration)
			if err != nil {
				return err
			}
			logger.Info("capture complete",
				"bytes", len(artifact.Bytes), "duration", artifact.Duration.Round(time.Second))

			store, err := openQueue(cfg)
			if err != nil {
				return fmt.Errorf("open queue: %w", err)
			}
			defer store.Close()

			client := newTransferClient(cfg, store, logger)
			orch := transfer.NewOrchestrator(client, session, logger)

			resp, queued, err := orch.Submit(cmd.Context(), artifact, fields)
			if err != nil {
				return err
			}
			if queued {
				return writeResult(*outputFormat, map[string]any{"queued": true})
			}
			return writeResult(*outputFormat, resp)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "recording title (required unless set in --meta)")
	cmd.Flags().StringVar(&language, "language", "", "recording language")
	cmd.Flags().BoolVar(&consent, "consent", false, "confirm the speaker consented to this recording")
	cmd.Flags().StringVar(&ownerID, "owner", "", "owner id to attribute the recording to")
	cmd.Flags().StringVar(&recordID, "record", "", "existing record id to resubmit into")
	cmd.Flags().StringVar(&metaFile, "meta", "", "YAML file of additional form fields")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop automatically after this long (default: stop on Ctrl-C)")
	return cmd
}

// waitAndStop blocks until the duration elapses, the user interrupts, or
// the session hits its ceiling, then finalizes the capture.
func waitAndStop(cmd *cobra.Command, session *capture.Session, duration time.Duration) (*capture.Artifact, error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if duration > 0 {
		select {
		case <-time.After(duration):
		case <-ctx.Done():
		}
	} else {
		fmt.Fprintln(os.Stderr, "recording... press Ctrl-C to stop")
		<-ctx.Done()
	}

	artifact, err := session.Stop()
	if err != nil {
		if artifact != nil && len(artifact.Bytes) > 0 {
			fmt.Fprintf(os.Stderr, "warning: capture ended with error, keeping %d bytes: %v\n",
				len(artifact.Bytes), err)
			return artifact, nil
		}
		return nil, fmt.Errorf("stop capture: %w", err)
	}
	return artifact, nil
}

// collectFormFields merges the --meta YAML document with the explicit
// flags; flags win. The YAML mapping keeps its document order.
func collectFormFields(metaFile, title, language string, consent bool, ownerID, recordID string) (models.FormFields, error) {
	var fields models.FormFields

	if metaFile != "" {
		data, err := os.ReadFile(metaFile)
		if err != nil {
			return nil, fmt.Errorf("read meta file: %w", err)
		}
		fields, err = decodeMetaYAML(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", metaFile, err)
		}
	}

	if title != "" {
		fields = fields.Set("title", title)
	}
	if language != "" {
		fields = fields.Set("language", language)
	}
	if consent {
		fields = fields.Set("consent", "true")
	}
	if ownerID != "" {
		fields = fields.Set("owner_id", ownerID)
	}
	if recordID != "" {
		fields = fields.Set("record_id", recordID)
	}
	return fields, nil
}

// decodeMetaYAML reads a YAML mapping into ordered form fields. A plain
// map would shuffle the keys, so the document is walked as a node tree.
func decodeMetaYAML(data []byte) (models.FormFields, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("meta file must be a YAML mapping")
	}

	fields := make(models.FormFields, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		value := root.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("meta field %q must be a scalar", key.Value)
		}
		fields = append(fields, models.FormField{Key: key.Value, Value: value.Value})
	}
	return fields, nil
}
