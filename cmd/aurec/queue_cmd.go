package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"aurec/internal/config"
	"aurec/internal/models"
	"aurec/internal/queue"
)

func newQueueCmd(cfg *config.Config, outputFormat *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drain the local submission queue",
	}

	cmd.AddCommand(
		newQueueListCmd(cfg, outputFormat),
		newQueueDrainCmd(cfg, outputFormat),
		newQueueRemoveCmd(cfg),
	)
	return cmd
}

// queueEntry is the list view of a pending submission; the artifact bytes
// stay out of the output.
type queueEntry struct {
	ID        string `json:"id" yaml:"id"`
	SizeBytes int64  `json:"size_bytes" yaml:"size_bytes"`
	Uploaded  int64  `json:"uploaded_bytes" yaml:"uploaded_bytes"`
	MediaType string `json:"media_type" yaml:"media_type"`
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
	CreatedAt string `json:"created_at" yaml:"created_at"`
}

func newQueueListCmd(cfg *config.Config, outputFormat *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List submissions waiting for delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			items, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			entries := make([]queueEntry, 0, len(items))
			for _, item := range items {
				entries = append(entries, toQueueEntry(item))
			}
			return writeResult(*outputFormat, entries)
		},
	}
}

func toQueueEntry(item models.SubmissionItem) queueEntry {
	title, _ := item.FormFields.Get("title")
	return queueEntry{
		ID:        item.ID,
		SizeBytes: int64(len(item.Artifact)),
		Uploaded:  item.UploadedOffset,
		MediaType: item.MediaType,
		Title:     title,
		CreatedAt: item.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func newQueueDrainCmd(cfg *config.Config, outputFormat *string) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Deliver every queued submission in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			client := newTransferClient(cfg, store, slog.Default())
			drained, err := client.Drain(cmd.Context())
			if err != nil {
				if drained > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "delivered %d submission(s) before halting\n", drained)
				}
				return err
			}
			return writeResult(*outputFormat, map[string]int{"drained": drained})
		},
	}
}

func newQueueRemoveCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Drop a queued submission without delivering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Remove(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, queue.ErrNotFound) {
					return fmt.Errorf("no queued submission %s", args[0])
				}
				return err
			}
			return writePlain("removed %s\n", args[0])
		},
	}
}
