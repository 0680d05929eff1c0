package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"aurec/internal/api"
	"aurec/internal/capture"
	"aurec/internal/models"
)

// SubmissionForm is the typed view of the metadata a submission must carry.
// Consent is mandatory: without it the recording never leaves the device.
type SubmissionForm struct {
	Title    string `mapstructure:"title" validate:"required"`
	Consent  bool   `mapstructure:"consent" validate:"required,eq=true"`
	Language string `mapstructure:"language"`
	OwnerID  string `mapstructure:"owner_id"`
	RecordID string `mapstructure:"record_id"`
}

// Resetter returns the capture side to a reusable state after a submission
// was delivered or safely queued.
type Resetter interface {
	Reset() error
}

// Orchestrator composes capture output, form metadata, and connectivity
// state into submissions.
type Orchestrator struct {
	client   *Client
	resetter Resetter
	validate *validator.Validate
	logger   *slog.Logger
	newID    func() string
}

// NewOrchestrator creates an orchestrator over the transfer client.
// resetter may be nil when there is no capture UI to reset.
func NewOrchestrator(client *Client, resetter Resetter, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		client:   client,
		resetter: resetter,
		validate: validator.New(),
		logger:   logger.With("component", "orchestrator"),
		newID:    uuid.NewString,
	}
}

// ParseForm decodes the ordered form fields into the typed form and
// validates required fields and consent.
func (o *Orchestrator) ParseForm(fields models.FormFields) (*SubmissionForm, error) {
	var form SubmissionForm
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &form,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(fields.Map()); err != nil {
		return nil, fmt.Errorf("decode form fields: %w", err)
	}
	if err := o.validate.Struct(&form); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			field := invalid[0]
			if field.Field() == "Consent" {
				return nil, fmt.Errorf("consent is required before submission")
			}
			return nil, fmt.Errorf("form field %s is invalid (%s)", field.Field(), field.Tag())
		}
		return nil, err
	}
	return &form, nil
}

// Submit validates the form, builds a submission item from the finalized
// artifact, and delivers or enqueues it. queued reports that the item is
// waiting in the local queue rather than delivered; err is non-nil only
// when the artifact could be neither delivered nor queued.
func (o *Orchestrator) Submit(ctx context.Context, artifact *capture.Artifact, fields models.FormFields) (resp *api.ChunkResponse, queued bool, err error) {
	if artifact == nil || len(artifact.Bytes) == 0 {
		return nil, false, fmt.Errorf("no captured audio to submit")
	}
	form, err := o.ParseForm(fields)
	if err != nil {
		return nil, false, err
	}

	item := &models.SubmissionItem{
		ID:         o.newID(),
		Artifact:   artifact.Bytes,
		FormFields: fields,
		MediaType:  artifact.MediaType,
		FileName:   fileNameFor(artifact.MediaType),
		RecordID:   form.RecordID,
		OwnerID:    form.OwnerID,
		CreatedAt:  time.Now().UTC(),
	}

	resp, queued, err = o.client.Deliver(ctx, item)
	if err != nil {
		return nil, false, err
	}
	if queued {
		o.logger.Info("submission queued for later delivery", "id", item.ID)
	} else {
		o.logger.Info("submission delivered", "id", item.ID, "record_id", resp.RecordID)
	}

	if o.resetter != nil {
		if resetErr := o.resetter.Reset(); resetErr != nil {
			o.logger.Warn("capture reset failed", "error", resetErr)
		}
	}
	return resp, queued, err
}

// WatchConnectivity drains the queue whenever a connectivity-restored
// signal arrives, until ctx is cancelled.
func (o *Orchestrator) WatchConnectivity(ctx context.Context, restored <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-restored:
			if !ok {
				return
			}
			drained, err := o.client.Drain(ctx)
			if err != nil && !errors.Is(err, ErrOffline) {
				o.logger.Warn("queue drain halted", "drained", drained, "error", err)
				continue
			}
			if drained > 0 {
				o.logger.Info("queue drained", "drained", drained)
			}
		}
	}
}

func fileNameFor(mediaType string) string {
	ext := map[string]string{
		"audio/webm":  ".webm",
		"audio/ogg":   ".ogg",
		"audio/mpeg":  ".mp3",
		"audio/mp4":   ".m4a",
		"audio/wav":   ".wav",
		"audio/wave":  ".wav",
		"audio/x-wav": ".wav",
	}[mediaType]
	if ext == "" {
		ext = ".bin"
	}
	return "recording-" + time.Now().UTC().Format("20060102-150405") + ext
}
