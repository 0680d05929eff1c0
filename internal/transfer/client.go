// Package transfer moves finalized capture artifacts to the upload server:
// chunked resumable delivery while online, durable queueing while offline,
// and an in-order drain on reconnect.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"aurec/internal/api"
	"aurec/internal/models"
	"aurec/internal/queue"
)

// ErrOffline reports that delivery was skipped because the client is
// offline. The item was handed to the local queue instead.
var ErrOffline = errors.New("offline: submission queued")

const (
	defaultHTTPTimeout = 30 * time.Second
	minPieceBytes      = 1
)

// Connectivity reports whether the network is currently usable. The zero
// check happens before any network attempt so offline submissions never
// pay a timeout.
type Connectivity func() bool

// Options tunes the transfer engine.
type Options struct {
	ChunkSize   int64
	RetryDelays []time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// Client is the chunked resumable transfer client. Pieces of one item are
// strictly sequential; the next piece is not sent before the prior one's
// result is known, keeping offset tracking correct.
type Client struct {
	rest   *resty.Client
	queue  queue.Store
	online Connectivity
	opts   Options
	logger *slog.Logger

	// sleep is swapped in tests to observe the backoff schedule.
	sleep func(time.Duration)
}

// NewClient creates a transfer client for the given server base URL.
func NewClient(baseURL string, queueStore queue.Store, online Connectivity, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 512 * 1024
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if online == nil {
		online = func() bool { return true }
	}

	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0)

	return &Client{
		rest:   rest,
		queue:  queueStore,
		online: online,
		opts:   opts,
		logger: logger.With("component", "transfer"),
		sleep:  time.Sleep,
	}
}

// Deliver attempts immediate delivery when online and falls back to the
// queue on any failure; offline it enqueues without a network attempt. The
// artifact is never lost: every non-error exit either completed the upload
// (queued=false) or persisted the item with its current offset
// (queued=true). err is non-nil only when both paths failed.
func (c *Client) Deliver(ctx context.Context, item *models.SubmissionItem) (resp *api.ChunkResponse, queued bool, err error) {
	if err := item.Validate(); err != nil {
		return nil, false, err
	}

	if !c.online() {
		if err := c.queue.Upsert(ctx, item); err != nil {
			return nil, false, fmt.Errorf("queue offline submission %s: %w", item.ID, err)
		}
		c.logger.Info("offline, submission queued", "id", item.ID)
		return nil, true, nil
	}

	resp, sendErr := c.Send(ctx, item, nil)
	if sendErr != nil {
		if qErr := c.queue.Upsert(ctx, item); qErr != nil {
			return nil, false, fmt.Errorf("delivery failed (%v) and queueing failed: %w", sendErr, qErr)
		}
		c.logger.Warn("delivery failed, submission queued",
			"id", item.ID, "offset", item.UploadedOffset, "error", sendErr)
		return nil, true, nil
	}
	return resp, false, nil
}

// Send delivers bytes from item.UploadedOffset onward. persist, when
// non-nil, is invoked after every acknowledged piece so partial progress
// survives a crash. On failure the item keeps the offset reached so far.
func (c *Client) Send(ctx context.Context, item *models.SubmissionItem, persist func(context.Context, *models.SubmissionItem) error) (*api.ChunkResponse, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}
	total := int64(len(item.Artifact))
	if item.Delivered() {
		return nil, fmt.Errorf("submission %s already fully uploaded", item.ID)
	}

	var last *api.ChunkResponse
	for item.UploadedOffset < total {
		pieceLen := c.opts.ChunkSize
		if remaining := total - item.UploadedOffset; pieceLen > remaining {
			pieceLen = remaining
		}
		isLast := item.UploadedOffset+pieceLen == total

		resp, err := c.sendRange(ctx, item, pieceLen, isLast, persist)
		if err != nil {
			return nil, err
		}
		last = resp
	}

	if last == nil || !last.Complete {
		return last, fmt.Errorf("upload of %s finished without finalization", item.ID)
	}
	return last, nil
}

// sendRange delivers item.Artifact[offset : offset+length) with retry,
// backoff, and split-on-413. The tracked offset advances only on server
// acknowledgement, so it is monotone by construction.
func (c *Client) sendRange(ctx context.Context, item *models.SubmissionItem, length int64, isLast bool, persist func(context.Context, *models.SubmissionItem) error) (*api.ChunkResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.postChunk(ctx, item, length, isLast)
		if err == nil {
			if err := item.AdvanceOffset(length); err != nil {
				return nil, err
			}
			now := time.Now().UTC()
			item.LastAttemptAt = &now
			if persist != nil {
				if err := persist(ctx, item); err != nil {
					return nil, fmt.Errorf("persist progress for %s: %w", item.ID, err)
				}
			}
			return resp, nil
		}

		var apiErr *api.APIError
		if !errors.As(err, &apiErr) {
			return nil, err
		}

		switch {
		case apiErr.IsTooLarge():
			if length <= minPieceBytes {
				return nil, fmt.Errorf("piece of %d bytes still too large: %w", length, apiErr)
			}
			half := length / 2
			c.logger.Debug("piece rejected as too large, splitting",
				"id", item.ID, "length", length, "half", half)
			if _, err := c.sendRange(ctx, item, half, false, persist); err != nil {
				return nil, err
			}
			return c.sendRange(ctx, item, length-half, isLast, persist)

		case apiErr.IsRateLimited():
			if attempt >= c.opts.MaxAttempts-1 {
				return nil, fmt.Errorf("rate limited after %d attempts: %w", attempt+1, apiErr)
			}
			delay := c.retryDelay(attempt)
			c.logger.Debug("rate limited, backing off",
				"id", item.ID, "attempt", attempt+1, "delay", delay)
			if err := c.waitRetry(ctx, delay); err != nil {
				return nil, err
			}

		default:
			return nil, err
		}
	}
}

// retryDelay returns the configured delay for the given retry, repeating
// the final schedule entry when attempts outnumber configured delays.
func (c *Client) retryDelay(attempt int) time.Duration {
	delays := c.opts.RetryDelays
	if len(delays) == 0 {
		return time.Second << uint(attempt)
	}
	if attempt >= len(delays) {
		return delays[len(delays)-1]
	}
	return delays[attempt]
}

func (c *Client) waitRetry(ctx context.Context, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleep(delay)
	return ctx.Err()
}

func (c *Client) postChunk(ctx context.Context, item *models.SubmissionItem, length int64, isLast bool) (*api.ChunkResponse, error) {
	offset := item.UploadedOffset
	piece := item.Artifact[offset : offset+length]

	fields := map[string]string{
		api.FieldSessionID: item.ID,
		api.FieldOffset:    strconv.FormatInt(offset, 10),
		api.FieldTotalSize: strconv.FormatInt(int64(len(item.Artifact)), 10),
		api.FieldIsLast:    strconv.FormatBool(isLast),
	}
	if isLast {
		formJSON, err := json.Marshal(item.FormFields)
		if err != nil {
			return nil, fmt.Errorf("encode form fields: %w", err)
		}
		fields[api.FieldFormJSON] = string(formJSON)
		fields[api.FieldMediaType] = item.MediaType
		fields[api.FieldFileName] = item.FileName
		if item.RecordID != "" {
			fields[api.FieldRecordID] = item.RecordID
		}
		if item.OwnerID != "" {
			fields[api.FieldOwnerID] = item.OwnerID
		}
	}

	var result api.ChunkResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetMultipartFormData(fields).
		SetMultipartField(api.FieldPayload, item.FileName, "application/octet-stream", bytes.NewReader(piece)).
		SetResult(&result).
		Post("/v1/uploads/chunk")
	if err != nil {
		return nil, fmt.Errorf("post chunk for %s: %w", item.ID, err)
	}
	if resp.IsError() {
		return nil, api.DecodeError(resp.StatusCode(), bytes.NewReader(resp.Body()))
	}
	return &result, nil
}

// RemoteOffset asks the server how many bytes it already holds for a
// session, so a restarted client can skip what was acknowledged before the
// response was lost.
func (c *Client) RemoteOffset(ctx context.Context, sessionID string) (int64, error) {
	var result api.OffsetResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/v1/uploads/" + url.PathEscape(sessionID) + "/offset")
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, api.DecodeError(resp.StatusCode(), bytes.NewReader(resp.Body()))
	}
	return result.ReceivedBytes, nil
}

// Drain walks the queue in insertion order and delivers each pending item,
// halting at the first failure. Items leave the queue only after the server
// confirms finalization.
func (c *Client) Drain(ctx context.Context) (int, error) {
	if !c.online() {
		return 0, ErrOffline
	}

	items, err := c.queue.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list queue: %w", err)
	}

	drained := 0
	for i := range items {
		item := &items[i]

		// The server may have acknowledged bytes whose response the client
		// never saw. Trust whichever offset is further along.
		if remote, err := c.RemoteOffset(ctx, item.ID); err == nil && remote > item.UploadedOffset {
			if remote <= int64(len(item.Artifact)) {
				item.UploadedOffset = remote
			}
		}

		resp, err := c.Send(ctx, item, func(ctx context.Context, it *models.SubmissionItem) error {
			return c.queue.Upsert(ctx, it)
		})
		if err != nil {
			if upsertErr := c.queue.Upsert(ctx, item); upsertErr != nil {
				c.logger.Error("failed to persist partial progress",
					"id", item.ID, "error", upsertErr)
			}
			return drained, fmt.Errorf("drain halted at %s: %w", item.ID, err)
		}
		if !resp.Complete {
			return drained, fmt.Errorf("drain halted at %s: upload not finalized", item.ID)
		}
		if err := c.queue.Remove(ctx, item.ID); err != nil && !errors.Is(err, queue.ErrNotFound) {
			return drained, fmt.Errorf("remove delivered submission %s: %w", item.ID, err)
		}
		drained++
		c.logger.Info("queued submission delivered", "id", item.ID, "record_id", resp.RecordID)
	}
	return drained, nil
}
