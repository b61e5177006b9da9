// Package transfer moves file bytes to object storage, either part by part
// to presigned URLs or as whole objects to a user supplied bucket.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/gostones/cloudattach/internal"
	"github.com/gostones/cloudattach/internal/retry"
)

// ErrMissingETag is returned when storage accepted a part without naming it.
var ErrMissingETag = errors.New("response carries no etag header")

// PartUploader PUTs byte ranges to presigned part URLs.
type PartUploader struct {
	c      *resty.Client
	policy retry.Policy
	log    *slog.Logger
}

func NewPartUploader(opts ...Option) *PartUploader {
	o := newOptions(opts)
	c := resty.New()
	if o.client != nil {
		c = resty.NewWithClient(o.client)
	}
	return &PartUploader{
		c:      c,
		policy: o.policy,
		log:    o.log,
	}
}

// Put sends body to url and returns the part identifier reported by storage.
// Failed attempts, including a success without an ETag, are retried against
// the same URL with the same bytes.
func (u *PartUploader) Put(ctx context.Context, url string, part int64, body []byte) (string, error) {
	var etag string
	op := func() error {
		var err error
		etag, err = u.put(ctx, url, body)
		return err
	}
	notify := func(err error, attempt int, delay time.Duration) {
		u.log.Warn("part upload failed, retrying", "part", part, "attempt", attempt, "delay", delay, "error", err)
	}
	if err := retry.Do(ctx, u.policy, op, notify); err != nil {
		return "", fmt.Errorf("upload part %d: %w", part, err)
	}
	return etag, nil
}

func (u *PartUploader) put(ctx context.Context, url string, body []byte) (string, error) {
	resp, err := u.c.R().
		SetContext(ctx).
		SetHeader("Content-Type", internal.DefaultContentType).
		SetBody(body).
		Put(url)
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("unexpected status %s", resp.Status())
	}
	etag := internal.HeaderValue(resp.Header(), "etag")
	if etag == "" {
		return "", ErrMissingETag
	}
	return etag, nil
}
