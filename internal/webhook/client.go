package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/outreachd/campaign-engine/internal/retry"
)

const (
	headerEventType = "X-Event-Type"
	headerTimestamp = "X-Timestamp"
	headerSignature = "X-Signature"

	// DefaultExcerptLimit bounds the stored response body excerpt.
	DefaultExcerptLimit = 512
)

// DeliveryResult is the audit outcome of one delivery, success or not.
type DeliveryResult struct {
	Success         bool
	Attempts        int
	LastStatusCode  int // 0 when no HTTP response was received
	ResponseExcerpt string
	Err             error
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("endpoint returned status %d", e.code)
}

// Client delivers one signed event to one subscriber endpoint. Any non-2xx
// response or transport failure is retryable; the executor bounds attempts
// and backoff.
type Client struct {
	http         *http.Client
	exec         retry.Executor
	excerptLimit int
	now          func() time.Time
}

// ClientOpts tunes the delivery client; zero values take the standard
// policy (10s per attempt, 3 attempts, 0s/2s/6s backoff).
type ClientOpts struct {
	Timeout      time.Duration
	MaxAttempts  int
	Backoff      []time.Duration
	ExcerptLimit int
	Sleep        func(ctx context.Context, d time.Duration) error
	Now          func() time.Time
}

func NewClient(opts ClientOpts) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = []time.Duration{2 * time.Second, 6 * time.Second}
	}
	if opts.ExcerptLimit <= 0 {
		opts.ExcerptLimit = DefaultExcerptLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		http: &http.Client{},
		exec: retry.Executor{
			MaxAttempts:       opts.MaxAttempts,
			Delays:            opts.Backoff,
			PerAttemptTimeout: opts.Timeout,
			Sleep:             opts.Sleep,
		},
		excerptLimit: opts.ExcerptLimit,
		now:          opts.Now,
	}
}

// Deliver signs the payload and POSTs it to destinationURL, retrying per the
// bounded schedule. The returned result is populated for auditing regardless
// of outcome. The secret is used for signing only and never logged.
func (c *Client) Deliver(ctx context.Context, destinationURL, secret, eventType string, payload []byte) DeliveryResult {
	ts := c.now().Unix()
	signature := Sign(secret, ts, payload)

	var lastStatus int
	var lastExcerpt string

	attempts, err := c.exec.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, destinationURL, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(headerEventType, eventType)
		req.Header.Set(headerTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(headerSignature, signature)

		res, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(res.Body, int64(c.excerptLimit)))
		lastStatus = res.StatusCode
		lastExcerpt = string(body)

		if res.StatusCode/100 != 2 {
			return &statusError{code: res.StatusCode}
		}
		return nil
	})

	return DeliveryResult{
		Success:         err == nil,
		Attempts:        attempts,
		LastStatusCode:  lastStatus,
		ResponseExcerpt: lastExcerpt,
		Err:             err,
	}
}
