package httputil

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"turnsync/models"
)

// Client wraps an http.Client with a shared rate limiter and one uniform
// retry/backoff policy. Every outbound API call goes through here; no
// call site carries its own retry loop.
type Client struct {
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	maxBackoff time.Duration
}

type Options struct {
	Timeout     time.Duration
	RatePerSec  float64
	Burst       int
	MaxRetries  int
	MaxInterval time.Duration
}

func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RatePerSec == 0 {
		opts.RatePerSec = 5
	}
	if opts.Burst == 0 {
		opts.Burst = 5
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.MaxInterval == 0 {
		opts.MaxInterval = 30 * time.Second
	}

	return &Client{
		http:       &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		maxRetries: uint64(opts.MaxRetries),
		maxBackoff: opts.MaxInterval,
	}
}

// hintedBackOff defers to a server-supplied Retry-After for the next
// wait when one was given, instead of the computed interval. The hint is
// consumed once; subsequent waits fall back to the exponential policy.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if b.hint > 0 {
		h := b.hint
		b.hint = 0
		if next == backoff.Stop {
			return backoff.Stop
		}
		return h
	}
	return next
}

func (b *hintedBackOff) Reset() {
	b.hint = 0
	b.BackOff.Reset()
}

// Do sends a request under the shared limiter, retrying 429/503 and
// transport failures with exponential backoff and jitter. A
// server-supplied Retry-After replaces the computed wait for that
// attempt. After the retry budget the terminal error surfaces for that
// single call; the caller's run continues.
func (c *Client) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = c.maxBackoff
	bo.MaxElapsedTime = 0 // retry count is the budget, not wall time

	hinted := &hintedBackOff{BackOff: bo}
	policy := backoff.WithContext(backoff.WithMaxRetries(hinted, c.maxRetries), ctx)

	var resp *http.Response
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := build(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		r, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrTransientNetwork, err)
		}

		switch r.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			hinted.hint = retryAfter(r)
			r.Body.Close()
			return fmt.Errorf("%w: status %d", models.ErrRateLimited, r.StatusCode)
		}

		resp = r
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

// retryAfter parses a Retry-After header, in seconds or HTTP-date form.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
