package tablebase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/SzilBalazs/bctools/internal/domain"
	"golang.org/x/time/rate"
)

// ClientOptions configures the HTTP client.
type ClientOptions struct {
	// Timeout is the longest the body may go without delivering a byte.
	// A steady download may take as long as it needs; 0 disables the limit.
	// Default: 60s
	Timeout time.Duration

	// RetryAttempts is the number of retries after the first attempt.
	// Default: 0 (no retry)
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 30s
	RetryMaxBackoff time.Duration

	// RateLimit caps requests per second; 0 disables the limiter.
	RateLimit float64
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:         60 * time.Second,
		RetryBackoff:    time.Second,
		RetryMaxBackoff: 30 * time.Second,
	}
}

// Client issues the plain GET requests against a tablebase host.
type Client struct {
	client  *http.Client
	opts    ClientOptions
	limiter *rate.Limiter
}

func NewClient(opts ClientOptions) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	c := &Client{
		client: &http.Client{Transport: transport},
		opts:   opts,
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return c
}

// Get performs a GET and returns the body of a 2xx response. Failures are
// reported as *domain.FetchError. The caller closes the body.
func (c *Client) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, &domain.FetchError{URL: url, Err: err}
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &domain.FetchError{URL: url, Err: err}
			}
		}

		reqCtx, cancel := context.WithCancel(ctx)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			cancel()
			return nil, &domain.FetchError{URL: url, Err: fmt.Errorf("create request: %w", err)}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			cancel()
			lastErr = &domain.FetchError{URL: url, Err: err}
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return newIdleBody(resp.Body, c.opts.Timeout, cancel), nil
		}

		resp.Body.Close()
		cancel()
		lastErr = &domain.FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", resp.Status),
		}

		// Client errors will not fix themselves
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, lastErr
		}
	}

	return nil, lastErr
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if c.opts.RetryMaxBackoff > 0 && backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

// ErrIdleTimeout is returned by a response body that stalled for longer than
// ClientOptions.Timeout.
var ErrIdleTimeout = errors.New("body read idle timeout")

// idleBody aborts the request once no Read has returned data for timeout.
// Each successful Read pushes the deadline back.
type idleBody struct {
	rc      io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
	cancel  context.CancelFunc
}

func newIdleBody(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) io.ReadCloser {
	b := &idleBody{rc: rc, timeout: timeout, cancel: cancel}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, func() {
			b.expired.Store(true)
			cancel()
		})
	}
	return b
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if b.expired.Load() {
		return n, fmt.Errorf("no data for %s: %w", b.timeout, ErrIdleTimeout)
	}
	if n > 0 && b.timer != nil {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	err := b.rc.Close()
	b.cancel()
	return err
}
