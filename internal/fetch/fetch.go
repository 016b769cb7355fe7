// Package fetch retrieves raw listing pages under a shared concurrency and
// rate budget.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds the knobs for a fetcher. Zero values fall back to the
// defaults below.
type Config struct {
	// Hosts requests are allowed to go to. Anything else fails immediately.
	// Empty allows any host.
	AllowedHosts []string

	// Maximum requests in flight at once across the whole fetcher.
	Concurrency int64

	// Minimum spacing between consecutive requests to the same host.
	PerHostDelay time.Duration

	// Per-request timeout, independent of any pass-level cancellation.
	RequestTimeout time.Duration

	// Retry budget for transient failures.
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RetryJitter    time.Duration
}

const (
	defaultConcurrency    = 4
	defaultPerHostDelay   = 500 * time.Millisecond
	defaultRequestTimeout = 10 * time.Second
	defaultMaxAttempts    = 4
	defaultRetryBaseDelay = time.Second
	defaultRetryMaxDelay  = 30 * time.Second
	defaultRetryJitter    = 250 * time.Millisecond
)

// Error reports a failed fetch. It is a recoverable, per-item condition:
// callers count it and move on, they don't abort the pass for it.
type Error struct {
	URL        string
	Attempts   int
	LastStatus int
	Err        error
}

func (e *Error) Error() string {
	if e.LastStatus != 0 {
		return fmt.Sprintf("fetching %s: status %d after %d attempt(s): %v", e.URL, e.LastStatus, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetching %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fetcher issues rate-limited, retried GETs. Safe for concurrent use.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	sem     *semaphore.Weighted
	allowed map[string]struct{}

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a fetcher from config, applying defaults for anything unset.
func New(cfg Config) *Fetcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.PerHostDelay <= 0 {
		cfg.PerHostDelay = defaultPerHostDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaultRetryMaxDelay
	}
	if cfg.RetryJitter <= 0 {
		cfg.RetryJitter = defaultRetryJitter
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		allowed[h] = struct{}{}
	}

	return &Fetcher{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		sem:      semaphore.NewWeighted(cfg.Concurrency),
		allowed:  allowed,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch GETs the page at rawURL and returns its body.
//
// Transient failures (connection errors, 429, 5xx) are retried with
// exponential backoff and jitter up to the configured attempt budget. A
// Retry-After header on a 429 overrides the computed delay for that attempt.
// Malformed URLs, disallowed hosts, and other 4xx responses fail immediately.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("malformed url: %w", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if len(f.allowed) > 0 {
		if _, ok := f.allowed[u.Host]; !ok {
			return nil, &Error{URL: rawURL, Err: fmt.Errorf("host %q is not in the allowed set", u.Host)}
		}
	}

	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}
	defer f.sem.Release(1)

	limiter := f.limiter(u.Host)

	var (
		attempts   int
		lastStatus int
		retryAfter time.Duration
		body       []byte
	)

	computed := retry.WithMaxRetries(uint64(f.cfg.MaxAttempts-1),
		retry.WithJitter(f.cfg.RetryJitter,
			retry.WithCappedDuration(f.cfg.RetryMaxDelay,
				retry.NewExponential(f.cfg.RetryBaseDelay))))
	// Let an upstream Retry-After win over the computed delay.
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := computed.Next()
		if retryAfter > 0 {
			d, retryAfter = retryAfter, 0
		}
		return d, stop
	})

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		// Spacing applies to retries too, not just first attempts.
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		attempts++

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}

		resp, err := f.client.Do(req)
		if err != nil {
			// Timeouts, resets, refused connections: all worth another try.
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		lastStatus = resp.StatusCode

		switch {
		case resp.StatusCode == http.StatusOK:
			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return retry.RetryableError(fmt.Errorf("reading body: %w", err))
			}
			body = b
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
			return retry.RetryableError(fmt.Errorf("rate limited by upstream"))
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("server error: %d", resp.StatusCode))
		default:
			// Remaining 4xx: retrying won't change the answer.
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
	})
	if err != nil {
		return nil, &Error{URL: rawURL, Attempts: attempts, LastStatus: lastStatus, Err: err}
	}

	return body, nil
}

// limiter returns the token bucket for a host, creating it on first use.
func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(f.cfg.PerHostDelay), 1)
		f.limiters[host] = l
	}

	return l
}

// IsFetchError reports whether err is a per-item fetch failure.
func IsFetchError(err error) bool {
	var fe *Error
	return errors.As(err, &fe)
}
