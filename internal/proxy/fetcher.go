package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// DefaultUserAgent is a desktop browser UA; many origins refuse anything else.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

const maxRedirects = 5

// Upstream fetches resources from the playlist-source server.
type Upstream interface {
	Fetch(ctx context.Context, req UpstreamRequest) (*http.Response, error)
}

// FetcherOptions configures the Fetcher behavior.
type FetcherOptions struct {
	// UserAgent sets the User-Agent header for requests
	UserAgent string
	// Timeout bounds the time until upstream response headers arrive,
	// retries included. Streaming the body afterwards is not bounded.
	Timeout time.Duration
	// MaxRetries sets the maximum number of retry attempts
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Logger receives retryablehttp's request logs; nil disables them.
	Logger *slog.Logger
}

// DefaultFetcherOptions returns the options used when nothing is configured.
func DefaultFetcherOptions() FetcherOptions {
	return FetcherOptions{
		UserAgent:    DefaultUserAgent,
		Timeout:      10 * time.Second,
		MaxRetries:   1,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: time.Second,
	}
}

// Fetcher is the Upstream implementation backed by retryablehttp.
type Fetcher struct {
	client    *retryablehttp.Client
	userAgent string
	timeout   time.Duration
}

// NewFetcher creates a Fetcher. Transient connection errors and 5xx answers
// are retried; timeouts never are, so a dead origin fails within Timeout.
func NewFetcher(opts FetcherOptions) *Fetcher {
	def := DefaultFetcherOptions()
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	transport := cleanhttp.DefaultPooledTransport()
	transport.ResponseHeaderTimeout = opts.Timeout

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	client.RetryMax = opts.MaxRetries
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	client.CheckRetry = retryPolicy
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = nil
	if opts.Logger != nil {
		client.Logger = opts.Logger
	}

	return &Fetcher{client: client, userAgent: opts.UserAgent, timeout: opts.Timeout}
}

func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil && isTimeout(err) {
		return false, err
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Fetch issues a GET for req. On success the caller owns resp.Body; the
// response's Request.URL is the final URL after redirects. Non-2xx answers
// are returned as *UpstreamStatusError with the body already closed.
func (f *Fetcher) Fetch(ctx context.Context, req UpstreamRequest) (*http.Response, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(f.timeout, func() { cancel(ErrUpstreamTimeout) })

	upReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		timer.Stop()
		cancel(nil)
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	f.setHeaders(upReq.Header, req)

	resp, err := f.client.Do(upReq)
	fired := !timer.Stop()

	if err == nil && fired {
		resp.Body.Close()
		resp, err = nil, ErrUpstreamTimeout
	}
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		cause := context.Cause(ctx)
		cancel(nil)
		if errors.Is(cause, ErrUpstreamTimeout) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("fetch upstream: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel(nil)
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode}
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// setHeaders makes the request look like it came from a browser on the
// referer's page, or on the target's own site when there is no referer.
func (f *Fetcher) setHeaders(h http.Header, req UpstreamRequest) {
	h.Set("User-Agent", f.userAgent)
	h.Set("Accept", "*/*")

	if req.Referer != "" {
		h.Set("Referer", req.Referer)
		if o := originOf(req.Referer); o != "" {
			h.Set("Origin", o)
		}
	} else if o := originOf(req.URL); o != "" {
		h.Set("Referer", o+"/")
		h.Set("Origin", o)
	}

	if req.Range != "" {
		h.Set("Range", req.Range)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrUpstreamTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// cancelOnClose releases the fetch context once the streamed body is done.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelCauseFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel(nil)
	return err
}
