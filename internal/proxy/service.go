package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"hls-proxy/internal/platform/metrics"
)

// maxPlaylistBytes caps how much of a playlist body is buffered for rewriting.
const maxPlaylistBytes = 8 << 20

// Service fetches stream references upstream and rewrites playlists; the
// HTTP layer only translates its results and errors.
type Service struct {
	upstream Upstream
	codec    *Codec
	timeout  time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewService returns a Service. timeout bounds a playlist fetch including its
// body; binary bodies are only bounded until their headers arrive. Metrics
// may be nil.
func NewService(upstream Upstream, codec *Codec, timeout time.Duration, log *slog.Logger, m *metrics.Metrics) *Service {
	if timeout <= 0 {
		timeout = DefaultFetcherOptions().Timeout
	}
	return &Service{upstream: upstream, codec: codec, timeout: timeout, log: log, metrics: m}
}

// VerifyToken reports whether token authorises fetching the annotated URL.
func (s *Service) VerifyToken(token, annotated string) error {
	if token == "" {
		return ErrMissingToken
	}
	if !s.codec.Verify(token, annotated) {
		return ErrInvalidToken
	}
	return nil
}

// IssueToken mints a token for ref and returns it with the ready-to-play
// proxy URL under endpoint.
func (s *Service) IssueToken(ref StreamReference, endpoint string) (proxyURL, token string) {
	target := ref.Annotated()
	token = s.codec.Issue(target)
	return ProxyURL(endpoint, target, token), token
}

// Open fetches ref upstream. Playlists are buffered and rewritten so every
// URI points at endpoint; anything else is handed back unread for streaming.
// Range applies to binary targets only.
func (s *Service) Open(ctx context.Context, ref StreamReference, rangeHeader, endpoint string) (*Result, error) {
	if hasPlaylistExtension(ref.TargetURL) {
		rangeHeader = ""
	}

	ctx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(s.timeout, func() { cancel(ErrUpstreamTimeout) })

	resp, err := s.fetch(ctx, ref, rangeHeader)
	if err != nil {
		timer.Stop()
		cancel(nil)
		return nil, err
	}

	if !IsPlaylist(resp.Header.Get("Content-Type"), ref.TargetURL) {
		if !timer.Stop() {
			resp.Body.Close()
			cancel(nil)
			return nil, ErrUpstreamTimeout
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return &Result{Upstream: resp}, nil
	}
	defer cancel(nil)
	defer timer.Stop()

	if resp.StatusCode == http.StatusPartialContent {
		resp.Body.Close()
		s.log.Debug("ranged playlist response, refetching whole", slog.String("url", ref.TargetURL))
		if resp, err = s.fetch(ctx, ref, ""); err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusPartialContent {
			resp.Body.Close()
			return nil, ErrPartialPlaylist
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes+1))
	if err != nil {
		if errors.Is(context.Cause(ctx), ErrUpstreamTimeout) {
			return nil, fmt.Errorf("%w: reading playlist: %w", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("read upstream playlist: %w", err)
	}
	if len(body) > maxPlaylistBytes {
		return nil, ErrPlaylistTooLarge
	}

	base, err := s.baseFor(resp, ref.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	rw := &Rewriter{Base: base, Referer: ref.Referer, Endpoint: endpoint, Tokens: s.codec}
	out := rw.Rewrite(string(body))

	s.log.Debug("playlist rewritten",
		slog.String("url", ref.TargetURL),
		slog.String("final_url", base.origin()+base.Path),
		slog.Int("bytes_in", len(body)),
		slog.Int("bytes_out", len(out)))
	if s.metrics != nil {
		s.metrics.IncPlaylistsRewritten()
	}
	return &Result{IsPlaylist: true, Playlist: out}, nil
}

func (s *Service) fetch(ctx context.Context, ref StreamReference, rangeHeader string) (*http.Response, error) {
	resp, err := s.upstream.Fetch(ctx, UpstreamRequest{
		URL:     ref.TargetURL,
		Referer: ref.Referer,
		Range:   rangeHeader,
	})
	s.recordFetch(err)
	return resp, err
}

// baseFor prefers the URL the upstream finally answered from: after a
// redirect, relative references are relative to that location.
func (s *Service) baseFor(resp *http.Response, requested string) (Base, error) {
	if resp.Request != nil && resp.Request.URL != nil {
		return BaseFromURL(resp.Request.URL), nil
	}
	u, err := url.Parse(requested)
	if err != nil {
		return Base{}, err
	}
	return BaseFromURL(u), nil
}

func (s *Service) recordFetch(err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncUpstreamFetch(fetchOutcome(err))
}
