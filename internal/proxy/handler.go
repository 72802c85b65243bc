package proxy

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"hls-proxy/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const (
	// Live playlists change every target duration; players must revalidate.
	playlistCacheControl = "no-cache"
	// Every segment URL carries a unique resolved target and token.
	segmentCacheControl = "public, max-age=31536000, immutable"

	maxTokenRequestBytes = 64 << 10
)

// passthroughHeaders are copied from upstream onto binary responses.
var passthroughHeaders = []string{"Content-Length", "Content-Range", "Accept-Ranges"}

// Options holds the HTTP-facing policy knobs.
type Options struct {
	// OriginGating rejects requests whose Origin header is present but not
	// on the allow-list. Requests without Origin still need a valid token.
	OriginGating bool
	// PublicBaseURL is the externally visible scheme://host of the proxy.
	// Empty derives it from each request.
	PublicBaseURL string
	// APIKey gates POST /token. Empty disables the endpoint.
	APIKey string
	// DevMode adds raw error details to error bodies.
	DevMode bool
}

// Handler exposes the proxy HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	policy  *OriginPolicy
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler. Metrics may be nil to disable metric
// recording (e.g. in tests).
func NewHandler(svc *Service, policy *OriginPolicy, opts Options, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, policy: policy, opts: opts, log: log, metrics: m}
}

// Mount registers the proxy routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.MethodNotAllowed(h.MethodNotAllowed)
	r.Options(ProxyPath, h.Preflight)
	r.Get(ProxyPath, h.Proxy)
	r.Head(ProxyPath, h.Proxy)
	r.Options("/token", h.Preflight)
	r.Post("/token", h.IssueToken)
	r.Get("/healthz", h.Health)
}

// Preflight handles OPTIONS with CORS headers only.
func (h *Handler) Preflight(w http.ResponseWriter, r *http.Request) {
	h.policy.Apply(w.Header(), r.Header.Get("Origin"))
	w.WriteHeader(http.StatusNoContent)
}

// Proxy handles GET /proxy?url=<annotated target>&token=<token>.
func (h *Handler) Proxy(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	h.policy.Apply(w.Header(), origin)

	if err := h.checkOrigin(origin); err != nil {
		h.writeError(w, err)
		return
	}

	q := r.URL.Query()
	annotated := q.Get("url")
	if annotated == "" {
		h.writeError(w, ErrMissingURL)
		return
	}
	if err := h.svc.VerifyToken(q.Get("token"), annotated); err != nil {
		if h.metrics != nil {
			h.metrics.IncTokenRejections()
		}
		h.writeError(w, err)
		return
	}
	ref, err := ParseStreamReference(annotated)
	if err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.svc.Open(r.Context(), ref, r.Header.Get("Range"), h.endpoint(r))
	if err != nil {
		h.log.Warn("proxy request failed",
			slog.String("url", ref.TargetURL),
			slog.String("error", err.Error()))
		h.writeError(w, err)
		return
	}

	if res.IsPlaylist {
		h.writePlaylist(w, res.Playlist)
		return
	}
	h.streamBinary(w, r, res.Upstream)
}

func (h *Handler) writePlaylist(w http.ResponseWriter, playlist string) {
	hdr := w.Header()
	hdr.Set("Content-Type", PlaylistContentType)
	hdr.Set("Cache-Control", playlistCacheControl)
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, playlist); err != nil {
		h.log.Debug("playlist write interrupted", slog.String("error", err.Error()))
	}
}

// streamBinary copies a segment or key through without buffering it.
func (h *Handler) streamBinary(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	defer resp.Body.Close()

	hdr := w.Header()
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	hdr.Set("Content-Type", ct)
	for _, k := range passthroughHeaders {
		if v := resp.Header.Get(k); v != "" {
			hdr.Set(k, v)
		}
	}
	hdr.Set("Cache-Control", segmentCacheControl)
	w.WriteHeader(resp.StatusCode)

	if r.Method == http.MethodHead {
		return
	}
	n, err := io.Copy(w, resp.Body)
	if h.metrics != nil {
		h.metrics.AddSegmentBytes(n)
	}
	if err != nil {
		h.log.Debug("segment stream interrupted",
			slog.Int64("bytes", n),
			slog.String("error", err.Error()))
	}
}

type tokenRequest struct {
	URL     string `json:"url"`
	Referer string `json:"referer,omitempty"`
}

type tokenResponse struct {
	ProxyURL  string `json:"proxy_url"`
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// IssueToken handles POST /token for the embedding application.
// Body: { "url": "https://origin/live/master.m3u8", "referer": "https://site/" }.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	h.policy.Apply(w.Header(), origin)

	if h.opts.APIKey == "" {
		h.writeError(w, ErrIssuanceDisabled)
		return
	}
	if err := h.checkOrigin(origin); err != nil {
		h.writeError(w, err)
		return
	}
	key := r.Header.Get("X-API-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.opts.APIKey)) != 1 {
		h.writeError(w, ErrInvalidAPIKey)
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTokenRequestBytes)).Decode(&req); err != nil {
		h.log.Debug("invalid token request body", slog.String("error", err.Error()))
		h.writeError(w, ErrBadRequestBody)
		return
	}
	ref, err := NewStreamReference(req.URL, req.Referer)
	if err != nil {
		h.writeError(w, err)
		return
	}

	proxyURL, token := h.svc.IssueToken(ref, h.endpoint(r))
	if h.metrics != nil {
		h.metrics.IncTokensIssued()
	}
	h.log.Info("token issued", slog.String("url", ref.TargetURL))

	h.writeJSON(w, http.StatusOK, tokenResponse{
		ProxyURL:  proxyURL,
		Token:     token,
		ExpiresIn: int(h.svc.codec.Lifetime().Seconds()),
	})
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MethodNotAllowed keeps CORS headers and the JSON error shape on 405s.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.policy.Apply(w.Header(), r.Header.Get("Origin"))
	h.writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
}

func (h *Handler) checkOrigin(origin string) error {
	if !h.opts.OriginGating || origin == "" {
		return nil
	}
	if !h.policy.Allowed(origin) {
		return ErrOriginNotAllowed
	}
	return nil
}

// endpoint is the absolute proxy URL rewritten playlists point back to.
func (h *Handler) endpoint(r *http.Request) string {
	if h.opts.PublicBaseURL != "" {
		return strings.TrimSuffix(h.opts.PublicBaseURL, "/") + ProxyPath
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := firstHeaderValue(r.Header.Get("X-Forwarded-Proto")); p != "" {
		scheme = p
	}
	host := r.Host
	if fh := firstHeaderValue(r.Header.Get("X-Forwarded-Host")); fh != "" {
		host = fh
	}
	return scheme + "://" + host + ProxyPath
}

func firstHeaderValue(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err, h.opts.DevMode)
	h.log.Debug("request rejected", slog.Int("status", status), slog.String("error", err.Error()))
	h.writeJSON(w, status, body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("json response write failed", slog.Int("status", status), slog.String("error", err.Error()))
	}
}
