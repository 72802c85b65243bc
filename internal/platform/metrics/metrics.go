package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upstream fetch outcomes used as the "outcome" label.
const (
	OutcomeOK      = "ok"
	OutcomeStatus  = "status"
	OutcomeTimeout = "timeout"
	OutcomeNetwork = "network"
)

// Metrics holds Prometheus counters for the HLS proxy.
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      prometheus.Counter
	errorsTotal        prometheus.Counter
	upstreamFetches    *prometheus.CounterVec
	playlistsRewritten prometheus.Counter
	segmentBytes       prometheus.Counter
	tokenRejections    prometheus.Counter
	tokensIssued       prometheus.Counter
}

// New creates and registers Prometheus metrics for the proxy.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsproxy_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsproxy_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	upstreamFetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsproxy_upstream_fetches_total",
		Help: "Upstream fetches by outcome",
	}, []string{"outcome"})
	playlistsRewritten := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsproxy_playlists_rewritten_total",
		Help: "Total number of playlists rewritten",
	})
	segmentBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsproxy_segment_bytes_total",
		Help: "Bytes streamed through for segments, keys and other binary content",
	})
	tokenRejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsproxy_token_rejections_total",
		Help: "Requests rejected for a missing or invalid token",
	})
	tokensIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsproxy_tokens_issued_total",
		Help: "Top-level tokens issued through the token endpoint",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		upstreamFetches,
		playlistsRewritten,
		segmentBytes,
		tokenRejections,
		tokensIssued,
	)

	return &Metrics{
		registry:           registry,
		requestsTotal:      requestsTotal,
		errorsTotal:        errorsTotal,
		upstreamFetches:    upstreamFetches,
		playlistsRewritten: playlistsRewritten,
		segmentBytes:       segmentBytes,
		tokenRejections:    tokenRejections,
		tokensIssued:       tokensIssued,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncUpstreamFetch records one upstream fetch with the given outcome.
func (m *Metrics) IncUpstreamFetch(outcome string) {
	m.upstreamFetches.WithLabelValues(outcome).Inc()
}

// IncPlaylistsRewritten increments the rewritten playlists counter.
func (m *Metrics) IncPlaylistsRewritten() {
	m.playlistsRewritten.Inc()
}

// AddSegmentBytes adds n streamed bytes.
func (m *Metrics) AddSegmentBytes(n int64) {
	if n > 0 {
		m.segmentBytes.Add(float64(n))
	}
}

// IncTokenRejections increments the token rejection counter.
func (m *Metrics) IncTokenRejections() {
	m.tokenRejections.Inc()
}

// IncTokensIssued increments the issued tokens counter.
func (m *Metrics) IncTokensIssued() {
	m.tokensIssued.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
