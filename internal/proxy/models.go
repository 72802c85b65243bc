package proxy

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// StreamReference is a target the proxy fetches on behalf of a player,
// plus the optional referer the upstream origin insists on.
type StreamReference struct {
	TargetURL string
	Referer   string
}

// NewStreamReference validates target as an absolute http(s) URL.
func NewStreamReference(target, referer string) (StreamReference, error) {
	u, err := url.Parse(target)
	if err != nil {
		return StreamReference{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return StreamReference{}, fmt.Errorf("%w: must be an absolute http(s) url", ErrInvalidTarget)
	}
	return StreamReference{TargetURL: target, Referer: referer}, nil
}

// ParseStreamReference splits the referer annotation off an annotated URL,
// as received in the url query parameter, and validates the remainder.
func ParseStreamReference(annotated string) (StreamReference, error) {
	target, referer := SplitReferer(annotated)
	return NewStreamReference(target, referer)
}

// Annotated is the form of the reference that tokens are bound to.
func (s StreamReference) Annotated() string {
	return WithReferer(s.TargetURL, s.Referer)
}

// UpstreamRequest describes one fetch against the playlist-source server.
type UpstreamRequest struct {
	URL     string
	Referer string
	Range   string
}

// Result is the outcome of proxying one StreamReference. Exactly one of
// Playlist or Upstream is meaningful, selected by IsPlaylist.
type Result struct {
	IsPlaylist bool
	Playlist   string
	// Upstream is the live upstream response for binary content. The caller
	// owns Upstream.Body and must close it.
	Upstream *http.Response
}
