package proxy

import (
	"net/url"
	"strings"

	"github.com/elnormous/contenttype"
)

// PlaylistContentType is what rewritten playlists are served as.
const PlaylistContentType = "application/vnd.apple.mpegurl"

var playlistMediaTypes = map[string]bool{
	"application/vnd.apple.mpegurl": true,
	"application/x-mpegurl":         true,
	"audio/mpegurl":                 true,
	"audio/x-mpegurl":               true,
}

// IsPlaylist classifies an upstream response as a playlist when either the
// declared content type is an HLS playlist type or the requested URL has a
// playlist extension. Origins routinely mislabel playlists as text/plain or
// octet-stream, hence the second signal.
func IsPlaylist(contentType, requestedURL string) bool {
	return isPlaylistContentType(contentType) || hasPlaylistExtension(requestedURL)
}

func isPlaylistContentType(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return false
	}
	mt := contenttype.NewMediaType(contentType)
	return playlistMediaTypes[strings.ToLower(mt.Type+"/"+mt.Subtype)]
}

func hasPlaylistExtension(raw string) bool {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	p = strings.ToLower(p)
	return strings.HasSuffix(p, ".m3u8") || strings.HasSuffix(p, ".m3u")
}
