package proxy

import (
	"errors"
	"fmt"
	"net/http"

	"hls-proxy/internal/platform/metrics"
)

var (
	// ErrMissingURL is returned when the url query parameter is absent.
	ErrMissingURL = errors.New("missing url parameter")

	// ErrMissingToken is returned when the token query parameter is absent.
	ErrMissingToken = errors.New("missing token")

	// ErrInvalidToken covers malformed, expired and wrongly bound tokens.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrOriginNotAllowed is returned when origin gating rejects the caller.
	ErrOriginNotAllowed = errors.New("origin not allowed")

	// ErrInvalidTarget is returned for target URLs that are not absolute http(s).
	ErrInvalidTarget = errors.New("invalid target url")

	// ErrUpstreamTimeout is returned when the upstream does not answer in time.
	ErrUpstreamTimeout = errors.New("upstream timed out")

	// ErrPlaylistTooLarge is returned when a playlist body exceeds maxPlaylistBytes.
	ErrPlaylistTooLarge = errors.New("upstream playlist too large")

	// ErrPartialPlaylist is returned when the upstream only serves part of a playlist.
	ErrPartialPlaylist = errors.New("upstream returned a partial playlist")

	// ErrIssuanceDisabled is returned by the token endpoint when no API key is configured.
	ErrIssuanceDisabled = errors.New("token issuance disabled")

	// ErrInvalidAPIKey is returned when X-API-Key is missing or wrong.
	ErrInvalidAPIKey = errors.New("invalid api key")

	// ErrBadRequestBody is returned for undecodable token requests.
	ErrBadRequestBody = errors.New("malformed request body")
)

const (
	usageHelp = "GET /proxy?url=<url-encoded target>&token=<token>"
	tokenHelp = "obtain a fresh token from the issuer (POST /token) and retry"
)

// UpstreamStatusError reports a non-2xx response from the upstream origin.
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream responded with status %d", e.StatusCode)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Help    string `json:"help,omitempty"`
	Details string `json:"details,omitempty"`
}

// errorResponse maps err to a status and body. Details carry the raw error,
// which may contain upstream URLs, so they are only filled in dev mode.
func errorResponse(err error, dev bool) (int, errorBody) {
	var (
		status    int
		body      errorBody
		statusErr *UpstreamStatusError
	)
	switch {
	case errors.Is(err, ErrOriginNotAllowed):
		status, body = http.StatusForbidden, errorBody{Error: ErrOriginNotAllowed.Error()}
	case errors.Is(err, ErrMissingURL):
		status, body = http.StatusBadRequest, errorBody{Error: ErrMissingURL.Error(), Help: usageHelp}
	case errors.Is(err, ErrMissingToken):
		status, body = http.StatusUnauthorized, errorBody{Error: ErrMissingToken.Error(), Help: tokenHelp}
	case errors.Is(err, ErrInvalidToken):
		status, body = http.StatusUnauthorized, errorBody{Error: ErrInvalidToken.Error(), Help: tokenHelp}
	case errors.Is(err, ErrInvalidTarget):
		status, body = http.StatusBadRequest, errorBody{Error: ErrInvalidTarget.Error(), Help: usageHelp}
	case errors.Is(err, ErrIssuanceDisabled):
		status, body = http.StatusNotFound, errorBody{Error: ErrIssuanceDisabled.Error()}
	case errors.Is(err, ErrInvalidAPIKey):
		status, body = http.StatusUnauthorized, errorBody{Error: ErrInvalidAPIKey.Error(), Help: "send the configured key in X-API-Key"}
	case errors.Is(err, ErrBadRequestBody):
		status, body = http.StatusBadRequest, errorBody{Error: ErrBadRequestBody.Error(), Help: `POST /token {"url": "...", "referer": "..."}`}
	case errors.As(err, &statusErr):
		status = statusErr.StatusCode
		if status < 400 {
			status = http.StatusInternalServerError
		}
		body = errorBody{Error: statusErr.Error()}
	case errors.Is(err, ErrUpstreamTimeout):
		status, body = http.StatusInternalServerError, errorBody{Error: ErrUpstreamTimeout.Error()}
	case errors.Is(err, ErrPlaylistTooLarge):
		status, body = http.StatusInternalServerError, errorBody{Error: ErrPlaylistTooLarge.Error()}
	case errors.Is(err, ErrPartialPlaylist):
		status, body = http.StatusInternalServerError, errorBody{Error: ErrPartialPlaylist.Error()}
	default:
		status, body = http.StatusInternalServerError, errorBody{Error: "upstream fetch failed"}
	}
	if dev {
		body.Details = err.Error()
	}
	return status, body
}

func fetchOutcome(err error) string {
	var statusErr *UpstreamStatusError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &statusErr):
		return metrics.OutcomeStatus
	case errors.Is(err, ErrUpstreamTimeout):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeNetwork
	}
}
