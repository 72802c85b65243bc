package logger

import (
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// redactedKeys are attribute names whose values are proxied target URLs.
var redactedKeys = map[string]bool{
	"url":       true,
	"upstream":  true,
	"referer":   true,
	"final_url": true,
}

// embeddedURL finds URLs inside free text such as wrapped error messages.
var embeddedURL = regexp.MustCompile(`https?://[^\s"'<>]+`)

// New returns a structured logger with the given level and format.
// level: "debug", "info", "warn", "error" (default "info").
// format: "json" or "text" (default "json").
// When redact is true, URL-valued attributes are reduced to scheme and host so
// proxied stream locations never reach the logs.
func New(level, format string, redact bool) *slog.Logger {
	return newWithWriter(os.Stdout, level, format, redact)
}

func newWithWriter(w io.Writer, level, format string, redact bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if redact {
		opts.ReplaceAttr = redactAttr
	}

	var h slog.Handler
	if strings.ToLower(format) == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return slog.New(h)
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	switch {
	case redactedKeys[a.Key]:
		return slog.String(a.Key, RedactURL(a.Value.String()))
	case a.Key == "error":
		return slog.String(a.Key, embeddedURL.ReplaceAllStringFunc(a.Value.String(), RedactURL))
	}
	return a
}

// RedactURL keeps only the scheme and host of raw. Anything unparseable is
// replaced entirely.
func RedactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "[redacted]"
	}
	return u.Scheme + "://" + u.Host + "/…"
}
