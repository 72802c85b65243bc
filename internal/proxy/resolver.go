package proxy

import (
	"net/url"
	"strings"
)

// RefererParam is the proxy-internal query parameter carrying the referer
// annotation on resolved URLs. It never reaches the upstream.
const RefererParam = "_hlsref"

// Base is the scheme, host and path a playlist was actually served from.
type Base struct {
	Scheme string
	Host   string
	Path   string
}

// BaseFromURL builds a Base from the post-redirect response URL.
func BaseFromURL(u *url.URL) Base {
	return Base{Scheme: u.Scheme, Host: u.Host, Path: u.EscapedPath()}
}

// ParseBase parses raw into a Base.
func ParseBase(raw string) (Base, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Base{}, err
	}
	return BaseFromURL(u), nil
}

func (b Base) origin() string {
	return b.Scheme + "://" + b.Host
}

// dir is the base path truncated after its last slash.
func (b Base) dir() string {
	i := strings.LastIndexByte(b.Path, '/')
	if i < 0 {
		return "/"
	}
	return b.Path[:i+1]
}

// Resolve turns a playlist reference into an absolute URL against base.
// References are spliced textually, so query strings on the reference are
// preserved byte for byte.
func Resolve(ref string, base Base) string {
	switch {
	case hasHTTPScheme(ref):
		return ref
	case strings.HasPrefix(ref, "//"):
		return base.Scheme + ":" + ref
	case strings.HasPrefix(ref, "/"):
		return base.origin() + ref
	default:
		return base.origin() + base.dir() + ref
	}
}

func hasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// WithReferer appends the referer annotation to target. An empty referer
// leaves target untouched.
func WithReferer(target, referer string) string {
	if referer == "" {
		return target
	}
	target, fragment := cutFragment(target)
	sep := "&"
	switch {
	case !strings.Contains(target, "?"):
		sep = "?"
	case strings.HasSuffix(target, "?"), strings.HasSuffix(target, "&"):
		sep = ""
	}
	return target + sep + RefererParam + "=" + url.QueryEscape(referer) + fragment
}

// SplitReferer removes the referer annotation from annotated and returns the
// URL to fetch upstream together with the decoded referer. Other query
// parameters keep their original order and encoding.
func SplitReferer(annotated string) (target, referer string) {
	rest, fragment := cutFragment(annotated)
	q := strings.IndexByte(rest, '?')
	if q < 0 {
		return annotated, ""
	}

	prefix := RefererParam + "="
	kept := make([]string, 0, 4)
	for _, part := range strings.Split(rest[q+1:], "&") {
		if strings.HasPrefix(part, prefix) {
			if v, err := url.QueryUnescape(part[len(prefix):]); err == nil {
				referer = v
			}
			continue
		}
		kept = append(kept, part)
	}

	target = rest[:q]
	if query := strings.Join(kept, "&"); query != "" {
		target += "?" + query
	}
	return target + fragment, referer
}

func cutFragment(s string) (string, string) {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[:i], s[i:]
	}
	return s, ""
}

// originOf returns scheme://host of raw, or "" if raw is not absolute.
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
