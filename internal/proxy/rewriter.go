package proxy

import (
	"net/url"
	"strings"
)

// ProxyPath is the route every rewritten URL points back to.
const ProxyPath = "/proxy"

const uriAttr = `URI="`

// TokenIssuer mints a token bound to a target URL.
type TokenIssuer interface {
	Issue(target string) string
}

// ProxyURL builds endpoint?url=<target>&token=<token>.
func ProxyURL(endpoint, target, token string) string {
	return endpoint + "?url=" + url.QueryEscape(target) + "&token=" + token
}

// Rewriter turns an upstream playlist into one whose every URI routes back
// through the proxy endpoint.
type Rewriter struct {
	Base     Base
	Referer  string
	Endpoint string
	Tokens   TokenIssuer
}

// Rewrite processes text line by line. The output has exactly as many lines
// as the input: tags and the URIs that follow them are paired by position.
// Nested playlists are not fetched here; they are rewritten when the player
// requests them.
func (rw *Rewriter) Rewrite(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = rw.rewriteLine(line)
	}
	return strings.Join(lines, "\n")
}

func (rw *Rewriter) rewriteLine(line string) string {
	body, cr := line, ""
	if strings.HasSuffix(body, "\r") {
		body, cr = body[:len(body)-1], "\r"
	}

	trimmed := strings.TrimSpace(body)
	switch {
	case trimmed == "":
		return line
	case strings.HasPrefix(trimmed, "#"):
		return rw.rewriteTag(body) + cr
	default:
		return rw.proxyURL(trimmed) + cr
	}
}

// rewriteTag replaces the value of every URI="..." attribute, leaving the rest
// of the tag untouched. Tags without one come back byte-identical.
func (rw *Rewriter) rewriteTag(tag string) string {
	var b strings.Builder
	rest := tag
	for {
		i := indexURIAttr(rest)
		if i < 0 {
			break
		}
		start := i + len(uriAttr)
		end := strings.IndexByte(rest[start:], '"')
		if end < 0 {
			break
		}
		ref := rest[start : start+end]

		b.WriteString(rest[:start])
		if strings.TrimSpace(ref) == "" {
			b.WriteString(ref)
		} else {
			b.WriteString(rw.proxyURL(strings.TrimSpace(ref)))
		}
		rest = rest[start+end:]
	}
	if b.Len() == 0 {
		return tag
	}
	b.WriteString(rest)
	return b.String()
}

// indexURIAttr finds URI=" as a whole attribute name, so attributes that merely
// end in URI are not mistaken for it.
func indexURIAttr(s string) int {
	off := 0
	for {
		i := strings.Index(s[off:], uriAttr)
		if i < 0 {
			return -1
		}
		i += off
		if i == 0 || s[i-1] == ':' || s[i-1] == ',' || s[i-1] == ' ' {
			return i
		}
		off = i + len(uriAttr)
	}
}

func (rw *Rewriter) proxyURL(ref string) string {
	target := WithReferer(Resolve(ref, rw.Base), rw.Referer)
	return ProxyURL(rw.Endpoint, target, rw.Tokens.Issue(target))
}
