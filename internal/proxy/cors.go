package proxy

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods  = "GET, HEAD, POST, OPTIONS"
	corsAllowHeaders  = "Range, Content-Type, X-API-Key, X-Request-ID"
	corsExposeHeaders = "Content-Length, Content-Range, Accept-Ranges, Content-Type, X-Request-ID"
	corsMaxAge        = "86400"
)

// OriginPolicy is the static, ordered allow-list of embedding origins. It is
// built once at startup and only read afterwards.
type OriginPolicy struct {
	origins []string
	allowed map[string]bool
}

// NewOriginPolicy normalises origins (case, trailing slash) and keeps their order.
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]bool, len(origins))}
	for _, o := range origins {
		n := normalizeOrigin(o)
		if n == "" || p.allowed[n] {
			continue
		}
		p.origins = append(p.origins, n)
		p.allowed[n] = true
	}
	return p
}

func normalizeOrigin(o string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(o), "/"))
}

// Allowed reports whether origin is on the list. An empty list allows nothing.
func (p *OriginPolicy) Allowed(origin string) bool {
	return p.allowed[normalizeOrigin(origin)]
}

// AllowOrigin is the Access-Control-Allow-Origin value for requestOrigin:
// the origin itself when listed, otherwise the first configured origin so the
// browser rejects the response. With no configuration every origin gets "*".
func (p *OriginPolicy) AllowOrigin(requestOrigin string) string {
	if len(p.origins) == 0 {
		return "*"
	}
	if requestOrigin != "" && p.Allowed(requestOrigin) {
		return requestOrigin
	}
	return p.origins[0]
}

// Apply writes the CORS response headers for requestOrigin into h.
func (p *OriginPolicy) Apply(h http.Header, requestOrigin string) {
	h.Set("Access-Control-Allow-Origin", p.AllowOrigin(requestOrigin))
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
	h.Set("Access-Control-Max-Age", corsMaxAge)
	if len(p.origins) > 0 {
		h.Add("Vary", "Origin")
	}
}
