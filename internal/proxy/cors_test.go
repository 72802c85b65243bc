package proxy

import (
	"net/http"
	"testing"
)

func TestOriginPolicy_AllowOrigin(t *testing.T) {
	p := NewOriginPolicy([]string{"https://app.test/", " https://admin.test", "https://app.test"})

	if got := p.AllowOrigin("https://admin.test"); got != "https://admin.test" {
		t.Errorf("listed origin should be echoed, got %q", got)
	}
	if got := p.AllowOrigin("https://evil.test"); got != "https://app.test" {
		t.Errorf("unlisted origin should get first configured, got %q", got)
	}
	if got := p.AllowOrigin(""); got != "https://app.test" {
		t.Errorf("missing origin should get first configured, got %q", got)
	}
	if len(p.origins) != 2 {
		t.Errorf("duplicates should collapse, got %v", p.origins)
	}
}

func TestOriginPolicy_Allowed_case_insensitive(t *testing.T) {
	p := NewOriginPolicy([]string{"https://App.Test"})
	if !p.Allowed("https://app.test") {
		t.Error("origin comparison should ignore case")
	}
	if p.Allowed("https://app.test.evil") {
		t.Error("suffix must not match")
	}
}

func TestOriginPolicy_empty_list(t *testing.T) {
	p := NewOriginPolicy(nil)
	if got := p.AllowOrigin("https://any.test"); got != "*" {
		t.Errorf("expected wildcard, got %q", got)
	}
	if p.Allowed("https://any.test") {
		t.Error("empty list allows nothing for gating")
	}

	h := http.Header{}
	p.Apply(h, "https://any.test")
	if h.Get("Vary") != "" {
		t.Errorf("wildcard response should not vary on origin, got %q", h.Get("Vary"))
	}
}

func TestOriginPolicy_Apply(t *testing.T) {
	p := NewOriginPolicy([]string{"https://app.test"})
	h := http.Header{}
	p.Apply(h, "https://app.test")

	if h.Get("Access-Control-Allow-Origin") != "https://app.test" {
		t.Errorf("allow origin: %q", h.Get("Access-Control-Allow-Origin"))
	}
	if h.Get("Access-Control-Allow-Methods") == "" || h.Get("Access-Control-Expose-Headers") == "" {
		t.Errorf("methods and exposed headers must be set: %v", h)
	}
	if h.Get("Vary") != "Origin" {
		t.Errorf("expected Vary: Origin, got %q", h.Get("Vary"))
	}
}
