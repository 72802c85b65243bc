package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRedactURL(t *testing.T) {
	cases := map[string]string{
		"https://cdn.example.com/live/secret.m3u8?tok=1": "https://cdn.example.com/…",
		"not a url":    "[redacted]",
		"":             "",
		"/relative/x":  "[redacted]",
	}
	for in, want := range cases {
		if got := RedactURL(in); got != want {
			t.Errorf("RedactURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew_redacts_url_attrs(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "info", "json", true)
	log.Info("fetch", slog.String("url", "https://origin.test/live/chan.m3u8"), slog.String("other", "https://keep.test/x"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if rec["url"] != "https://origin.test/…" {
		t.Errorf("expected redacted url, got %v", rec["url"])
	}
	if rec["other"] != "https://keep.test/x" {
		t.Errorf("non-url keys must be left alone, got %v", rec["other"])
	}
}

func TestNew_dev_mode_keeps_urls(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "info", "text", false)
	log.Info("fetch", slog.String("url", "https://origin.test/live/chan.m3u8"))
	if !strings.Contains(buf.String(), "/live/chan.m3u8") {
		t.Errorf("expected full url in output: %s", buf.String())
	}
}

func TestNew_level_filter(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "warn", "json", true)
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level: %s", buf.String())
	}
}

func TestRequestLogger_sets_request_id(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "info", "json", true)
	h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("hi"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/proxy?url=https%3A%2F%2Fsecret.test%2Fa.m3u8&token=abc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	out := buf.String()
	if !strings.Contains(out, `"status":418`) || !strings.Contains(out, `"size":2`) {
		t.Errorf("unexpected log line: %s", out)
	}
	if strings.Contains(out, "secret.test") {
		t.Errorf("query string must not be logged: %s", out)
	}
}

func TestRequestLogger_keeps_incoming_request_id(t *testing.T) {
	log := newWithWriter(&bytes.Buffer{}, "info", "json", true)
	h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("expected incoming id to be echoed, got %q", got)
	}
}

func TestNew_redacts_urls_inside_errors(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "info", "json", true)
	log.Warn("failed", slog.String("error", `Get "https://origin.test/live/chan.m3u8?sig=abc": dial tcp: refused`))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	want := `Get "https://origin.test/…": dial tcp: refused`
	if rec["error"] != want {
		t.Errorf("error = %v, want %q", rec["error"], want)
	}
}
