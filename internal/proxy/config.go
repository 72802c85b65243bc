package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"hls-proxy/internal/platform/config"
)

// Config is the process-wide proxy configuration, read once at startup.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	Secret      string
	SkewBuckets int
	APIKey      string

	AllowedOrigins []string
	OriginGating   bool
	PublicBaseURL  string

	UpstreamTimeout   time.Duration
	UpstreamRetries   int
	UpstreamUserAgent string

	DevMode bool
}

// ConfigFromEnv reads Config from the environment. Call config.Load first to
// pick up a .env file.
func ConfigFromEnv() Config {
	return Config{
		Port:      config.GetEnv("PORT", "8080"),
		LogLevel:  config.GetEnv("LOG_LEVEL", "info"),
		LogFormat: config.GetEnv("LOG_FORMAT", "json"),

		Secret:      config.GetEnv("PROXY_SECRET", ""),
		SkewBuckets: config.GetEnvInt("TOKEN_SKEW_BUCKETS", DefaultSkewBuckets),
		APIKey:      config.GetEnv("API_KEY", ""),

		AllowedOrigins: config.GetEnvList("ALLOWED_ORIGINS"),
		OriginGating:   config.GetEnvBool("ORIGIN_GATING", false),
		PublicBaseURL:  config.GetEnv("PUBLIC_BASE_URL", ""),

		UpstreamTimeout:   config.GetEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		UpstreamRetries:   config.GetEnvInt("UPSTREAM_RETRIES", 1),
		UpstreamUserAgent: config.GetEnv("UPSTREAM_USER_AGENT", DefaultUserAgent),

		DevMode: config.GetEnvBool("DEV_MODE", false),
	}
}

// Validate reports configuration that would make the proxy unusable.
func (c Config) Validate() error {
	if c.Secret == "" {
		return errors.New("PROXY_SECRET must be set")
	}
	if c.SkewBuckets < 0 {
		return errors.New("TOKEN_SKEW_BUCKETS must not be negative")
	}
	if c.PublicBaseURL != "" {
		u, err := url.Parse(c.PublicBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("PUBLIC_BASE_URL %q must be an absolute http(s) url", c.PublicBaseURL)
		}
	}
	if c.OriginGating && len(c.AllowedOrigins) == 0 {
		return errors.New("ORIGIN_GATING requires ALLOWED_ORIGINS")
	}
	if c.UpstreamTimeout <= 0 {
		return errors.New("UPSTREAM_TIMEOUT must be positive")
	}
	return nil
}

// HandlerOptions projects the HTTP policy part of c.
func (c Config) HandlerOptions() Options {
	return Options{
		OriginGating:  c.OriginGating,
		PublicBaseURL: c.PublicBaseURL,
		APIKey:        c.APIKey,
		DevMode:       c.DevMode,
	}
}

// FetcherOptions projects the upstream client part of c.
func (c Config) FetcherOptions() FetcherOptions {
	opts := DefaultFetcherOptions()
	opts.UserAgent = c.UpstreamUserAgent
	opts.Timeout = c.UpstreamTimeout
	opts.MaxRetries = c.UpstreamRetries
	return opts
}
