// Package probe checks origin reachability over HTTP.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single probe request when Config.Timeout is not set.
const DefaultTimeout = 3 * time.Second

type Config struct {
	// URL to request. Probing is off when empty.
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
	// CacheFor is how long a probe result is trusted.
	CacheFor time.Duration `koanf:"cache_for"`
}

// HTTP probes the origin with a HEAD request.
// Any answer below 500 means the origin is up. No answer at all means down.
type HTTP struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// New returns nil when no probe URL is configured.
func New(config Config, client *http.Client) *HTTP {
	if config.URL == "" {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTP{url: config.URL, client: client, timeout: timeout}
}

// Up reports whether the origin answered. An error means the result is unknown,
// e.g. because the caller's context ended.
func (p *HTTP) Up(ctx context.Context) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, p.url, nil)
	if err != nil {
		return false, fmt.Errorf("build probe request: %w", err)
	}
	res, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("probe aborted: %w", errors.Join(ctx.Err(), err))
		}
		return false, nil
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
	return res.StatusCode < http.StatusInternalServerError, nil
}
