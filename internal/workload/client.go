package workload

import (
	"crypto/tls"
	"net/http"
	"time"
)

// ClientConfig tunes the HTTP client shared by every VU of a scenario.
type ClientConfig struct {
	// Timeout bounds a whole request, including reading the body.
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections.
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host.
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host (0: unlimited).
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive.
	IdleConnTimeout time.Duration

	// DisableKeepAlives opens a fresh connection per request.
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification.
	InsecureSkipVerify bool
}

// DefaultClientConfig returns defaults sized for load generation.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewClient builds an HTTP client from cfg. Zero fields take the defaults.
func NewClient(cfg ClientConfig) *http.Client {
	defaults := DefaultClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaults.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = defaults.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = defaults.IdleConnTimeout
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}
