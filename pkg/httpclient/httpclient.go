// Package httpclient provides shared HTTP client construction for the
// scanning engine. Every client it builds refuses to follow redirects,
// because detection needs to inspect 3xx responses (login redirects,
// open-redirect probes) rather than land on their targets.
package httpclient

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Timeout presets used across the engine.
const (
	// TimeoutScanning is the per-request deadline during detection.
	TimeoutScanning = 30 * time.Second

	// TimeoutCrawling is the shorter deadline for crawl fetches.
	TimeoutCrawling = 15 * time.Second
)

// Config controls client construction.
type Config struct {
	// Timeout is the whole-request deadline. Zero means TimeoutScanning.
	Timeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	// Verification is on unless a lab target needs this.
	InsecureSkipVerify bool

	// Proxy is an optional proxy URL (http, https, socks5).
	Proxy string

	// MaxIdleConns bounds the idle pool across all hosts.
	MaxIdleConns int

	// MaxConnsPerHost bounds connections to a single target.
	MaxConnsPerHost int

	// Fingerprint selects a browser TLS fingerprint for the handshake.
	// Empty uses the standard library TLS stack.
	Fingerprint FingerprintID
}

// DefaultConfig returns the scanning defaults: 30s timeout, TLS
// verification enabled, modest per-host pooling.
func DefaultConfig() Config {
	return Config{
		Timeout:         TimeoutScanning,
		MaxIdleConns:    100,
		MaxConnsPerHost: 25,
	}
}

var (
	defaultClient *http.Client
	defaultOnce   sync.Once
)

// Default returns a shared client built from DefaultConfig. Components
// that need their own session state (cookie continuity, fingerprints)
// build a dedicated client with New instead.
func Default() *http.Client {
	defaultOnce.Do(func() {
		defaultClient = New(DefaultConfig())
	})
	return defaultClient
}

// New builds a client from cfg. Redirects are never followed
// automatically; callers see the 3xx response itself.
func New(cfg Config) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = TimeoutScanning
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 25
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	if cfg.Proxy != "" {
		if proxyURL, err := url.Parse(cfg.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	if cfg.Fingerprint != "" {
		transport.DialTLSContext = fingerprintDialer(cfg.Fingerprint, cfg.InsecureSkipVerify, cfg.Timeout)
		// HTTP/2 negotiation is owned by the mimicked ClientHello.
		transport.ForceAttemptHTTP2 = false
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// WithTimeout returns a client with only the timeout changed from
// defaults.
func WithTimeout(timeout time.Duration) *http.Client {
	cfg := DefaultConfig()
	cfg.Timeout = timeout
	return New(cfg)
}

// CloseIdle releases idle connections held by a client built here.
func CloseIdle(c *http.Client) {
	if c == nil {
		return
	}
	type idleCloser interface {
		CloseIdleConnections()
	}
	if ic, ok := c.Transport.(idleCloser); ok {
		ic.CloseIdleConnections()
	}
}
