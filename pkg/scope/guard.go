package scope

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/Rimaestro/vulnity-kp/pkg/finding"
)

// cgnat is the carrier-grade NAT range, not covered by net.IP.IsPrivate.
var cgnat = func() *net.IPNet {
	_, n, _ := net.ParseCIDR("100.64.0.0/10")
	return n
}()

// Resolver is the name-resolution surface the guard needs. *net.Resolver
// satisfies it; tests substitute a fixture.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// GuardConfig controls the target guard.
type GuardConfig struct {
	// AllowPrivate permits loopback/private targets. Lab environments
	// (a DVWA container on localhost) set this deliberately.
	AllowPrivate bool

	// Allow lists hostnames exempt from the address checks.
	Allow []string

	// Deny lists hostnames refused outright, checked before Allow.
	Deny []string

	// Resolver overrides DNS resolution. Nil uses net.DefaultResolver.
	Resolver Resolver
}

// Guard validates scan targets before the first request is issued.
// It never performs HTTP requests itself.
type Guard struct {
	cfg   GuardConfig
	allow map[string]bool
	deny  map[string]bool
}

// NewGuard builds a Guard. NewGuard(GuardConfig{}) refuses all
// private-range targets, the safe default.
func NewGuard(cfg GuardConfig) *Guard {
	g := &Guard{
		cfg:   cfg,
		allow: make(map[string]bool, len(cfg.Allow)),
		deny:  make(map[string]bool, len(cfg.Deny)),
	}
	for _, h := range cfg.Allow {
		g.allow[strings.ToLower(h)] = true
	}
	for _, h := range cfg.Deny {
		g.deny[strings.ToLower(h)] = true
	}
	return g
}

// Check validates a target URL: parseable, http(s), not denied, and
// not resolving to a refused address range. A violation returns an
// error wrapping finding.ErrOutOfScope.
func (g *Guard) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("scope: parse target: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scope: scheme %q: %w", u.Scheme, finding.ErrOutOfScope)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("scope: target has no host: %w", finding.ErrOutOfScope)
	}

	if g.deny[host] {
		return fmt.Errorf("scope: host %q denied: %w", host, finding.ErrOutOfScope)
	}
	if g.allow[host] {
		return nil
	}

	ips, err := g.resolve(ctx, host)
	if err != nil {
		return fmt.Errorf("scope: resolve %q: %w", host, err)
	}

	if g.cfg.AllowPrivate {
		return nil
	}
	for _, ip := range ips {
		if reason := refusedRange(ip); reason != "" {
			return fmt.Errorf("scope: host %q resolves to %s address %s: %w",
				host, reason, ip, finding.ErrOutOfScope)
		}
	}
	return nil
}

// resolve returns the target's addresses, skipping DNS for IP literals.
func (g *Guard) resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	r := g.cfg.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}

// refusedRange names the refused address class of ip, or "" if the
// address is scannable.
func refusedRange(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "loopback"
	case ip.IsUnspecified():
		return "unspecified"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "link-local"
	case ip.IsPrivate():
		return "private-range"
	case cgnat.Contains(ip):
		return "carrier-grade NAT"
	}
	return ""
}
