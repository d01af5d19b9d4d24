// Package scope decides which URLs a scan may touch.
//
// It has two jobs: canonical URL identity (Normalize) so the crawler's
// visited set and the finding dedup keys agree on what "the same URL"
// means, and the pre-scan target guard that refuses loopback,
// link-local, and private-range hosts before the first request is
// issued.
package scope

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Normalize returns the canonical form of rawURL: lowercased scheme
// and host, fragment stripped, query parameters sorted by key, and an
// explicit "/" path. Normalizing an already-normalized URL returns it
// unchanged.
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("scope: parse %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("scope: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("scope: %q has no host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}

	if u.RawQuery != "" {
		u.RawQuery = sortQuery(u.RawQuery)
	}
	return u.String(), nil
}

// sortQuery re-encodes a query string with keys in sorted order.
// url.Values.Encode sorts keys; values within one key keep their
// original order.
func sortQuery(rawQuery string) string {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	return values.Encode()
}

// Hostname extracts the bare hostname (no port) from a URL string.
func Hostname(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("scope: parse %q: %w", rawURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("scope: %q has no host", rawURL)
	}
	return host, nil
}

// RegistrableDomain returns the effective TLD plus one label for a
// hostname ("deep.api.example.co.uk" -> "example.co.uk"). IP literals
// are their own registrable domain.
func RegistrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")

	if ip := net.ParseIP(host); ip != nil {
		return host
	}

	etld, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// Single-label hosts (intranet names, "localhost") have no
		// public suffix; compare them whole.
		return host
	}
	return etld
}

// SameSite reports whether two hostnames share a registrable domain.
// Subdomain differences do not matter: www.example.com and
// api.example.com are the same site, example.com.evil.net is not.
func SameSite(seedHost, candidateHost string) bool {
	seed := RegistrableDomain(seedHost)
	if seed == "" {
		return false
	}
	return seed == RegistrableDomain(candidateHost)
}

// SortParams returns the parameter names of a URL's query in sorted
// order. Used by detection to iterate a stable parameter surface.
func SortParams(u *url.URL) []string {
	values := u.Query()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
