// Package config loads scan profiles. A profile is a YAML file
// bundling everything one scan needs (target, scan types, crawl
// limits, pacing, auth, evasion, report outputs) so a lab setup is a
// file in the repo instead of a shell history entry. Unknown keys are
// rejected, which catches typos before a scan burns minutes on the
// wrong settings.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Rimaestro/vulnity-kp/pkg/evasion"
	"github.com/Rimaestro/vulnity-kp/pkg/executor"
	"github.com/Rimaestro/vulnity-kp/pkg/httpclient"
	"github.com/Rimaestro/vulnity-kp/pkg/payloads"
	"github.com/Rimaestro/vulnity-kp/pkg/ratelimit"
	"github.com/Rimaestro/vulnity-kp/pkg/retry"
	"github.com/Rimaestro/vulnity-kp/pkg/scan"
	"github.com/Rimaestro/vulnity-kp/pkg/scope"
)

// Profile is one scan configuration. Zero fields keep the scan
// defaults; durations are strings in Go syntax ("2s", "500ms").
type Profile struct {
	Target string   `yaml:"target"`
	Types  []string `yaml:"types"`

	// Timeout bounds the whole scan. Empty means no limit.
	Timeout string `yaml:"timeout"`

	Threshold         float64  `yaml:"threshold"`
	Evasion           []string `yaml:"evasion"`
	Concurrency       int      `yaml:"concurrency"`
	Aggressive        *bool    `yaml:"aggressive"`
	HeadlessVerify    bool     `yaml:"headless_verify"`
	RequestsPerSecond int      `yaml:"requests_per_second"`

	Crawl CrawlProfile `yaml:"crawl"`
	Scope ScopeProfile `yaml:"scope"`
	SQLi  SQLiProfile  `yaml:"sqli"`
	HTTP  HTTPProfile  `yaml:"http"`

	Reports []ReportOutput `yaml:"reports"`

	MetricsAddr  string `yaml:"metrics_addr"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// CrawlProfile tunes surface discovery.
type CrawlProfile struct {
	Disabled     bool `yaml:"disabled"`
	MaxDepth     int  `yaml:"max_depth"`
	MaxURLs      int  `yaml:"max_urls"`
	Concurrency  int  `yaml:"concurrency"`
	IgnoreRobots bool `yaml:"ignore_robots"`
}

// ScopeProfile tunes target admission.
type ScopeProfile struct {
	AllowPrivate bool     `yaml:"allow_private"`
	Allow        []string `yaml:"allow,omitempty"`
	Deny         []string `yaml:"deny,omitempty"`
}

// SQLiProfile tunes the SQL injection plugin.
type SQLiProfile struct {
	Dialect      string `yaml:"dialect"`
	UnionColumns int    `yaml:"union_columns"`
	BaseDelay    string `yaml:"base_delay"`
}

// HTTPProfile tunes the request executor and the client under it.
// Timeout is the per-request deadline, distinct from the scan-level
// Timeout above.
type HTTPProfile struct {
	UserAgent   string       `yaml:"user_agent"`
	MaxBody     int64        `yaml:"max_body"`
	Timeout     string       `yaml:"timeout"`
	Proxy       string       `yaml:"proxy"`
	Insecure    bool         `yaml:"insecure_skip_verify"`
	Fingerprint string       `yaml:"fingerprint"`
	Rate        RateProfile  `yaml:"rate"`
	Retry       RetryProfile `yaml:"retry"`
	Auth        *AuthProfile `yaml:"auth"`
}

// RateProfile tunes adaptive pacing. Zero fields keep the stock
// limiter settings.
type RateProfile struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MinDelay          string  `yaml:"min_delay"`
	MaxConcurrent     int     `yaml:"max_concurrent"`
	CooldownEvery     int     `yaml:"cooldown_every"`
	CooldownTime      string  `yaml:"cooldown_time"`
	Adaptive          *bool   `yaml:"adaptive"`
	MinRate           float64 `yaml:"min_rate"`
	MaxRate           float64 `yaml:"max_rate"`
}

// RetryProfile tunes transport-failure retries.
type RetryProfile struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
	MaxDelay    string `yaml:"max_delay"`
}

// AuthProfile configures form login and re-authentication.
type AuthProfile struct {
	LoginURL        string            `yaml:"login_url"`
	Username        string            `yaml:"username"`
	Password        string            `yaml:"password"`
	UsernameField   string            `yaml:"username_field"`
	PasswordField   string            `yaml:"password_field"`
	TokenPattern    string            `yaml:"token_pattern"`
	TokenField      string            `yaml:"token_field"`
	ExtraFields     map[string]string `yaml:"extra_fields,omitempty"`
	CheckURL        string            `yaml:"check_url"`
	RedirectPattern string            `yaml:"redirect_pattern"`
}

// ReportOutput names one report file to write after the scan.
type ReportOutput struct {
	Format string `yaml:"format"`
	Path   string `yaml:"path"`
}

// reportFormats are the writers the report package provides.
var reportFormats = map[string]bool{
	"json":   true,
	"ndjson": true,
	"html":   true,
	"pdf":    true,
}

// Load reads and validates a profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read profile: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates profile YAML. Unknown keys are an
// error.
func Parse(data []byte) (*Profile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Profile
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty profile", ErrInvalidConfig)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// Building the options exercises every semantic check, so a bad
	// profile fails at load time, not minutes into a scan.
	if _, err := p.Options(); err != nil {
		return nil, err
	}
	if _, err := p.ScanTimeout(); err != nil {
		return nil, err
	}
	for _, r := range p.Reports {
		if !reportFormats[r.Format] {
			return nil, fmt.Errorf("%w: report format %q (known: json, ndjson, html, pdf)", ErrInvalidConfig, r.Format)
		}
		if r.Path == "" {
			return nil, fmt.Errorf("%w: report output needs a path", ErrMissingRequired)
		}
	}
	return &p, nil
}

// ScanTimeout returns the overall scan deadline, zero when unset.
func (p *Profile) ScanTimeout() (time.Duration, error) {
	if p.Timeout == "" {
		return 0, nil
	}
	return parseDelay("timeout", p.Timeout)
}

// Options translates the profile into scan options, starting from the
// scan defaults so omitted sections keep the stock behavior.
func (p *Profile) Options() (scan.Options, error) {
	opts := scan.DefaultOptions()

	if p.Threshold < 0 || p.Threshold > 1 {
		return opts, fmt.Errorf("%w: threshold %v outside [0,1]", ErrInvalidConfig, p.Threshold)
	}
	opts.Threshold = p.Threshold

	for _, name := range p.Evasion {
		if _, ok := evasion.Get(name); !ok {
			return opts, fmt.Errorf("%w: unknown evasion tamper %q (available: %v)", ErrInvalidConfig, name, evasion.List())
		}
	}
	opts.Evasion = p.Evasion

	if p.Concurrency > 0 {
		opts.Concurrency = p.Concurrency
	}
	if p.Aggressive != nil {
		opts.Aggressive = *p.Aggressive
	}
	opts.HeadlessVerify = p.HeadlessVerify
	if p.RequestsPerSecond > 0 {
		opts.RequestsPerSecond = p.RequestsPerSecond
	}

	opts.NoCrawl = p.Crawl.Disabled
	if p.Crawl.MaxDepth > 0 {
		opts.Crawl.MaxDepth = p.Crawl.MaxDepth
	}
	if p.Crawl.MaxURLs > 0 {
		opts.Crawl.MaxURLs = p.Crawl.MaxURLs
	}
	if p.Crawl.Concurrency > 0 {
		opts.Crawl.Concurrency = p.Crawl.Concurrency
	}
	opts.Crawl.IgnoreRobots = p.Crawl.IgnoreRobots

	opts.Guard = scope.GuardConfig{
		AllowPrivate: p.Scope.AllowPrivate,
		Allow:        p.Scope.Allow,
		Deny:         p.Scope.Deny,
	}

	if p.SQLi.Dialect != "" {
		d := payloads.Dialect(strings.ToLower(p.SQLi.Dialect))
		if !knownDialect(d) {
			return opts, fmt.Errorf("%w: dialect %q (known: %v)", ErrInvalidConfig, p.SQLi.Dialect, payloads.Dialects())
		}
		opts.Dialect = d
	}
	if p.SQLi.UnionColumns > 0 {
		opts.UnionColumns = p.SQLi.UnionColumns
	}
	if p.SQLi.BaseDelay != "" {
		d, err := parseDelay("sqli.base_delay", p.SQLi.BaseDelay)
		if err != nil {
			return opts, err
		}
		opts.BaseDelay = d
	}

	cfg, err := p.executorConfig()
	if err != nil {
		return opts, err
	}
	opts.Executor = cfg
	return opts, nil
}

func (p *Profile) executorConfig() (executor.Config, error) {
	cfg := executor.Config{
		UserAgent: p.HTTP.UserAgent,
		MaxBody:   p.HTTP.MaxBody,
	}

	if p.HTTP.Timeout != "" || p.HTTP.Proxy != "" || p.HTTP.Insecure || p.HTTP.Fingerprint != "" {
		cc := httpclient.DefaultConfig()
		if p.HTTP.Timeout != "" {
			d, err := parseDelay("http.timeout", p.HTTP.Timeout)
			if err != nil {
				return cfg, err
			}
			cc.Timeout = d
		}
		if p.HTTP.Proxy != "" {
			u, err := url.Parse(p.HTTP.Proxy)
			if err != nil || u.Scheme == "" {
				return cfg, fmt.Errorf("%w: http.proxy %q is not a URL", ErrInvalidConfig, p.HTTP.Proxy)
			}
			cc.Proxy = p.HTTP.Proxy
		}
		cc.InsecureSkipVerify = p.HTTP.Insecure
		if fp := p.HTTP.Fingerprint; fp != "" {
			id := httpclient.FingerprintID(strings.ToLower(fp))
			if !knownFingerprint(id) {
				return cfg, fmt.Errorf("%w: http.fingerprint %q (known: %v)", ErrInvalidConfig, fp, httpclient.Fingerprints())
			}
			cc.Fingerprint = id
		}
		cfg.Client = httpclient.New(cc)
	}

	if rc := p.HTTP.Rate; rc != (RateProfile{}) {
		lim := ratelimit.DefaultConfig()
		if rc.RequestsPerSecond > 0 {
			lim.RequestsPerSecond = rc.RequestsPerSecond
		}
		if rc.MinDelay != "" {
			d, err := parseDelay("http.rate.min_delay", rc.MinDelay)
			if err != nil {
				return cfg, err
			}
			lim.MinDelay = d
		}
		if rc.MaxConcurrent > 0 {
			lim.MaxConcurrent = rc.MaxConcurrent
		}
		if rc.CooldownEvery > 0 {
			lim.CooldownEvery = rc.CooldownEvery
		}
		if rc.CooldownTime != "" {
			d, err := parseDelay("http.rate.cooldown_time", rc.CooldownTime)
			if err != nil {
				return cfg, err
			}
			lim.CooldownTime = d
		}
		if rc.Adaptive != nil {
			lim.Adaptive = *rc.Adaptive
		}
		if rc.MinRate > 0 {
			lim.MinRate = rc.MinRate
		}
		if rc.MaxRate > 0 {
			lim.MaxRate = rc.MaxRate
		}
		cfg.Limiter = ratelimit.New(lim)
	}

	if rt := p.HTTP.Retry; rt != (RetryProfile{}) {
		pol := retry.DefaultPolicy()
		if rt.MaxAttempts > 0 {
			pol.MaxAttempts = rt.MaxAttempts
		}
		if rt.BaseDelay != "" {
			d, err := parseDelay("http.retry.base_delay", rt.BaseDelay)
			if err != nil {
				return cfg, err
			}
			pol.InitDelay = d
		}
		if rt.MaxDelay != "" {
			d, err := parseDelay("http.retry.max_delay", rt.MaxDelay)
			if err != nil {
				return cfg, err
			}
			pol.MaxDelay = d
		}
		cfg.Retry = pol
	}

	if a := p.HTTP.Auth; a != nil {
		if a.LoginURL == "" {
			return cfg, fmt.Errorf("%w: http.auth.login_url", ErrMissingRequired)
		}
		cfg.Auth = &executor.AuthConfig{
			LoginURL:        a.LoginURL,
			Username:        a.Username,
			Password:        a.Password,
			UsernameField:   a.UsernameField,
			PasswordField:   a.PasswordField,
			TokenPattern:    a.TokenPattern,
			TokenField:      a.TokenField,
			ExtraFields:     a.ExtraFields,
			CheckURL:        a.CheckURL,
			RedirectPattern: a.RedirectPattern,
		}
	}
	return cfg, nil
}

func parseDelay(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalidConfig, field)
	}
	return d, nil
}

func knownDialect(d payloads.Dialect) bool {
	for _, k := range payloads.Dialects() {
		if d == k {
			return true
		}
	}
	return false
}

func knownFingerprint(id httpclient.FingerprintID) bool {
	for _, k := range httpclient.Fingerprints() {
		if id == k {
			return true
		}
	}
	return false
}
