// Package executor sends the engine's HTTP requests. It owns the
// concerns every probe shares: pacing through the rate limiter,
// bounded retries on transport failures, session cookie continuity,
// and re-authentication when the target bounces a request to its
// login page.
//
// Send never panics and never returns a Go error for a reachable
// target. The outcome taxonomy is the tagged Result: a 500 from the
// target is an OutcomeOK result with StatusCode 500, while a refused
// connection is OutcomeNetworkError. Detection strategies branch on
// the tag, not on error strings.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/Rimaestro/vulnity-kp/pkg/finding"
	"github.com/Rimaestro/vulnity-kp/pkg/httpclient"
	"github.com/Rimaestro/vulnity-kp/pkg/iohelper"
	"github.com/Rimaestro/vulnity-kp/pkg/ratelimit"
	"github.com/Rimaestro/vulnity-kp/pkg/retry"
)

// DefaultUserAgent identifies the scanner unless a profile overrides it.
const DefaultUserAgent = "Mozilla/5.0 (compatible; Vulnity/1.0; +https://github.com/Rimaestro/vulnity-kp)"

// Config holds executor settings. The zero value is usable; New fills
// defaults.
type Config struct {
	// Client is the base HTTP client. Nil uses httpclient.Default().
	// The executor copies it and attaches its own cookie jar, so the
	// caller's client is never mutated.
	Client *http.Client

	// Limiter paces requests. Nil builds one from ratelimit defaults.
	Limiter *ratelimit.Limiter

	// Budget is a token-bucket cap on the combined request rate of
	// every executor built from the same config. The orchestrator sets
	// one per scan so plugins share it; nil means no global cap.
	Budget *rate.Limiter

	// Tracer records one client span per request when set.
	Tracer trace.Tracer

	// Retry governs transport-failure retries. Zero value means
	// retry.DefaultPolicy.
	Retry retry.Policy

	// UserAgent is applied when the request carries none.
	UserAgent string

	// MaxBody caps how much of each response body is read.
	MaxBody int64

	// Auth enables login-redirect detection and form re-authentication.
	Auth *AuthConfig

	// OnRequest fires after every completed Send with the final result.
	OnRequest func(*Result)

	// OnRetry fires before each retry attempt with the attempt number
	// (second try is 2) and the error that caused it.
	OnRetry func(attempt int, err error)
}

// Executor sends requests for one scan. Safe for concurrent use.
type Executor struct {
	cfg     Config
	client  *http.Client
	limiter *ratelimit.Limiter
	auth    *authState
	logger  *slog.Logger

	sent     atomic.Int64
	retries  atomic.Int64
	failures atomic.Int64
	logins   atomic.Int64
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets a custom structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor. New(Config{}) is valid and uses the shared
// default client, default pacing and the default retry policy. The
// only error source is an invalid Auth configuration.
func New(cfg Config, opts ...Option) (*Executor, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = iohelper.DefaultBodyLimit
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}

	base := cfg.Client
	if base == nil {
		base = httpclient.Default()
	}
	// Copy so the session jar stays private to this executor.
	client := *base
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("executor: cookie jar: %w", err)
	}
	client.Jar = jar

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultConfig())
	}

	e := &Executor{
		cfg:     cfg,
		client:  &client,
		limiter: limiter,
		logger:  slog.Default(),
	}
	if cfg.Auth != nil {
		e.auth, err = newAuthState(*cfg.Auth)
		if err != nil {
			return nil, err
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Limiter exposes the pacing state for statistics snapshots.
func (e *Executor) Limiter() *ratelimit.Limiter { return e.limiter }

// Stats is a snapshot of executor counters.
type Stats struct {
	Sent     int64 `json:"sent"`
	Retries  int64 `json:"retries"`
	Failures int64 `json:"failures"`
	Logins   int64 `json:"logins"`
}

// Stats returns current request counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Sent:     e.sent.Load(),
		Retries:  e.retries.Load(),
		Failures: e.failures.Load(),
		Logins:   e.logins.Load(),
	}
}

// Send performs one request with pacing, retries and session handling
// applied. The returned Result is never nil.
func (e *Executor) Send(ctx context.Context, req *Request) *Result {
	req = req.Clone()

	if e.cfg.Tracer == nil {
		return e.exchange(ctx, req)
	}
	ctx, span := e.cfg.Tracer.Start(ctx, "request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL),
		))
	res := e.exchange(ctx, req)
	span.SetAttributes(
		attribute.String("request.outcome", string(res.Outcome)),
		attribute.Int("http.response.status_code", res.StatusCode),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Outcome))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	return res
}

// exchange runs the budget gate, the adaptive limiter and the retried
// exchange itself.
func (e *Executor) exchange(ctx context.Context, req *Request) *Result {
	if e.cfg.Budget != nil {
		if err := e.cfg.Budget.Wait(ctx); err != nil {
			return e.finish(&Result{
				Outcome: OutcomeCancelled,
				Err:     fmt.Errorf("executor: %w: %v", finding.ErrCancelled, err),
			})
		}
	}

	if err := e.limiter.Acquire(ctx); err != nil {
		return e.finish(&Result{
			Outcome: OutcomeCancelled,
			Err:     fmt.Errorf("executor: %w: %v", finding.ErrCancelled, err),
		})
	}
	defer e.limiter.Release()

	res := e.sendRetried(ctx, req)
	if res.OK() {
		e.limiter.Observe(res.Duration)
		if e.auth != nil && e.auth.loginRedirect(res) {
			res = e.reauthAndReplay(ctx, req, res)
		}
	}
	return e.finish(res)
}

// finish updates counters and fires the request hook.
func (e *Executor) finish(res *Result) *Result {
	e.sent.Add(1)
	if !res.OK() {
		e.failures.Add(1)
	}
	if e.cfg.OnRequest != nil {
		e.cfg.OnRequest(res)
	}
	return res
}

// sendRetried runs the retry loop around sendOnce. 4xx/5xx responses
// come back on the first pass; only transport failures retry.
func (e *Executor) sendRetried(ctx context.Context, req *Request) *Result {
	var res *Result
	attempt := 0
	_ = retry.Do(ctx, e.cfg.Retry, func() error {
		attempt++
		if attempt > 1 {
			e.retries.Add(1)
			if e.cfg.OnRetry != nil {
				e.cfg.OnRetry(attempt, res.Err)
			}
			e.logger.Debug("retrying request",
				slog.String("url", req.URL),
				slog.Int("attempt", attempt))
		}
		res = e.sendOnce(ctx, req)
		if res.OK() {
			return nil
		}
		if res.Outcome == OutcomeCancelled {
			return retry.Stop(res.Err)
		}
		return res.Err
	})

	res.Attempts = attempt
	if !res.OK() && ctx.Err() != nil {
		res.Outcome = OutcomeCancelled
		res.Err = fmt.Errorf("executor: %w: %v", finding.ErrCancelled, ctx.Err())
	}
	return res
}

// sendOnce performs a single HTTP exchange and classifies the outcome.
func (e *Executor) sendOnce(ctx context.Context, req *Request) *Result {
	httpReq, err := e.buildHTTPRequest(ctx, req)
	if err != nil {
		return &Result{
			Outcome: OutcomeNetworkError,
			Err:     fmt.Errorf("executor: %w: %v", finding.ErrUnreachable, err),
		}
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		return e.classify(ctx, err, elapsed)
	}

	body := iohelper.ReadAndClose(resp.Body, e.cfg.MaxBody, e.logger)
	return &Result{
		Outcome:    OutcomeOK,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       string(body),
		Location:   resp.Header.Get("Location"),
		Duration:   elapsed,
	}
}

// buildHTTPRequest assembles the wire request. Form values become the
// urlencoded body for body-carrying methods and query parameters
// otherwise.
func (e *Executor) buildHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target := req.URL
	var body io.Reader
	if len(req.Form) > 0 {
		encoded := req.Form.Encode()
		if req.hasBody() {
			body = strings.NewReader(encoded)
		} else if strings.Contains(target, "?") {
			target += "&" + encoded
		} else {
			target += "?" + encoded
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", e.cfg.UserAgent)
	}
	return httpReq, nil
}

// classify maps a transport error to the failure taxonomy.
func (e *Executor) classify(ctx context.Context, err error, elapsed time.Duration) *Result {
	res := &Result{Duration: elapsed}

	var netErr net.Error
	switch {
	case ctx.Err() != nil:
		res.Outcome = OutcomeCancelled
		res.Err = fmt.Errorf("executor: %w: %v", finding.ErrCancelled, err)
	case errors.As(err, &netErr) && netErr.Timeout(),
		errors.Is(err, context.DeadlineExceeded):
		res.Outcome = OutcomeTimeout
		res.Err = fmt.Errorf("executor: %w: %v", finding.ErrTimeout, err)
	default:
		res.Outcome = OutcomeNetworkError
		res.Err = fmt.Errorf("executor: %w: %v", finding.ErrUnreachable, err)
	}
	return res
}

// reauthAndReplay refreshes the session after a login redirect and
// replays the original request exactly once. The replay rides the
// rate-limit slot already held by Send.
func (e *Executor) reauthAndReplay(ctx context.Context, req *Request, orig *Result) *Result {
	seen := time.Now()
	e.logger.Info("login redirect detected, re-authenticating",
		slog.String("url", req.URL),
		slog.String("location", orig.Location))

	if err := e.auth.refresh(ctx, e, seen); err != nil {
		e.logger.Warn("re-authentication failed", slog.String("error", err.Error()))
		return orig
	}
	e.logins.Add(1)

	replay := e.sendOnce(ctx, req)
	if !replay.OK() {
		return orig
	}
	replay.Attempts = orig.Attempts
	return replay
}
