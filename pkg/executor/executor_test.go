package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/time/rate"

	"github.com/Rimaestro/vulnity-kp/pkg/finding"
	"github.com/Rimaestro/vulnity-kp/pkg/httpclient"
	"github.com/Rimaestro/vulnity-kp/pkg/ratelimit"
	"github.com/Rimaestro/vulnity-kp/pkg/retry"
)

// fastLimiter removes the production pacing so tests run in
// milliseconds.
func fastLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		RequestsPerSecond: 1000,
		MinRate:           1,
		MaxRate:           1000,
	})
}

func newTestExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	if cfg.Limiter == nil {
		cfg.Limiter = fastLimiter()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Policy{MaxAttempts: 1}
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestSendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Powered-By", "PHP/8.1")
		fmt.Fprint(w, "hello scanner")
	}))
	defer srv.Close()

	e := newTestExecutor(t, Config{})
	res := e.Send(context.Background(), NewGet(srv.URL))

	if res.Outcome != OutcomeOK {
		t.Fatalf("outcome = %q, want ok (err: %v)", res.Outcome, res.Err)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
	if res.Body != "hello scanner" {
		t.Errorf("body = %q", res.Body)
	}
	if res.Header.Get("X-Powered-By") != "PHP/8.1" {
		t.Errorf("header not captured")
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
}

func TestSendErrorStatusIsNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newTestExecutor(t, Config{
		Retry: retry.Policy{MaxAttempts: 3, InitDelay: time.Millisecond},
	})
	res := e.Send(context.Background(), NewGet(srv.URL))

	if res.Outcome != OutcomeOK {
		t.Fatalf("outcome = %q, want ok", res.Outcome)
	}
	if res.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", res.StatusCode)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hit %d times, want 1", got)
	}
}

func TestSendNetworkErrorRetriesAndClassifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead := srv.URL
	srv.Close()

	var retriedAttempts []int
	e := newTestExecutor(t, Config{
		Retry:   retry.Policy{MaxAttempts: 3, InitDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		OnRetry: func(attempt int, err error) { retriedAttempts = append(retriedAttempts, attempt) },
	})
	res := e.Send(context.Background(), NewGet(dead))

	if res.Outcome != OutcomeNetworkError {
		t.Fatalf("outcome = %q, want network-error", res.Outcome)
	}
	if !errors.Is(res.Err, finding.ErrUnreachable) {
		t.Errorf("err = %v, want ErrUnreachable", res.Err)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
	if len(retriedAttempts) != 2 || retriedAttempts[0] != 2 || retriedAttempts[1] != 3 {
		t.Errorf("OnRetry attempts = %v, want [2 3]", retriedAttempts)
	}
	if stats := e.Stats(); stats.Retries != 2 || stats.Failures != 1 {
		t.Errorf("stats = %+v, want 2 retries, 1 failure", stats)
	}
}

func TestSendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	e := newTestExecutor(t, Config{
		Client: httpclient.New(httpclient.Config{Timeout: 50 * time.Millisecond}),
		Retry:  retry.Policy{MaxAttempts: 2, InitDelay: time.Millisecond},
	})
	res := e.Send(context.Background(), NewGet(srv.URL))

	if res.Outcome != OutcomeTimeout {
		t.Fatalf("outcome = %q, want timeout (err: %v)", res.Outcome, res.Err)
	}
	if !errors.Is(res.Err, finding.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", res.Err)
	}
	if res.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", res.Attempts)
	}
}

func TestSendCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	e := newTestExecutor(t, Config{
		Retry: retry.Policy{MaxAttempts: 3, InitDelay: time.Millisecond},
	})
	res := e.Send(ctx, NewGet(srv.URL))

	if res.Outcome != OutcomeCancelled {
		t.Fatalf("outcome = %q, want cancelled", res.Outcome)
	}
	if !errors.Is(res.Err, finding.ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", res.Err)
	}
}

func TestRedirectsAreObservedNotFollowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
			return
		}
		t.Errorf("redirect was followed to %s", r.URL.Path)
	}))
	defer srv.Close()

	e := newTestExecutor(t, Config{Client: httpclient.New(httpclient.Config{})})
	res := e.Send(context.Background(), NewGet(srv.URL+"/start"))

	if res.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", res.StatusCode)
	}
	if !res.Redirected() || res.Location != "/elsewhere" {
		t.Errorf("Location = %q, Redirected = %v", res.Location, res.Redirected())
	}
}

func TestSessionCookiesPersist(t *testing.T) {
	var sawCookie atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/set":
			http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "abc123", Path: "/"})
		case "/check":
			if c, err := r.Cookie("PHPSESSID"); err == nil && c.Value == "abc123" {
				sawCookie.Store(true)
			}
		}
	}))
	defer srv.Close()

	e := newTestExecutor(t, Config{})
	ctx := context.Background()
	if res := e.Send(ctx, NewGet(srv.URL+"/set")); !res.OK() {
		t.Fatalf("set: %v", res.Err)
	}
	if res := e.Send(ctx, NewGet(srv.URL+"/check")); !res.OK() {
		t.Fatalf("check: %v", res.Err)
	}
	if !sawCookie.Load() {
		t.Error("session cookie from first response not replayed on second request")
	}
}

func TestFormBodyEncoding(t *testing.T) {
	var gotField, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		gotField = r.PostFormValue("comment")
	}))
	defer srv.Close()

	e := newTestExecutor(t, Config{})
	req := InjectForm(srv.URL+"/guestbook", "post", url.Values{
		"name":    {"anon"},
		"comment": {"hello"},
	}, "comment", "'><script>probe</script>")
	res := e.Send(context.Background(), req)

	if !res.OK() {
		t.Fatalf("send: %v", res.Err)
	}
	if gotContentType != "application/x-www-form-urlencoded" {
		t.Errorf("content type = %q", gotContentType)
	}
	if gotField != "'><script>probe</script>" {
		t.Errorf("injected field = %q", gotField)
	}
}

func TestFormOnGetBecomesQuery(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
	}))
	defer srv.Close()

	e := newTestExecutor(t, Config{})
	res := e.Send(context.Background(), &Request{
		Method: http.MethodGet,
		URL:    srv.URL + "/search",
		Form:   url.Values{"q": {"probe"}},
	})

	if !res.OK() {
		t.Fatalf("send: %v", res.Err)
	}
	if gotQuery.Get("q") != "probe" {
		t.Errorf("query = %v, want q=probe", gotQuery)
	}
}

func TestOnRequestHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	var calls atomic.Int64
	e := newTestExecutor(t, Config{
		OnRequest: func(res *Result) { calls.Add(1) },
	})
	ctx := context.Background()
	e.Send(ctx, NewGet(srv.URL))
	e.Send(ctx, NewGet(srv.URL))

	if got := calls.Load(); got != 2 {
		t.Errorf("OnRequest fired %d times, want 2", got)
	}
	if stats := e.Stats(); stats.Sent != 2 {
		t.Errorf("Sent = %d, want 2", stats.Sent)
	}
}

// loginServer mimics a PHP application with a CSRF-protected login
// form and a session-gated vulnerable page.
type loginServer struct {
	mu     sync.Mutex
	logins int
	token  string
}

func (s *loginServer) loginCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *loginServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if r.Method == http.MethodGet {
			s.token = "deadbeefcafe0123"
			fmt.Fprintf(w, "<form><input type='hidden' name='user_token' value='%s'></form>", s.token)
			return
		}
		r.ParseForm()
		if r.PostFormValue("username") == "admin" &&
			r.PostFormValue("password") == "password" &&
			r.PostFormValue("user_token") == s.token &&
			r.PostFormValue("Login") == "Login" {
			s.logins++
			http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "authed", Path: "/"})
			http.Redirect(w, r, "/index.php", http.StatusFound)
			return
		}
		http.Redirect(w, r, "/login.php", http.StatusFound)
	})
	authed := func(r *http.Request) bool {
		c, err := r.Cookie("PHPSESSID")
		return err == nil && c.Value == "authed"
	}
	mux.HandleFunc("/index.php", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			http.Redirect(w, r, "/login.php", http.StatusFound)
			return
		}
		fmt.Fprint(w, "Welcome to the dashboard")
	})
	mux.HandleFunc("/vuln.php", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			http.Redirect(w, r, "/login.php", http.StatusFound)
			return
		}
		fmt.Fprintf(w, "id=%s result row", r.URL.Query().Get("id"))
	})
	return mux
}

func TestReauthenticationFlow(t *testing.T) {
	srv := &loginServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	e := newTestExecutor(t, Config{
		Client: httpclient.New(httpclient.Config{}),
		Auth: &AuthConfig{
			LoginURL:     ts.URL + "/login.php",
			Username:     "admin",
			Password:     "password",
			TokenPattern: `name='user_token' value='([0-9a-f]+)'`,
			TokenField:   "user_token",
			ExtraFields:  map[string]string{"Login": "Login"},
			CheckURL:     ts.URL + "/index.php",
		},
	})

	ctx := context.Background()
	res := e.Send(ctx, NewGet(ts.URL+"/vuln.php?id=1"))

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status after re-auth = %d, want 200 (outcome %q)", res.StatusCode, res.Outcome)
	}
	if !strings.Contains(res.Body, "result row") {
		t.Errorf("body = %q, want the vulnerable page content", res.Body)
	}
	if srv.loginCount() != 1 {
		t.Errorf("server saw %d logins, want 1", srv.loginCount())
	}
	if stats := e.Stats(); stats.Logins != 1 {
		t.Errorf("stats.Logins = %d, want 1", stats.Logins)
	}

	// The session persists, so the next request must not log in again.
	res = e.Send(ctx, NewGet(ts.URL+"/vuln.php?id=2"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second request status = %d", res.StatusCode)
	}
	if srv.loginCount() != 1 {
		t.Errorf("server saw %d logins after second request, want 1", srv.loginCount())
	}
}

func TestAuthConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  AuthConfig
	}{
		{"missing login url", AuthConfig{Username: "a"}},
		{"token pattern without field", AuthConfig{LoginURL: "http://t/login", TokenPattern: `value='(\w+)'`}},
		{"bad token regex", AuthConfig{LoginURL: "http://t/login", TokenPattern: `value='([`, TokenField: "tok"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if _, err := New(Config{Auth: &cfg}); err == nil {
				t.Error("New accepted an invalid auth config")
			}
		})
	}
}

func TestSetQueryParam(t *testing.T) {
	got, err := SetQueryParam("http://t/page?id=1&cat=2", "id", "1' OR '1'='1")
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(got)
	if u.Query().Get("id") != "1' OR '1'='1" {
		t.Errorf("id = %q", u.Query().Get("id"))
	}
	if u.Query().Get("cat") != "2" {
		t.Errorf("untouched param lost: %v", u.Query())
	}
}

func TestInjectFormCopiesFields(t *testing.T) {
	base := url.Values{"user": {"bob"}, "bio": {"original"}}
	req := InjectForm("http://t/profile", "", base, "bio", "<script>x</script>")

	if req.Method != http.MethodPost {
		t.Errorf("method = %q, want POST", req.Method)
	}
	if req.Form.Get("bio") != "<script>x</script>" {
		t.Errorf("injected = %q", req.Form.Get("bio"))
	}
	if base.Get("bio") != "original" {
		t.Error("InjectForm mutated the caller's field map")
	}
	if req.Param.Name != "bio" || req.Param.Origin != OriginForm {
		t.Errorf("param metadata = %+v", req.Param)
	}
}

func TestInjectQueryRawPreservesEncoding(t *testing.T) {
	req, err := InjectQueryRaw("http://t/vuln.php?id=1&Submit=Submit", "id", "1'%20OR%20'1'='1", "1' OR '1'='1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(req.URL, "&id=1'%20OR%20'1'='1") {
		t.Errorf("raw payload re-encoded: %s", req.URL)
	}
	if !strings.Contains(req.URL, "Submit=Submit") {
		t.Errorf("sibling param lost: %s", req.URL)
	}
	if req.Payload != "1' OR '1'='1" {
		t.Errorf("original payload not recorded: %q", req.Payload)
	}
}

func TestBudgetSharedAcrossExecutors(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	// A generous budget never blocks; both executors draw tokens from
	// the same bucket because the config is shared.
	cfg := Config{Budget: rate.NewLimiter(rate.Limit(1000), 1000)}
	a := newTestExecutor(t, cfg)
	b := newTestExecutor(t, cfg)

	for i := 0; i < 3; i++ {
		if res := a.Send(context.Background(), NewGet(srv.URL)); !res.OK() {
			t.Fatalf("a: %v", res.Err)
		}
		if res := b.Send(context.Background(), NewGet(srv.URL)); !res.OK() {
			t.Fatalf("b: %v", res.Err)
		}
	}
	if hits.Load() != 6 {
		t.Fatalf("hits = %d, want 6", hits.Load())
	}
}

func TestBudgetCancelled(t *testing.T) {
	// Burst zero never grants a token, so the cancelled context is the
	// only way out of the budget gate.
	e := newTestExecutor(t, Config{Budget: rate.NewLimiter(rate.Limit(1), 0)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Send(ctx, NewGet("http://unused.invalid/"))

	if res.Outcome != OutcomeCancelled {
		t.Fatalf("outcome = %q, want cancelled", res.Outcome)
	}
	if !errors.Is(res.Err, finding.ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", res.Err)
	}
}

func TestSendRecordsSpan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	e := newTestExecutor(t, Config{Tracer: provider.Tracer("test")})

	if res := e.Send(context.Background(), NewGet(srv.URL)); !res.OK() {
		t.Fatalf("send: %v", res.Err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name != "request" {
		t.Errorf("span name = %q", span.Name)
	}
	got := make(map[string]any, len(span.Attributes))
	for _, kv := range span.Attributes {
		got[string(kv.Key)] = kv.Value.AsInterface()
	}
	if got["http.request.method"] != "GET" {
		t.Errorf("method attribute = %v", got["http.request.method"])
	}
	if got["http.response.status_code"] != int64(http.StatusTeapot) {
		t.Errorf("status attribute = %v", got["http.response.status_code"])
	}
	if got["request.outcome"] != "ok" {
		t.Errorf("outcome attribute = %v", got["request.outcome"])
	}
}
