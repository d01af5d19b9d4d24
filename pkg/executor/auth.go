package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/Rimaestro/vulnity-kp/pkg/regexcache"
)

// AuthConfig describes a form-login flow. Any application with a
// login form fits; a DVWA target is just one profile:
//
//	executor.AuthConfig{
//		LoginURL:     "http://127.0.0.1/dvwa/login.php",
//		Username:     "admin",
//		Password:     "password",
//		TokenPattern: `user_token'\s+value='([0-9a-f]{32})'`,
//		TokenField:   "user_token",
//		ExtraFields:  map[string]string{"Login": "Login"},
//		CheckURL:     "http://127.0.0.1/dvwa/index.php",
//	}
type AuthConfig struct {
	// LoginURL is the page that serves and receives the login form.
	LoginURL string

	Username string
	Password string

	// UsernameField and PasswordField name the form inputs.
	// Default "username" and "password".
	UsernameField string
	PasswordField string

	// TokenPattern is a regex with one capture group extracting a CSRF
	// token from the login page. Empty skips token handling.
	TokenPattern string

	// TokenField is the form field the extracted token is posted as.
	// Required when TokenPattern is set.
	TokenField string

	// ExtraFields are posted verbatim with the credentials, for submit
	// buttons and application-specific inputs.
	ExtraFields map[string]string

	// CheckURL, when set, is fetched after login; a non-200 answer or
	// another login redirect marks the login as failed.
	CheckURL string

	// RedirectPattern is a regex matched against 3xx Location values to
	// recognize a bounce to the login page. Empty derives it from the
	// LoginURL path.
	RedirectPattern string
}

// authState carries the compiled patterns and serializes refreshes so
// concurrent probes hitting an expired session trigger one login, not
// a stampede.
type authState struct {
	cfg      AuthConfig
	redirect *regexp.Regexp
	token    *regexp.Regexp

	mu       sync.Mutex
	lastAuth time.Time
}

func newAuthState(cfg AuthConfig) (*authState, error) {
	if cfg.LoginURL == "" {
		return nil, errors.New("executor: auth requires LoginURL")
	}
	if cfg.UsernameField == "" {
		cfg.UsernameField = "username"
	}
	if cfg.PasswordField == "" {
		cfg.PasswordField = "password"
	}
	if cfg.TokenPattern != "" && cfg.TokenField == "" {
		return nil, errors.New("executor: auth TokenPattern requires TokenField")
	}

	s := &authState{cfg: cfg}

	pattern := cfg.RedirectPattern
	if pattern == "" {
		u, err := url.Parse(cfg.LoginURL)
		if err != nil {
			return nil, fmt.Errorf("executor: parse LoginURL: %w", err)
		}
		pattern = regexp.QuoteMeta(u.Path)
	}
	var err error
	if s.redirect, err = regexcache.Get(pattern); err != nil {
		return nil, fmt.Errorf("executor: auth RedirectPattern: %w", err)
	}
	if cfg.TokenPattern != "" {
		if s.token, err = regexcache.Get(cfg.TokenPattern); err != nil {
			return nil, fmt.Errorf("executor: auth TokenPattern: %w", err)
		}
	}
	return s, nil
}

// loginRedirect reports whether res bounced to the login page.
func (a *authState) loginRedirect(res *Result) bool {
	return res.Redirected() && a.redirect.MatchString(res.Location)
}

// refresh performs the login flow: fetch the login page, extract the
// CSRF token, post credentials, verify. A refresh completed by another
// goroutine after the caller observed its redirect (seen) counts as
// this caller's refresh too.
func (a *authState) refresh(ctx context.Context, e *Executor, seen time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastAuth.After(seen) {
		return nil
	}

	var token string
	if a.token != nil {
		page := e.sendOnce(ctx, NewGet(a.cfg.LoginURL))
		if !page.OK() {
			return fmt.Errorf("executor: fetch login page: %w", page.Err)
		}
		m := a.token.FindStringSubmatch(page.Body)
		if len(m) < 2 {
			return errors.New("executor: csrf token not found on login page")
		}
		token = m[1]
	}

	form := url.Values{}
	form.Set(a.cfg.UsernameField, a.cfg.Username)
	form.Set(a.cfg.PasswordField, a.cfg.Password)
	if token != "" {
		form.Set(a.cfg.TokenField, token)
	}
	for k, v := range a.cfg.ExtraFields {
		form.Set(k, v)
	}

	login := e.sendOnce(ctx, &Request{
		Method: http.MethodPost,
		URL:    a.cfg.LoginURL,
		Form:   form,
	})
	if !login.OK() {
		return fmt.Errorf("executor: post login: %w", login.Err)
	}
	if a.loginRedirect(login) {
		return errors.New("executor: login rejected, bounced back to login page")
	}

	if a.cfg.CheckURL != "" {
		probe := e.sendOnce(ctx, NewGet(a.cfg.CheckURL))
		if !probe.OK() {
			return fmt.Errorf("executor: login check: %w", probe.Err)
		}
		if probe.StatusCode != http.StatusOK || a.loginRedirect(probe) {
			return fmt.Errorf("executor: login check got status %d", probe.StatusCode)
		}
	}

	a.lastAuth = time.Now()
	return nil
}
