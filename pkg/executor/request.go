package executor

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ParamOrigin records where an injectable parameter lives.
type ParamOrigin string

const (
	OriginQuery ParamOrigin = "query"
	OriginForm  ParamOrigin = "form"
	OriginPath  ParamOrigin = "path"
)

// Param identifies one injectable parameter of a target.
type Param struct {
	Name   string      `json:"name"`
	Origin ParamOrigin `json:"origin"`
}

// Request describes one HTTP request to send. Build it fully before
// calling Send; the executor clones it internally and never mutates
// the caller's copy.
type Request struct {
	Method string
	URL    string
	Header http.Header

	// Form is sent urlencoded as the body when non-nil and the method
	// allows a body.
	Form url.Values

	// Param names the parameter this request probes, when it probes one.
	Param Param

	// Payload is the raw injected value, recorded for evidence.
	Payload string
}

// NewGet builds a plain GET request.
func NewGet(rawURL string) *Request {
	return &Request{Method: http.MethodGet, URL: rawURL}
}

// Clone deep-copies the request.
func (r *Request) Clone() *Request {
	c := *r
	if r.Header != nil {
		c.Header = r.Header.Clone()
	}
	if r.Form != nil {
		c.Form = make(url.Values, len(r.Form))
		for k, v := range r.Form {
			c.Form[k] = append([]string(nil), v...)
		}
	}
	return &c
}

// hasBody reports whether the method carries the form as a body.
// Other methods get the form appended to the query string.
func (r *Request) hasBody() bool {
	switch strings.ToUpper(r.Method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// SetQueryParam returns rawURL with the named query parameter set to
// value, replacing any existing values and leaving other parameters
// untouched.
func SetQueryParam(rawURL, name, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("executor: parse url: %w", err)
	}
	q := u.Query()
	q.Set(name, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// InjectQuery builds a probe request for a query parameter.
func InjectQuery(rawURL, param, payload string) (*Request, error) {
	injected, err := SetQueryParam(rawURL, param, payload)
	if err != nil {
		return nil, err
	}
	return &Request{
		Method:  http.MethodGet,
		URL:     injected,
		Param:   Param{Name: param, Origin: OriginQuery},
		Payload: payload,
	}, nil
}

// InjectQueryRaw builds a probe request whose query carries an already
// encoded payload verbatim. Used when a tamper chain controls the wire
// encoding; the other parameters keep their standard encoding.
func InjectQueryRaw(rawURL, param, encoded, payload string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("executor: parse url: %w", err)
	}
	q := u.Query()
	q.Del(param)
	rest := q.Encode()
	raw := url.QueryEscape(param) + "=" + encoded
	if rest != "" {
		raw = rest + "&" + raw
	}
	u.RawQuery = raw
	return &Request{
		Method:  http.MethodGet,
		URL:     u.String(),
		Param:   Param{Name: param, Origin: OriginQuery},
		Payload: payload,
	}, nil
}

// InjectForm builds a probe request for a form field. The base field
// values are copied and the probed field replaced.
func InjectForm(action, method string, fields url.Values, param, payload string) *Request {
	form := make(url.Values, len(fields))
	for k, v := range fields {
		form[k] = append([]string(nil), v...)
	}
	form.Set(param, payload)
	if method == "" {
		method = http.MethodPost
	}
	return &Request{
		Method:  strings.ToUpper(method),
		URL:     action,
		Form:    form,
		Param:   Param{Name: param, Origin: OriginForm},
		Payload: payload,
	}
}
