package fetch

import (
	"net/http"
)

// Session decorates outgoing requests with credentials. How the credentials
// were acquired (interactive login, exported cookies) is up to the caller;
// the fetcher only reacts to the boundary reporting them as expired.
type Session interface {
	Apply(req *http.Request) error
}

// SessionFunc adapts a function to the Session interface.
type SessionFunc func(req *http.Request) error

// Apply calls f(req).
func (f SessionFunc) Apply(req *http.Request) error {
	return f(req)
}

// StaticSession sets fixed headers and cookies on every request.
type StaticSession struct {
	Headers map[string]string
	Cookies []*http.Cookie
}

// Apply implements Session.
func (s *StaticSession) Apply(req *http.Request) error {
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}
	for _, c := range s.Cookies {
		req.AddCookie(c)
	}
	return nil
}

// ParseCookieHeader parses a raw "a=1; b=2" Cookie header value.
func ParseCookieHeader(raw string) []*http.Cookie {
	if raw == "" {
		return nil
	}
	header := http.Header{}
	header.Add("Cookie", raw)
	req := http.Request{Header: header}
	return req.Cookies()
}
