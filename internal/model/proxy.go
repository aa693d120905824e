// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Route is the forwarding rule applied to every matched request. It is built
// once at startup and passed by value.
type Route struct {
	// Prefix is the inbound path prefix, e.g. "/nominatim". No trailing slash.
	Prefix string
	// Target is the upstream origin, e.g. https://nominatim.openstreetmap.org.
	Target url.URL
	// UserAgent is forced onto every outbound request.
	UserAgent string
}

// Match reports whether path falls under the route prefix and returns the
// remainder to forward. An empty remainder is returned as "/".
// The prefix only matches on a segment boundary: "/nominatimx" is not matched.
func (r Route) Match(path string) (string, bool) {
	if !strings.HasPrefix(path, r.Prefix) {
		return "", false
	}
	rest := path[len(r.Prefix):]
	switch {
	case rest == "":
		return "/", true
	case rest[0] == '/':
		return rest, true
	default:
		return "", false
	}
}

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Path          string
	RawPath       string // escaped form of Path, empty when Path needs no escaping
	RawQuery      string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
