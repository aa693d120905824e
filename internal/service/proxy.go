// Package service implements the core proxy forwarding logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"nominatim-proxy-go/internal/model"
)

// ErrRouteMismatch is returned when the request path is outside the route prefix.
var ErrRouteMismatch = errors.New("request path is outside the proxied prefix")

// hopByHopHeaders apply to a single connection and are never forwarded in
// either direction. The list follows net/http/httputil.ReverseProxy.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Doer sends an outbound request to the upstream.
type Doer interface {
	Do(req *http.Request) (*model.ProxyResponse, error)
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client Doer
	route  model.Route
	logger *slog.Logger
}

// NewProxyService creates a ProxyService forwarding along route.
func NewProxyService(c Doer, route model.Route, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client: c,
		route:  route,
		logger: logger.With("component", "proxy_service"),
	}
}

// Route returns the forwarding rule the service applies.
func (s *ProxyService) Route() model.Route {
	return s.route
}

// Forward sends a ProxyRequest to the upstream exactly once and returns the
// response. The caller is responsible for closing the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	out, err := s.Outbound(pr)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("forwarding request",
		"method", out.Method,
		"path", pr.Path,
		"upstream_path", out.URL.Path,
	)

	resp, err := s.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	stripHopByHop(resp.Header)
	return resp, nil
}

// Outbound derives the upstream request from pr. It has no side effects: the
// header map is a fresh copy, so pooled connections never share headers
// between requests.
func (s *ProxyService) Outbound(pr *model.ProxyRequest) (*http.Request, error) {
	rest, ok := s.route.Match(pr.Path)
	if !ok {
		return nil, ErrRouteMismatch
	}

	u := s.route.Target
	u.Path = s.route.Target.Path + rest
	if pr.RawPath != "" {
		if rawRest, ok := s.route.Match(pr.RawPath); ok {
			u.RawPath = s.route.Target.EscapedPath() + rawRest
		}
	}
	u.RawQuery = pr.RawQuery
	u.Fragment = ""

	body := pr.Body
	if pr.ContentLength == 0 || body == nil {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(pr.Ctx, pr.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.ContentLength = pr.ContentLength
	if body == http.NoBody {
		req.ContentLength = 0
	}
	req.Header = s.outboundHeaders(pr.Header)

	return req, nil
}

// outboundHeaders copies src minus hop-by-hop headers and forces the
// identification header.
func (s *ProxyService) outboundHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	stripHopByHop(dst)
	// Host is taken from the target URL.
	dst.Del("Host")
	dst.Set("User-Agent", s.route.UserAgent)
	return dst
}

// stripHopByHop removes hop-by-hop headers, including any named in Connection.
func stripHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
