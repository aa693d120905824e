package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"nominatim-proxy-go/internal/client"
	"nominatim-proxy-go/internal/model"
	"nominatim-proxy-go/internal/service"
)

// Forwarder is the forwarding operation the handler depends on.
type Forwarder interface {
	Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error)
}

// ProxyHandler forwards matched requests to the upstream geocoding service.
type ProxyHandler struct {
	service Forwarder
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request upstream and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.Path,
		RawPath:       req.URL.RawPath,
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	copyResponseHeaders(c.Response().Header(), resp.Header)
	c.Response().WriteHeader(resp.StatusCode)

	// The status is already sent, so a failure here leaves the client with a
	// truncated body. It is logged and not retried.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// copyResponseHeaders relays upstream headers. Upstream values replace any
// header the gateway set, except the Access-Control-* headers, which stay
// permissive for every response.
func copyResponseHeaders(dst, src http.Header) {
	for key, vals := range src {
		if strings.HasPrefix(key, "Access-Control-") && dst.Get(key) != "" {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrRouteMismatch) {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "not found",
		})
	}

	failure := client.Classify(err)
	h.logger.Error("proxy error",
		"err", err,
		"reason", string(failure),
		"path", c.Request().URL.Path,
	)

	switch failure {
	case client.FailureTimeout:
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	case client.FailureCanceled:
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	case client.FailureDNS:
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	case client.FailureConnection:
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	default:
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream request failed",
		})
	}
}
