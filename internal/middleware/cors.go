package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	corsAllowMethods = "GET,HEAD,PUT,PATCH,POST,DELETE"
	corsAllowHeaders = "Accept, Accept-Language, Content-Type, Authorization, X-Requested-With"
	corsMaxAge       = "86400"
)

// CrossOrigin returns an Echo middleware that lets browser code on any origin
// read every response, including error responses. Headers are set before the
// handler runs so they survive Echo's error handler. Preflight requests are
// answered locally with 204.
func CrossOrigin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			h := c.Response().Header()

			h.Set(echo.HeaderAccessControlAllowOrigin, "*")
			h.Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
			if requested := req.Header.Get(echo.HeaderAccessControlRequestHeaders); requested != "" {
				h.Set(echo.HeaderAccessControlAllowHeaders, requested)
				h.Add(echo.HeaderVary, echo.HeaderAccessControlRequestHeaders)
			} else {
				h.Set(echo.HeaderAccessControlAllowHeaders, corsAllowHeaders)
			}

			if isPreflight(req) {
				h.Set(echo.HeaderAccessControlMaxAge, corsMaxAge)
				return c.NoContent(http.StatusNoContent)
			}

			return next(c)
		}
	}
}

func isPreflight(req *http.Request) bool {
	return req.Method == http.MethodOptions &&
		req.Header.Get(echo.HeaderAccessControlRequestMethod) != ""
}
