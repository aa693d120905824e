package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newCORSEcho(handlerCalled *bool) *echo.Echo {
	e := echo.New()
	e.Use(CrossOrigin())
	e.Any("/nominatim/*", func(c echo.Context) error {
		*handlerCalled = true
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/broken", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream down")
	})
	return e
}

func TestCrossOrigin_EveryResponse(t *testing.T) {
	var called bool
	e := newCORSEcho(&called)

	tests := []struct {
		name       string
		method     string
		path       string
		origin     string
		wantStatus int
	}{
		{"matched with origin", http.MethodGet, "/nominatim/reverse", "https://app.example", http.StatusOK},
		{"matched without origin", http.MethodGet, "/nominatim/reverse", "", http.StatusOK},
		{"unmatched route", http.MethodGet, "/unknown", "https://app.example", http.StatusNotFound},
		{"handler error", http.MethodGet, "/broken", "https://app.example", http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			if tt.origin != "" {
				req.Header.Set(echo.HeaderOrigin, tt.origin)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if v := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); v != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
			}
			if v := rec.Header().Get(echo.HeaderAccessControlAllowMethods); v != corsAllowMethods {
				t.Errorf("Access-Control-Allow-Methods = %q, want %q", v, corsAllowMethods)
			}
			if v := rec.Header().Get(echo.HeaderAccessControlAllowHeaders); v == "" {
				t.Error("Access-Control-Allow-Headers should be set")
			}
		})
	}
}

func TestCrossOrigin_Preflight(t *testing.T) {
	var called bool
	e := newCORSEcho(&called)

	req := httptest.NewRequest(http.MethodOptions, "/nominatim/search", http.NoBody)
	req.Header.Set(echo.HeaderOrigin, "https://app.example")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	req.Header.Set(echo.HeaderAccessControlRequestHeaders, "Content-Type, X-Trace")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if called {
		t.Error("preflight should not reach the handler")
	}
	if v := rec.Header().Get(echo.HeaderAccessControlAllowHeaders); v != "Content-Type, X-Trace" {
		t.Errorf("Access-Control-Allow-Headers = %q, want requested headers reflected", v)
	}
	if v := rec.Header().Get(echo.HeaderAccessControlMaxAge); v != corsMaxAge {
		t.Errorf("Access-Control-Max-Age = %q, want %q", v, corsMaxAge)
	}
}

func TestCrossOrigin_PlainOptionsPassesThrough(t *testing.T) {
	var called bool
	e := newCORSEcho(&called)

	req := httptest.NewRequest(http.MethodOptions, "/nominatim/search", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if !called {
		t.Error("OPTIONS without Access-Control-Request-Method should reach the handler")
	}
	if v := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}
