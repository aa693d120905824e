package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"go.uber.org/goleak"

	"nominatim-proxy-go/internal/config"
	"nominatim-proxy-go/internal/metrics"
)

func newTestClient(timeoutSeconds int, m *metrics.Metrics) *UpstreamClient {
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  timeoutSeconds,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewUpstreamClient(cfg, logger, m)
}

func mustRequest(t *testing.T, ctx context.Context, method, target string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, method, target, http.NoBody)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func TestUpstreamClient_Do(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"place_id":1}`))
	}))
	defer srv.Close()

	m := metrics.New()
	c := newTestClient(10, m)
	defer c.Close()

	resp, err := c.Do(mustRequest(t, context.Background(), http.MethodGet, srv.URL+"/reverse"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"place_id":1}` {
		t.Errorf("body = %q, want %q", string(body), `{"place_id":1}`)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "nominatim_proxy_upstream_responses_total" {
			found = true
		}
	}
	if !found {
		t.Error("expected nominatim_proxy_upstream_responses_total to be recorded")
	}
}

func TestUpstreamClient_Do_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusMovedPermanently)
	}))
	defer srv.Close()

	c := newTestClient(10, nil)
	defer c.Close()

	resp, err := c.Do(mustRequest(t, context.Background(), http.MethodGet, srv.URL+"/search"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusMovedPermanently {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusMovedPermanently)
	}
	if loc := resp.Header.Get("Location"); loc != "/elsewhere" {
		t.Errorf("Location = %q, want %q", loc, "/elsewhere")
	}
}

func TestUpstreamClient_Do_NoImplicitCompression(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ae := r.Header.Get("Accept-Encoding"); ae != "" {
			t.Errorf("Accept-Encoding = %q, want none added by the transport", ae)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(10, nil)
	defer c.Close()

	resp, err := c.Do(mustRequest(t, context.Background(), http.MethodGet, srv.URL+"/status"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	_ = resp.Body.Close()
}

func TestUpstreamClient_Do_ConnectionRefused(t *testing.T) {
	m := metrics.New()
	c := newTestClient(1, m)
	defer c.Close()

	_, err := c.Do(mustRequest(t, context.Background(), http.MethodGet, "http://127.0.0.1:1/nonexistent"))
	if err == nil {
		t.Fatal("Do() expected error for unreachable host, got nil")
	}
	if got := Classify(err); got != FailureConnection {
		t.Errorf("Classify() = %q, want %q", got, FailureConnection)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() != "nominatim_proxy_upstream_errors_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "reason" && lp.GetValue() == "connection" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected nominatim_proxy_upstream_errors_total with reason=connection")
	}
}

func TestUpstreamClient_Do_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(1, nil)
	defer c.Close()

	_, err := c.Do(mustRequest(t, context.Background(), http.MethodGet, srv.URL+"/slow"))
	if err == nil {
		t.Fatal("Do() expected timeout error, got nil")
	}
	if got := Classify(err); got != FailureTimeout {
		t.Errorf("Classify() = %q, want %q (err = %v)", got, FailureTimeout, err)
	}
}

func TestUpstreamClient_Do_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(30, nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := c.Do(mustRequest(t, ctx, http.MethodGet, srv.URL+"/slow"))
	if err == nil {
		t.Fatal("Do() expected error for canceled context, got nil")
	}
	if got := Classify(err); got != FailureCanceled {
		t.Errorf("Classify() = %q, want %q", got, FailureCanceled)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Failure
	}{
		{"canceled", fmt.Errorf("upstream request: %w", context.Canceled), FailureCanceled},
		{"deadline", fmt.Errorf("upstream request: %w", context.DeadlineExceeded), FailureTimeout},
		{"dns", &url.Error{Op: "Get", URL: "https://nominatim.invalid", Err: &net.DNSError{Err: "no such host", Name: "nominatim.invalid"}}, FailureDNS},
		{"dns timeout", &net.DNSError{Err: "i/o timeout", Name: "nominatim.invalid", IsTimeout: true}, FailureTimeout},
		{"connection", &url.Error{Op: "Get", URL: "https://nominatim.openstreetmap.org", Err: errors.New("connection refused")}, FailureConnection},
		{"other", errors.New("boom"), FailureOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
