package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"dashboard-proxy/internal/metrics"
)

// requestLabels returns the label sets recorded on dashboard_proxy_http_requests_total.
func requestLabels(t *testing.T, m *metrics.Metrics) []map[string]string {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var out []map[string]string
	for _, f := range families {
		if f.GetName() != "dashboard_proxy_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			out = append(out, labels)
		}
	}
	return out
}

func TestMetricsMiddleware_IncrementsCounter(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))
	e.GET("/api/v1/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for _, p := range []string{"/api/v1/fno", "/api/v1/advanced/heatmap"} {
		req := httptest.NewRequest(http.MethodGet, p, http.NoBody)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "dashboard_proxy_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "path_prefix" && lp.GetValue() == "/api/v1" {
					if v := metric.GetCounter().GetValue(); v != 2 {
						t.Errorf("counter value = %v, want 2", v)
					}
					return
				}
			}
		}
	}
	t.Error("expected dashboard_proxy_http_requests_total with path_prefix=/api/v1")
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "dashboard_proxy_http_request_duration_seconds" {
			for _, metric := range f.GetMetric() {
				if metric.GetHistogram().GetSampleCount() > 0 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected dashboard_proxy_http_request_duration_seconds with at least one sample")
	}
}

func TestMetricsMiddleware_StatusLabels(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		wantMethod string
		wantStatus string
		wantPrefix string
	}{
		{"http error", http.MethodGet, "/api/v1/missing", "GET", "404", "/api/v1"},
		{"method not allowed", http.MethodPost, "/api/v1/fno", "POST", "405", "/api/v1"},
		{"router not found", http.MethodGet, "/nonexistent", "GET", "404", "other"},
		{"unknown method", "XYZZY", "/api/v1/fno", "other", "405", "/api/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()

			e := echo.New()
			e.Use(MetricsMiddleware(m, "/metrics"))
			e.GET("/api/v1/*", func(c echo.Context) error {
				if c.Request().URL.Path == "/api/v1/missing" {
					return echo.NewHTTPError(http.StatusNotFound, "not found")
				}
				return c.String(http.StatusOK, "ok")
			})

			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			for _, labels := range requestLabels(t, m) {
				if labels["path_prefix"] == tt.wantPrefix && labels["method"] == tt.wantMethod {
					if labels["status_code"] != tt.wantStatus {
						t.Errorf("status_code = %q, want %q", labels["status_code"], tt.wantStatus)
					}
					return
				}
			}
			t.Errorf("expected series with method=%s path_prefix=%s", tt.wantMethod, tt.wantPrefix)
		})
	}
}

func TestMetricsMiddleware_CustomScrapePath(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/custom-metrics"))
	e.GET("/custom-metrics", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/custom-metrics", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	labels := requestLabels(t, m)
	if len(labels) != 1 {
		t.Fatalf("got %d label sets, want 1: %v", len(labels), labels)
	}
	if got := labels[0]["path_prefix"]; got != "/custom-metrics" {
		t.Errorf("path_prefix = %q, want %q", got, "/custom-metrics")
	}
}
