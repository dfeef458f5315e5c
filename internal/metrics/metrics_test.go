package metrics

import (
	"testing"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	// Go runtime and process collectors are always present.
	if len(families) == 0 {
		t.Fatal("expected non-empty metric families from Gather()")
	}

	m.RequestsTotal.WithLabelValues("GET", "200", "/api/v1").Inc()
	m.UpstreamOutcomes.WithLabelValues(OutcomeTransport).Inc()

	families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	want := map[string]bool{
		"dashboard_proxy_http_requests_total":     false,
		"dashboard_proxy_upstream_outcomes_total": false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %s in gathered metrics", name)
		}
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"HEAD", "HEAD"},
		{"OPTIONS", "OPTIONS"},
		{"FOOBAR", "other"},
		{"get", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got := NormalizeMethod(tt.method)
			if got != tt.want {
				t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/stocks/fno", "/api/v1"},
		{"/api/v1/advanced/options/RELIANCE", "/api/v1"},
		{"/api/v1", "/api/v1"},
		{"/healthz", "/healthz"},
		{"/proxy/status", "/proxy/status"},
		{"/metrics", "other"},
		{"/api/v2/stocks", "other"},
		{"/api/v10", "other"},
		{"/", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := NormalizePath(tt.path)
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestNormalizePath_ScrapePath(t *testing.T) {
	tests := []struct {
		path  string
		extra string
		want  string
	}{
		{"/metrics", "/metrics", "/metrics"},
		{"/custom-metrics", "/custom-metrics", "/custom-metrics"},
		{"/custom-metrics?name[]=up", "/custom-metrics", "/custom-metrics"},
		{"/metrics", "/custom-metrics", "other"},
		{"/custom-metricsx", "/custom-metrics", "other"},
		{"/api/v1/fno", "/custom-metrics", "/api/v1"},
		{"/anything", "", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path+" with "+tt.extra, func(t *testing.T) {
			got := NormalizePath(tt.path, tt.extra)
			if got != tt.want {
				t.Errorf("NormalizePath(%q, %q) = %q, want %q", tt.path, tt.extra, got, tt.want)
			}
		})
	}
}
