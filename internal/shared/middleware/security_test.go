package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsHostAllowed(t *testing.T) {
	tests := []struct {
		name         string
		host         string
		allowedHosts []string
		want         bool
	}{
		{name: "empty list allows all", host: "sync.example.com", want: true},
		{name: "exact match", host: "sync.example.com:8443", allowedHosts: []string{"sync.example.com:8443"}, want: true},
		{name: "port ignored on request", host: "sync.example.com", allowedHosts: []string{"sync.example.com:8443"}, want: true},
		{name: "port ignored on allowed", host: "sync.example.com:8443", allowedHosts: []string{"sync.example.com"}, want: true},
		{name: "case insensitive", host: "SYNC.Example.com", allowedHosts: []string{"sync.example.com"}, want: true},
		{name: "ipv6 with port", host: "[::1]:8080", allowedHosts: []string{"::1"}, want: true},
		{name: "ipv6 bracketed allowed", host: "[::1]:8080", allowedHosts: []string{"[::1]"}, want: true},
		{name: "unknown host", host: "evil.example.com", allowedHosts: []string{"sync.example.com"}, want: false},
		{name: "suffix is not a match", host: "sync.example.com.evil.io", allowedHosts: []string{"sync.example.com"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHostAllowed(tt.host, tt.allowedHosts); got != tt.want {
				t.Errorf("IsHostAllowed(%q, %v) = %v, want %v", tt.host, tt.allowedHosts, got, tt.want)
			}
		})
	}
}

func TestHSTS(t *testing.T) {
	handler := HSTS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := rr.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Errorf("Strict-Transport-Security = %q", got)
	}
}
