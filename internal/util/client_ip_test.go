package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:443"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")
	r.Header.Set("X-Real-IP", "198.51.100.9")
	if got := ClientIP(r); got != "203.0.113.7" {
		t.Fatalf("ClientIP = %q, want first forwarded hop", got)
	}
}

func TestClientIPFallsBackToRealIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:443"
	r.Header.Set("X-Real-IP", "198.51.100.9")
	if got := ClientIP(r); got != "198.51.100.9" {
		t.Fatalf("ClientIP = %q", got)
	}
}

func TestClientIPUsesRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.4:51234"
	if got := ClientIP(r); got != "192.0.2.4" {
		t.Fatalf("ClientIP = %q", got)
	}
}

func TestClientIPRemoteAddrWithoutPort(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.4"
	if got := ClientIP(r); got != "192.0.2.4" {
		t.Fatalf("ClientIP = %q", got)
	}
}
