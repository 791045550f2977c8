package origin

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizeHeader(t *testing.T) {
	cases := []struct {
		raw, normalized, host string
	}{
		{"HTTPS://Example.COM:443", "https://example.com", "example.com"},
		{"http://localhost:5173/", "http://localhost:5173", "localhost:5173"},
		{"http://example.com:80", "http://example.com", "example.com"},
		{"https://example.com:8443", "https://example.com:8443", "example.com:8443"},
		{"http://[::1]:8080", "http://[::1]:8080", "[::1]:8080"},
		{"http://[::1]", "http://[::1]", "[::1]"},
		{"null", "null", ""},
	}
	for _, tc := range cases {
		normalized, host, ok := NormalizeHeader(tc.raw)
		if !ok {
			t.Fatalf("NormalizeHeader(%q) ok=false", tc.raw)
		}
		if normalized != tc.normalized || host != tc.host {
			t.Fatalf("NormalizeHeader(%q)=(%q,%q), want (%q,%q)", tc.raw, normalized, host, tc.normalized, tc.host)
		}
	}
}

func TestNormalizeHeader_Rejects(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"ftp://example.com",
		"https://example.com/path",
		"https://example.com/?q=1",
		"https://example.com?",
		"https://user@example.com",
		"https://example.com/#frag",
		"https://example.com:0",
		"https://example.com:70000",
		"https://example.com:",
		"https://example.com,https://evil.example.com",
	}
	for _, c := range cases {
		if _, _, ok := NormalizeHeader(c); ok {
			t.Fatalf("expected ok=false for %q", c)
		}
	}
}

func TestIsAllowed(t *testing.T) {
	normalized, host, ok := NormalizeHeader("https://app.example.com")
	if !ok {
		t.Fatal("NormalizeHeader ok=false")
	}

	if !IsAllowed(normalized, host, "app.example.com", nil) {
		t.Fatal("expected same host to be allowed")
	}
	if !IsAllowed(normalized, host, "app.example.com:443", nil) {
		t.Fatal("expected default port to be equivalent")
	}
	if IsAllowed(normalized, host, "relay.example.com", nil) {
		t.Fatal("expected a different host to be rejected")
	}
	if !IsAllowed(normalized, host, "whatever:1234", []string{"*"}) {
		t.Fatal("expected * to allow any origin")
	}
	if !IsAllowed(normalized, host, "relay.example.com", []string{"https://app.example.com"}) {
		t.Fatal("expected explicit origin to be allowed")
	}
	if IsAllowed(normalized, host, "relay.example.com", []string{"https://other.example.com"}) {
		t.Fatal("expected non-matching origin to be rejected")
	}
	if IsAllowed("null", "", "relay.example.com", nil) {
		t.Fatal("null origin must not match a host")
	}
	if !IsAllowed("null", "", "relay.example.com", []string{"null"}) {
		t.Fatal("expected configured null origin to be allowed")
	}
}

func TestCheckRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "http://relay.example.com/ws", nil)
	if _, ok := CheckRequest(r, nil); !ok {
		t.Fatal("request without Origin should pass")
	}

	r.Header.Set("Origin", "http://relay.example.com")
	if got, ok := CheckRequest(r, nil); !ok || got != "http://relay.example.com" {
		t.Fatalf("same-host request got=(%q,%v)", got, ok)
	}

	r.Header.Set("Origin", "https://evil.example.com")
	if _, ok := CheckRequest(r, nil); ok {
		t.Fatal("cross-origin request should fail")
	}

	r.Header.Set("Origin", "not a url")
	if _, ok := CheckRequest(r, []string{"*"}); ok {
		t.Fatal("malformed Origin should fail even with *")
	}
}

func FuzzNormalizeHeader(f *testing.F) {
	f.Add("HTTPS://Example.COM:443")
	f.Add("http://[::FFFF:192.0.2.1]")
	f.Add("null")
	f.Add("https://example.com#frag")

	f.Fuzz(func(t *testing.T, raw string) {
		normalized, host, ok := NormalizeHeader(raw)
		if !ok || normalized == "null" {
			return
		}
		if normalized != "http://"+host && normalized != "https://"+host {
			t.Fatalf("NormalizeHeader(%q)=(%q,%q): origin is not scheme://host", raw, normalized, host)
		}
		if host != strings.ToLower(host) {
			t.Fatalf("NormalizeHeader(%q) host %q not lowercased", raw, host)
		}
	})
}
