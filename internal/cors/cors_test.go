package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveKnownOrigins(t *testing.T) {
	g := NewGuard("https://shop.example.com", []string{"https://staging.example.com"}, "86400")

	tests := []struct {
		origin string
		want   string
	}{
		{"https://shop.example.com", "https://shop.example.com"},
		{"https://web.telegram.org", "https://web.telegram.org"},
		{"https://web.telegram.org/k/", "https://web.telegram.org"},
		{"https://telegram.org", "https://telegram.org"},
		{"https://staging.example.com", "https://staging.example.com"},
		// Unknown origins fall back to the first allowed entry.
		{"https://evil.example.net", "https://shop.example.com"},
		{"", "https://shop.example.com"},
	}
	for _, tt := range tests {
		if got := g.Resolve(tt.origin); got != tt.want {
			t.Fatalf("Resolve(%q) = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestResolveDoesNotMatchSuffixTricks(t *testing.T) {
	g := NewGuard("https://shop.example.com", nil, "")
	if got := g.Resolve("https://web.telegram.org.evil.net"); got != "https://shop.example.com" {
		t.Fatalf("suffix trick resolved to %q", got)
	}
}

func TestApplySetsCredentialedHeaders(t *testing.T) {
	g := NewGuard("https://shop.example.com", nil, "86400")
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	r.Header.Set("Origin", "https://web.telegram.org")

	g.Apply(w, r)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://web.telegram.org" {
		t.Fatalf("allow-origin = %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("credentials header missing")
	}
	if w.Header().Get("Vary") != "Origin" {
		t.Fatal("vary header missing")
	}
}

func TestApplyReflectsRequestsOwnHost(t *testing.T) {
	g := NewGuard("https://shop.example.com", nil, "86400")
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "https://alt.example.net/api/cart", nil)
	r.Header.Set("Origin", "https://alt.example.net")
	r.Header.Set("X-Forwarded-Proto", "https")

	g.Apply(w, r)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://alt.example.net" {
		t.Fatalf("allow-origin = %q, want the request's own origin", got)
	}
}

func TestApplyOwnHostRequiresMatchingOrigin(t *testing.T) {
	g := NewGuard("https://shop.example.com", nil, "86400")
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "https://alt.example.net/api/cart", nil)
	r.Header.Set("Origin", "https://evil.example.net")
	r.Header.Set("X-Forwarded-Proto", "https")

	g.Apply(w, r)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example.com" {
		t.Fatalf("allow-origin = %q, want the fallback", got)
	}
}

func TestPreflightHandled(t *testing.T) {
	g := NewGuard("https://shop.example.com", nil, "86400")
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodOptions, "/api/cart", nil)
	r.Header.Set("Origin", "https://shop.example.com")

	if !g.Preflight(w, r) {
		t.Fatal("preflight not handled")
	}
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("methods header missing")
	}
	if w.Header().Get("Access-Control-Max-Age") != "86400" {
		t.Fatal("max-age header missing")
	}
}

func TestPreflightIgnoresOtherMethods(t *testing.T) {
	g := NewGuard("https://shop.example.com", nil, "")
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/cart", nil)
	if g.Preflight(w, r) {
		t.Fatal("non-OPTIONS request handled as preflight")
	}
}
