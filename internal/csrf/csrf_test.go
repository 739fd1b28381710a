package csrf

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestGuard() *Guard {
	return NewGuard("csrf-token", "x-csrf-token", 24*time.Hour,
		[]string{"/api/auth/", "/api/telegram/webhook"}, "service-key", false)
}

func request(method, path, cookie, header, apiKey string) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	if cookie != "" {
		r.AddCookie(&http.Cookie{Name: "csrf-token", Value: cookie})
	}
	if header != "" {
		r.Header.Set("x-csrf-token", header)
	}
	if apiKey != "" {
		r.Header.Set("x-api-key", apiKey)
	}
	return r
}

func TestCheckDoubleSubmit(t *testing.T) {
	g := newTestGuard()
	tests := []struct {
		name   string
		req    *http.Request
		want   bool
	}{
		{"get passes without tokens", request(http.MethodGet, "/api/cart", "", "", ""), true},
		{"head passes", request(http.MethodHead, "/api/cart", "", "", ""), true},
		{"options passes", request(http.MethodOptions, "/api/cart", "", "", ""), true},
		{"post with matching pair", request(http.MethodPost, "/api/cart", "tok-1", "tok-1", ""), true},
		{"post with mismatched pair", request(http.MethodPost, "/api/cart", "tok-1", "tok-2", ""), false},
		{"post missing header", request(http.MethodPost, "/api/cart", "tok-1", "", ""), false},
		{"post missing cookie", request(http.MethodPost, "/api/cart", "", "tok-1", ""), false},
		{"post missing both", request(http.MethodPost, "/api/cart", "", "", ""), false},
		{"exempt prefix", request(http.MethodPost, "/api/auth/telegram", "", "", ""), true},
		{"exempt webhook", request(http.MethodPost, "/api/telegram/webhook", "", "", ""), true},
		{"api key bypass", request(http.MethodPost, "/api/cart", "", "", "service-key"), true},
		{"wrong api key", request(http.MethodPost, "/api/cart", "", "", "wrong"), false},
		{"delete requires pair", request(http.MethodDelete, "/api/cart/1", "", "", ""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Check(tt.req); got != tt.want {
				t.Fatalf("Check = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckEmptyPairRejected(t *testing.T) {
	g := newTestGuard()
	// Two empty strings are equal but must not pass.
	r := request(http.MethodPost, "/api/cart", "", "", "")
	r.AddCookie(&http.Cookie{Name: "csrf-token", Value: ""})
	if g.Check(r) {
		t.Fatal("empty token pair passed")
	}
}

func TestNewTokenIsRandomHex(t *testing.T) {
	a, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	b, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if len(a) != 64 || len(b) != 64 {
		t.Fatalf("token lengths = %d, %d, want 64", len(a), len(b))
	}
	if a == b {
		t.Fatal("two tokens identical")
	}
}

func TestCookieAttributes(t *testing.T) {
	g := newTestGuard()
	c := g.Cookie("tok")
	if c.HttpOnly {
		t.Fatal("cookie must be readable by page scripts")
	}
	if c.MaxAge != 86400 {
		t.Fatalf("MaxAge = %d, want 86400", c.MaxAge)
	}
	if c.Path != "/" {
		t.Fatalf("Path = %q", c.Path)
	}
}
