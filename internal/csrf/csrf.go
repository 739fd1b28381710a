// Package csrf implements double-submit token validation for mutating API
// requests.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

const tokenBytes = 32

// Guard validates the double-submit pair on mutating requests. Paths under an
// exempt prefix skip the check, as do requests carrying the configured
// service API key.
type Guard struct {
	cookieName   string
	headerName   string
	ttl          time.Duration
	exemptPaths  []string
	apiKey       string
	secureCookie bool
}

func NewGuard(cookieName, headerName string, ttl time.Duration, exemptPaths []string, apiKey string, secureCookie bool) *Guard {
	return &Guard{
		cookieName:   cookieName,
		headerName:   headerName,
		ttl:          ttl,
		exemptPaths:  exemptPaths,
		apiKey:       apiKey,
		secureCookie: secureCookie,
	}
}

// NewToken mints a random token for the double-submit cookie.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Cookie builds the double-submit cookie. It is intentionally readable by
// page scripts so the client can echo it back in the header.
func (g *Guard) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     g.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(g.ttl / time.Second),
		HttpOnly: false,
		Secure:   g.secureCookie,
		SameSite: http.SameSiteStrictMode,
	}
}

// Exempt reports whether the request path skips CSRF validation.
func (g *Guard) Exempt(path string) bool {
	for _, p := range g.exemptPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

var safeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// Check validates a request. Safe methods, exempt paths and API-key callers
// pass; everything else requires cookie and header to match exactly.
func (g *Guard) Check(r *http.Request) bool {
	if safeMethods[r.Method] {
		return true
	}
	if g.Exempt(r.URL.Path) {
		return true
	}
	if g.apiKey != "" {
		key := r.Header.Get("x-api-key")
		if key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(g.apiKey)) == 1 {
			return true
		}
	}

	cookie, err := r.Cookie(g.cookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	header := r.Header.Get(g.headerName)
	if header == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) == 1
}
