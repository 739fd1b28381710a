// Package cors decides which origins may call the API from inside the
// Telegram web clients and the storefront itself.
package cors

import (
	"net/http"
	"strings"
)

// telegramOrigins are the fixed web client origins that must always be able
// to reach the API.
var telegramOrigins = []string{
	"https://web.telegram.org",
	"https://web.telegram.org.kwin",
	"https://telegram.org",
}

const (
	allowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	allowHeaders = "Content-Type, Authorization, X-Telegram-Init-Data, X-Telegram-Platform, x-csrf-token, x-api-key"
)

type Guard struct {
	allowed []string
	maxAge  string
}

// NewGuard builds the allow list from the Telegram origins plus the
// storefront's own origin and any configured extras. Order matters: the
// first entry is the fallback reflected for unknown origins.
func NewGuard(appOrigin string, extra []string, maxAgeSec string) *Guard {
	g := &Guard{maxAge: maxAgeSec}
	if appOrigin != "" {
		g.allowed = append(g.allowed, strings.TrimRight(appOrigin, "/"))
	}
	g.allowed = append(g.allowed, telegramOrigins...)
	for _, o := range extra {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			g.allowed = append(g.allowed, o)
		}
	}
	return g
}

// Resolve picks the origin to reflect. A known origin is echoed back; an
// unknown or absent one falls back to the first allowed entry so responses
// always carry a concrete origin rather than a wildcard.
func (g *Guard) Resolve(origin string) string {
	origin = strings.TrimRight(origin, "/")
	for _, a := range g.allowed {
		if origin == a || strings.HasPrefix(origin, a+"/") {
			return a
		}
	}
	if len(g.allowed) > 0 {
		return g.allowed[0]
	}
	return ""
}

// requestOrigin reconstructs the origin the request itself was served
// under, so a deployment reached through an alternate host still has that
// host accepted.
func requestOrigin(r *http.Request) string {
	if r.Host == "" {
		return ""
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// Apply sets the response headers for the request's origin.
func (g *Guard) Apply(w http.ResponseWriter, r *http.Request) {
	origin := strings.TrimRight(r.Header.Get("Origin"), "/")
	resolved := g.Resolve(origin)
	if origin != "" && origin == requestOrigin(r) {
		resolved = origin
	}
	if resolved == "" {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", resolved)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Add("Vary", "Origin")
}

// Preflight answers an OPTIONS request. Returns true when the request was
// handled and the caller should stop.
func (g *Guard) Preflight(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodOptions {
		return false
	}
	g.Apply(w, r)
	h := w.Header()
	h.Set("Access-Control-Allow-Methods", allowMethods)
	h.Set("Access-Control-Allow-Headers", allowHeaders)
	if g.maxAge != "" {
		h.Set("Access-Control-Max-Age", g.maxAge)
	}
	w.WriteHeader(http.StatusNoContent)
	return true
}
