// Package proxy forwards gated requests to the storefront upstream.
package proxy

import (
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	ghttputil "minigate/gate-service/internal/httputil"
	"minigate/gate-service/internal/metrics"
)

type Handler struct {
	rp  *httputil.ReverseProxy
	log zerolog.Logger
}

// New builds a reverse proxy for the storefront origin. Identity headers
// (X-User-ID, X-User-Role) and the CSP nonce are already on the request by
// the time the gate hands it over; the proxy adds the request ID and the
// forwarding chain.
func New(upstream string, timeout, idleTimeout time.Duration, log zerolog.Logger) (*Handler, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}

	rp := httputil.NewSingleHostReverseProxy(target)
	rp.Transport = &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       idleTimeout,
		ResponseHeaderTimeout: timeout,
	}

	baseDirector := rp.Director
	rp.Director = func(r *http.Request) {
		baseDirector(r)
		r.Host = target.Host
		if reqID := ghttputil.GetRequestID(r.Context()); reqID != "" {
			r.Header.Set("X-Request-ID", reqID)
		}
	}

	h := &Handler{rp: rp, log: log}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		metrics.ProxyErrors.Inc()
		logger := ghttputil.GetLogger(r.Context())
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("upstream proxy error")
		ghttputil.WriteJSON(w, http.StatusBadGateway, map[string]string{"error": "Upstream unavailable"})
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.rp.ServeHTTP(w, r)
}
