package httpserver

import (
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/origin"
)

const corsAllowMethods = "GET,OPTIONS"

// HandleCORS registers h for pattern behind the Origin allowlist. Browser
// preflights for the same path are answered without reaching h.
func (s *Server) HandleCORS(pattern string, h http.Handler) {
	s.mux.Handle(pattern, s.cors(h.ServeHTTP))
}

// cors rejects cross-origin requests from origins outside AllowedOrigins.
// Requests without an Origin header (CLI tools, same-origin fetches from
// older browsers) pass through untouched.
func (s *Server) cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Origin"))
		if raw == "" {
			next(w, r)
			return
		}

		allowed, ok := s.allowedOrigin(raw, r.Host)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", allowed)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Expose-Headers", "X-Request-ID")
		h.Add("Vary", "Origin")

		if isPreflight(r) {
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			// The history API reads x-auth-token, so echo whatever the browser asks for.
			if reqHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) allowedOrigin(raw, requestHost string) (string, bool) {
	normalized, host, ok := origin.NormalizeHeader(raw)
	if !ok {
		return "", false
	}
	if !origin.IsAllowed(normalized, host, requestHost, s.cfg.AllowedOrigins) {
		return "", false
	}
	return normalized, true
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}
