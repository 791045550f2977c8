// Package origin implements the browser Origin policy shared by the HTTP API
// and the session WebSocket upgrade.
package origin

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates a browser Origin header and returns the
// normalized origin (scheme://host[:port]) plus its host[:port] portion.
// Default ports are dropped. The special value "null" is returned as-is with
// an empty host.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether a normalized origin may talk to requestHost.
//
// With a non-empty allow list each entry is "*" or a normalized origin.
// Otherwise only same host:port is accepted. Scheme is not compared so a
// TLS-terminating proxy in front of the relay does not break same-host use.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	scheme, _, found := strings.Cut(normalizedOrigin, "://")
	if !found {
		return false
	}
	reqHost, ok := canonicalHost(requestHost, scheme)
	return ok && reqHost == originHost
}

// CheckRequest applies the policy to r. Requests without an Origin header
// come from non-browser clients and are accepted.
func CheckRequest(r *http.Request, allowedOrigins []string) (normalizedOrigin string, ok bool) {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		return "", true
	}
	normalized, host, ok := NormalizeHeader(header)
	if !ok || !IsAllowed(normalized, host, r.Host, allowedOrigins) {
		return "", false
	}
	return normalized, true
}

func canonicalHost(rawHost, scheme string) (string, bool) {
	rawHost = strings.ToLower(strings.TrimSpace(rawHost))
	if rawHost == "" {
		return "", false
	}

	hostname, port := rawHost, ""
	if strings.HasPrefix(rawHost, "[") || strings.Count(rawHost, ":") == 1 {
		h, p, err := net.SplitHostPort(rawHost)
		if err != nil {
			// Bracketed IPv6 literal without a port.
			if !strings.HasPrefix(rawHost, "[") || !strings.HasSuffix(rawHost, "]") {
				return "", false
			}
			h = rawHost[1 : len(rawHost)-1]
		} else if p == "" {
			return "", false
		}
		hostname, port = h, p
	} else if strings.Contains(rawHost, ":") {
		// Unbracketed IPv6 literals are not valid in an authority.
		return "", false
	}
	if hostname == "" {
		return "", false
	}

	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		} else {
			port = strconv.FormatUint(n, 10)
		}
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return host, true
}
