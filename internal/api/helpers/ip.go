package helpers

import (
	"net"
	"net/http"
	"strings"
)

// GetRealIP extracts the client IP, preferring X-Forwarded-For and X-Real-IP
// over RemoteAddr. The reverse proxy in front of us is trusted to sanitize
// these headers.
func GetRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, p := range strings.Split(xff, ",") {
			ipStr := strings.TrimSpace(p)
			if ip := net.ParseIP(ipStr); ip != nil {
				return ip.String()
			}
		}
	}

	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		if ip := net.ParseIP(xrip); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return r.RemoteAddr
}
