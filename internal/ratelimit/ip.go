package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownIP is the sentinel used when no syntactically valid address can be
// extracted from the request.
const UnknownIP = "unknown"

// proxyHeaders is the fixed trust order for forwarded addresses: the edge
// proxy header first, then the generic forwarded headers. An
// attacker-controlled X-Forwarded-For never overrides the edge header.
var proxyHeaders = []string{
	"CF-Connecting-IP",
	"X-Forwarded-For",
	"X-Real-IP",
}

// ClientIP extracts the client address from proxy headers in priority
// order, taking the first syntactically valid IPv4 or IPv6 token. It falls
// back to the connection's remote address, then to UnknownIP.
func ClientIP(r *http.Request) string {
	for _, header := range proxyHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		for _, token := range strings.Split(value, ",") {
			if ip := validIP(token); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	if ip := validIP(host); ip != "" {
		return ip
	}
	return UnknownIP
}

// validIP returns the canonical form of token if it parses as an IP
// address, or "" otherwise.
func validIP(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	ip := net.ParseIP(token)
	if ip == nil {
		return ""
	}
	return ip.String()
}
