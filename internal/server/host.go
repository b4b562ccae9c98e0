package server

import (
	"net/http"
	"strings"
)

func effectiveHost(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if h := forwardedHost(r); h != "" {
			return normalizeHostname(h)
		}
	}
	return normalizeHostname(r.Host)
}

func forwardedHost(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("X-Forwarded-Host"))
	if raw == "" {
		return ""
	}
	first, _, ok := strings.Cut(raw, ",")
	if ok {
		raw = first
	}
	return strings.TrimSpace(raw)
}

func normalizeHostname(host string) string {
	host = strings.TrimSpace(host)
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.ToLower(strings.TrimSpace(host))
}
