// Package transport normalizes and validates HTTP origins for inbound
// connection requests to enforce configured access control.
package transport

import (
	"log"
	"net/http"
	"net/url"
	"strings"
)

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return nil
	}

	normalized := make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Printf("Ignoring invalid origin in configuration: %q", origin)
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return normalized
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	return normalized, true
}

// checkOrigin validates an inbound request against the configured origin
// allow list. Requests without an Origin header (non-browser clients, which
// is the normal case for this transport) are always allowed.
func (s *Sockets) checkOrigin(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return true
	}

	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}

	normalizedOrigin, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == normalizedOrigin {
			return true
		}
	}

	log.Printf("Blocked inbound connection from disallowed origin: %q", originHeader)
	return false
}
