package server

import (
	"net/url"
	"strings"
)

// originPolicy is the canonicalized allow-list applied to the Origin
// header. An empty list disables the check entirely.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	policy := originPolicy{allowed: make(map[string]struct{})}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			policy.allowAll = true
			continue
		}
		if normalized, ok := normalizeOrigin(trimmed); ok {
			policy.allowed[normalized] = struct{}{}
		}
	}
	return policy
}

// Allowed reports whether the Origin header passes the allow-list. When no
// origins are configured every request passes; when they are, a missing or
// unparseable header is rejected.
func (p originPolicy) Allowed(originHeader string) bool {
	if p.allowAll {
		return true
	}
	if len(p.allowed) == 0 {
		return true
	}
	normalized, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}
	_, exists := p.allowed[normalized]
	return exists
}

// normalizeOrigin canonicalizes an origin to lowercase scheme://host with the
// port kept only when it differs from the scheme's default.
func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", false
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	if scheme == "" || host == "" {
		return "", false
	}

	port := parsed.Port()
	if port == "" || port == defaultPortFor(scheme) {
		return scheme + "://" + host, true
	}
	return scheme + "://" + host + ":" + port, true
}

func defaultPortFor(scheme string) string {
	switch scheme {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	}
	return ""
}
