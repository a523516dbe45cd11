package chat

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// OriginChecker validates the Origin header of websocket upgrade requests
// against a configured allow-list. A single "*" entry allows everything.
type OriginChecker struct {
	allowed  map[string]struct{}
	allowAll bool
	logger   *zap.Logger
}

// NewOriginChecker normalizes the configured origins, dropping entries
// that do not parse as scheme://host.
func NewOriginChecker(origins []string, logger *zap.Logger) *OriginChecker {
	if logger == nil {
		logger = zap.NewNop()
	}

	oc := &OriginChecker{
		allowed: make(map[string]struct{}),
		logger:  logger,
	}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			oc.allowAll = true
			continue
		}

		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn("ignoring invalid origin in configuration",
				zap.String("origin", origin))
			continue
		}
		oc.allowed[normalized] = struct{}{}
	}

	return oc
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// Allow reports whether the request's Origin header is on the allow-list.
// Requests without an Origin header are rejected unless all origins are
// allowed.
func (oc *OriginChecker) Allow(r *http.Request) bool {
	if oc.allowAll {
		return true
	}

	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return false
	}

	normalized, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	if _, exists := oc.allowed[normalized]; exists {
		return true
	}

	oc.logger.Warn("blocked websocket connection from disallowed origin",
		zap.String("origin", originHeader))
	return false
}
