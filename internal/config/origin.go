package config

import (
	"log/slog"
	"net/url"
	"strings"
)

// NormalizeOrigins lowercases scheme and host of every configured origin and
// drops entries that are empty or unparsable. A "*" entry is reported through
// allowAll instead of being kept in the list.
func NormalizeOrigins(origins []string, logger *slog.Logger) (normalized []string, allowAll bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized = make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := NormalizeOrigin(trimmed)
		if !ok {
			if logger != nil {
				logger.Warn("Ignoring invalid origin in configuration", slog.String("origin", origin))
			}
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

// NormalizeOrigin reduces origin to lowercase scheme://host[:port].
func NormalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
