package server

import (
	"log/slog"
	"net/http"

	"github.com/Tyrowin/roomchat/internal/config"
)

// originPolicy decides which browser origins may open a WebSocket.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	logger   *slog.Logger
}

func newOriginPolicy(cfg config.Config, logger *slog.Logger) *originPolicy {
	p := &originPolicy{
		allowAll: cfg.AllowAll,
		allowed:  make(map[string]struct{}, len(cfg.AllowedOrigins)),
		logger:   logger,
	}
	normalized, allowAll := config.NormalizeOrigins(cfg.AllowedOrigins, logger)
	p.allowAll = p.allowAll || allowAll
	for _, origin := range normalized {
		p.allowed[origin] = struct{}{}
	}
	return p
}

func (p *originPolicy) isAllowed(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return false
	}

	normalizedOrigin, ok := config.NormalizeOrigin(originHeader)
	if !ok {
		return false
	}

	if p.allowAll {
		return true
	}

	_, exists := p.allowed[normalizedOrigin]
	return exists
}

// checkOrigin is the upgrader's CheckOrigin hook.
func (p *originPolicy) checkOrigin(r *http.Request) bool {
	if p.isAllowed(r) {
		return true
	}

	p.logger.Warn("Blocked WebSocket connection from disallowed origin",
		slog.String("origin", r.Header.Get("Origin")),
		slog.String("remote_addr", r.RemoteAddr),
	)
	return false
}
