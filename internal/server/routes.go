package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleHealth)
	s.echo.GET("/health", s.handleHealthJSON)
	s.echo.GET("/stats", s.handleStats)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Global channel and per-room channels.
	s.echo.GET("/message", s.handleWebSocket)
	s.echo.GET("/message/:room", s.handleWebSocket)

	s.echo.GET("/chat", s.handleChatPage)
	s.echo.GET("/chat/:room", s.handleChatPage)
}
