// Package admin serves the health and dispatcher statistics endpoints.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medbridge/transponder/outbox"
)

// StatsProvider is satisfied by *outbox.Dispatcher.
type StatsProvider interface {
	Stats() outbox.Stats
}

type Server struct {
	echo   *echo.Echo
	stats  StatsProvider
	logger zerolog.Logger
}

func NewServer(stats StatsProvider, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, stats: stats, logger: logger}
	e.Use(requestLogger(logger))
	e.GET("/healthz", s.health)
	e.GET("/stats", s.statistics)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("starting admin server")
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// health reports 503 while the dispatcher is not running.
func (s *Server) health(c echo.Context) error {
	if !s.stats.Stats().Running {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) statistics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.stats.Stats())
}

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)

			evt := logger.Debug()
			if err != nil {
				evt = logger.Error().Err(err)
			}
			evt.
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Msg("request")

			return err
		}
	}
}
