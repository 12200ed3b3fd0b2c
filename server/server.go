// Package server assembles the HTTP surface: the v1 façade, health
// probe, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/leadpilot/leadpilot/chat/engine"
	"github.com/leadpilot/leadpilot/chat/lock"
	"github.com/leadpilot/leadpilot/chat/metrics"
	"github.com/leadpilot/leadpilot/chat/queue"
	"github.com/leadpilot/leadpilot/internal/profile"
	apiv1 "github.com/leadpilot/leadpilot/server/router/api/v1"
	"github.com/leadpilot/leadpilot/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store, locker *lock.ThreadLocker, q *queue.Queue, eng engine.Engine, exporter *metrics.PipelineExporter) (*Server, error) {
	s := &Server{
		Profile: profile,
		Store:   store,
	}

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true

	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("HTTP request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status)
			return nil
		},
	}))

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})
	if exporter != nil {
		echoServer.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	}

	apiV1Service := apiv1.NewAPIV1Service(profile.AdminSecret, profile, store, locker, q, eng)
	apiV1Service.RegisterRoutes(echoServer)

	s.echoServer = echoServer
	return s, nil
}

// Start serves HTTP until Shutdown. It returns http.ErrServerClosed on
// a clean stop.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	return s.echoServer.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("Failed to shutdown server", "error", err)
	}

	if err := s.Store.Close(); err != nil {
		slog.Error("Failed to close store", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echoServer
}
