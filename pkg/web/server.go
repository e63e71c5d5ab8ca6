// Package web serves the stabilizer's control API and live telemetry.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-stabilizer/internal/log"
	"github.com/teslashibe/go-stabilizer/pkg/hub"
	"github.com/teslashibe/go-stabilizer/pkg/stabilizer"
)

// Controller is the engine surface the server exposes.
// *stabilizer.Engine satisfies it.
type Controller interface {
	Toggle() bool
	SetEnabled(on bool)
	Enabled() bool
	Stats() stabilizer.Stats
	Config() stabilizer.Config
}

// Config configures the server.
type Config struct {
	Port string

	// StatusInterval is how often stats are pushed on /ws/status.
	StatusInterval time.Duration
}

// DefaultConfig returns the default server settings.
func DefaultConfig() Config {
	return Config{
		Port:           "8080",
		StatusInterval: 200 * time.Millisecond,
	}
}

// Server is the control and telemetry server
type Server struct {
	cfg    Config
	app    *fiber.App
	ctrl   Controller
	logger *slog.Logger

	// Hubs for websocket broadcast
	statusHub  *hub.Hub
	previewHub *hub.Hub

	// OnCommand, if set, receives control actions instead of the Controller.
	// The host uses it to route them through the pipeline's command channel.
	OnCommand func(action string)
}

// NewServer creates a server around ctrl.
func NewServer(cfg Config, ctrl Controller) *Server {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultConfig().StatusInterval
	}

	s := &Server{
		cfg:        cfg,
		ctrl:       ctrl,
		logger:     log.Component("web"),
		statusHub:  hub.New("status"),
		previewHub: hub.New("preview"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Stabilizer",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/config", s.handleConfig)
	api.Get("/presets", s.handlePresets)
	api.Post("/toggle", s.handleToggle)
	api.Post("/enable", s.handleEnable)
	api.Post("/disable", s.handleDisable)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/preview", websocket.New(s.handlePreviewWS))

	s.app = app
	return s
}

// App returns the underlying fiber app (tests).
func (s *Server) App() *fiber.App { return s.app }

// PreviewHub returns the hub preview frames are broadcast on.
func (s *Server) PreviewHub() *hub.Hub { return s.previewHub }

// StatusHub returns the hub stats are broadcast on.
func (s *Server) StatusHub() *hub.Hub { return s.statusHub }

// Run starts the hubs, the status ticker and the listener, and blocks until
// ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.statusHub.Run(ctx)
	go s.previewHub.Run(ctx)
	go s.pushStatus(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control server listening", "url", fmt.Sprintf("http://localhost:%s", s.cfg.Port))
		errCh <- s.app.Listen(":" + s.cfg.Port)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			return fmt.Errorf("web shutdown: %w", err)
		}
		return nil
	}
}

// pushStatus broadcasts stats while status viewers are connected.
func (s *Server) pushStatus(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.statusHub.ClientCount() == 0 {
				continue
			}
			if err := s.statusHub.BroadcastJSON(s.ctrl.Stats()); err != nil {
				s.logger.Warn("encode stats failed", "error", err)
			}
		}
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
