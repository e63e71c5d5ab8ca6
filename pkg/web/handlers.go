package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-stabilizer/pkg/hub"
	"github.com/teslashibe/go-stabilizer/pkg/stabilizer"
)

// EnabledResponse reports the stabilization state after a control call.
type EnabledResponse struct {
	Enabled bool `json:"enabled"`
}

// handleStatus returns the current stats snapshot
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Stats())
}

// handleConfig returns the engine's configuration
func (s *Server) handleConfig(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Config())
}

// handlePresets lists the built-in presets
func (s *Server) handlePresets(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"names":   stabilizer.PresetNames(),
		"presets": stabilizer.Presets(),
	})
}

func (s *Server) handleToggle(c *fiber.Ctx) error {
	if s.OnCommand != nil {
		s.OnCommand("toggle")
		return c.Status(fiber.StatusAccepted).JSON(EnabledResponse{Enabled: !s.ctrl.Enabled()})
	}
	s.logger.Info("toggle requested", "remote", c.IP())
	return c.JSON(EnabledResponse{Enabled: s.ctrl.Toggle()})
}

func (s *Server) handleEnable(c *fiber.Ctx) error {
	return s.setEnabled(c, true)
}

func (s *Server) handleDisable(c *fiber.Ctx) error {
	return s.setEnabled(c, false)
}

func (s *Server) setEnabled(c *fiber.Ctx, on bool) error {
	if s.OnCommand != nil {
		action := "disable"
		if on {
			action = "enable"
		}
		s.OnCommand(action)
		return c.Status(fiber.StatusAccepted).JSON(EnabledResponse{Enabled: on})
	}
	s.ctrl.SetEnabled(on)
	s.logger.Info("stabilization set", "enabled", on, "remote", c.IP())
	return c.JSON(EnabledResponse{Enabled: on})
}

// handleStatusWS streams stats snapshots, starting with the current one
func (s *Server) handleStatusWS(c *websocket.Conn) {
	if err := c.WriteJSON(s.ctrl.Stats()); err != nil {
		return
	}
	serve(s.statusHub, c)
}

// handlePreviewWS streams JPEG preview frames
func (s *Server) handlePreviewWS(c *websocket.Conn) {
	serve(s.previewHub, c)
}

func serve(h *hub.Hub, c *websocket.Conn) {
	client := hub.NewClient(h, c)
	if client == nil {
		c.Close()
		return
	}
	client.Run()
}
