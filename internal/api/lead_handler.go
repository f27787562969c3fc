package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/naperu/estatebot/internal/service"
)

// --- Leads ---

func (s *Server) handleGetLead(c *fiber.Ctx) error {
	id, err := parseID(c, "lead")
	if err != nil {
		return s.errorResponse(c, err)
	}

	lead, err := s.services.Lead.GetWithMessages(c.Context(), id)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "lead": lead})
}

func (s *Server) handleUpdateLead(c *fiber.Ctx) error {
	id, err := parseID(c, "lead")
	if err != nil {
		return s.errorResponse(c, err)
	}

	var req service.FieldUpdate
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid request body"})
	}

	lead, err := s.services.Lead.UpdateField(c.Context(), id, req)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "lead": lead})
}

func (s *Server) handleNotifyLead(c *fiber.Ctx) error {
	id, err := parseID(c, "lead")
	if err != nil {
		return s.errorResponse(c, err)
	}

	var req service.NotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid request body"})
	}

	if err := s.services.Lead.TriggerNotification(c.Context(), id, req); err != nil {
		return s.errorResponse(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"success": true})
}

func (s *Server) handleDeleteLead(c *fiber.Ctx) error {
	id, err := parseID(c, "lead")
	if err != nil {
		return s.errorResponse(c, err)
	}

	if err := s.services.Lead.Delete(c.Context(), id); err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
