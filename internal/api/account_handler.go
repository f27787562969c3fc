package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/naperu/estatebot/internal/service"
)

// --- Linked accounts ---

func (s *Server) handleCreateAccount(c *fiber.Ctx) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid request body"})
	}

	account, err := s.services.Account.Create(c.Context(), req.Name)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "account": account})
}

func (s *Server) handleStartLogin(c *fiber.Ctx) error {
	id, err := parseID(c, "account")
	if err != nil {
		return s.errorResponse(c, err)
	}

	var req domain.Credentials
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid request body"})
	}

	token, err := s.services.Account.StartLogin(c.Context(), id, req)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "code_request_token": token})
}

func (s *Server) handleCompleteLogin(c *fiber.Ctx) error {
	id, err := parseID(c, "account")
	if err != nil {
		return s.errorResponse(c, err)
	}

	var req service.CompleteLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid request body"})
	}

	res, err := s.services.Account.CompleteLogin(c.Context(), id, req)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if res.NeedsSecondFactor {
		return c.JSON(fiber.Map{"success": true, "needs_second_factor": true})
	}
	return c.JSON(fiber.Map{"success": true, "session_token": res.SessionToken})
}

func (s *Server) handleReloadAccounts(c *fiber.Ctx) error {
	live, err := s.services.Account.Reload(c.Context())
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "live": live})
}

func (s *Server) handleDisconnectAccount(c *fiber.Ctx) error {
	id, err := parseID(c, "account")
	if err != nil {
		return s.errorResponse(c, err)
	}

	if err := s.services.Account.Disconnect(c.Context(), id); err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleGetLiveAccounts(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "accounts": s.services.Account.Live()})
}
