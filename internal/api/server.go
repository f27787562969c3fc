package api

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/naperu/estatebot/internal/service"
	"github.com/naperu/estatebot/internal/ws"
	"github.com/naperu/estatebot/pkg/config"
	"github.com/sirupsen/logrus"
)

type Server struct {
	app      *fiber.App
	cfg      *config.Config
	services *service.Services
	hub      *ws.Hub
	media    domain.MediaStore
	log      *logrus.Entry
}

func NewServer(cfg *config.Config, services *service.Services, hub *ws.Hub, media domain.MediaStore, log *logrus.Entry) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "EstateBot",
		BodyLimit:             4 * 1024 * 1024,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
			})
		},
	})

	// Middleware
	app.Use(recover.New())
	if !cfg.IsProduction() {
		app.Use(logger.New(logger.Config{
			Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
			TimeFormat: "15:04:05",
		}))
	}

	// Security Headers (Helmet)
	app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginEmbedderPolicy: "require-corp",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "same-origin",
		PermissionPolicy:          "geolocation=(), microphone=(), camera=()",
	}))

	// Rate Limiting - 300 requests per minute per IP
	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "too many requests, please slow down",
			})
		},
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/ws")
		},
	}))

	corsOrigins := "http://localhost:3000,http://localhost:8080"
	if cfg.IsProduction() && len(cfg.CORSOrigins) > 0 {
		corsOrigins = strings.Join(cfg.CORSOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,Upgrade,Connection",
		AllowCredentials: true,
	}))

	server := &Server{
		app:      app,
		cfg:      cfg,
		services: services,
		hub:      hub,
		media:    media,
		log:      log,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"time":   time.Now(),
		})
	})

	api := s.app.Group("/api")
	protected := api.Group("", s.authMiddleware)

	protected.Get("/me", s.handleGetMe)
	protected.Get("/stats", s.handleGetStats)
	protected.Get("/media/file/*", s.handleMediaFile)

	// Leads
	leads := protected.Group("/leads")
	leads.Get("/:id", s.handleGetLead)
	leads.Patch("/:id", s.handleUpdateLead)
	leads.Post("/:id/notify", s.handleNotifyLead)
	leads.Delete("/:id", s.managerMiddleware, s.handleDeleteLead)

	// Linked accounts
	accounts := protected.Group("/accounts", s.managerMiddleware)
	accounts.Post("/", s.handleCreateAccount)
	accounts.Get("/live", s.handleGetLiveAccounts)
	accounts.Post("/reload", s.handleReloadAccounts)
	accounts.Post("/:id/login/start", s.handleStartLogin)
	accounts.Post("/:id/login/complete", s.handleCompleteLogin)
	accounts.Post("/:id/disconnect", s.handleDisconnectAccount)

	if s.hub != nil {
		s.app.Use("/ws", s.wsUpgrade)
		s.app.Get("/ws", websocket.New(s.handleWebSocket))
	}
}

// Auth middleware
func (s *Server) authMiddleware(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		authHeader = c.Cookies("auth-token")
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "Unauthorized",
		})
	}

	claims, err := s.services.Auth.ValidateToken(token, s.cfg.JWTSecret)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid token",
		})
	}

	c.Locals("claims", claims)
	c.Locals("staff_id", claims.StaffID)
	return c.Next()
}

// Manager middleware
func (s *Server) managerMiddleware(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*service.JWTClaims)
	if !claims.IsManager() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   "Forbidden: manager access required",
		})
	}
	return c.Next()
}

// WebSocket upgrade middleware
func (s *Server) wsUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		token := c.Query("token")
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "Missing token"})
		}

		claims, err := s.services.Auth.ValidateToken(token, s.cfg.JWTSecret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "Invalid token"})
		}

		c.Locals("claims", claims)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (s *Server) handleWebSocket(c *websocket.Conn) {
	claims := c.Locals("claims").(*service.JWTClaims)

	client := ws.NewClient(s.hub, c, claims.StaffID)
	s.hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}

// errorResponse maps service errors onto status codes.
func (s *Server) errorResponse(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrCodeTokenMismatch),
		errors.Is(err, domain.ErrLoginNotStarted):
		status = fiber.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		status = fiber.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, domain.ErrLoginExpired):
		status = fiber.StatusGone
	}
	if status == fiber.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{"method": c.Method(), "path": c.Path()}).Error("request failed")
	}
	return c.Status(status).JSON(fiber.Map{"success": false, "error": err.Error()})
}

func parseID(c *fiber.Ctx, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s ID: %w", what, domain.ErrInvalidInput)
	}
	return id, nil
}

func (s *Server) handleGetMe(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*service.JWTClaims)
	return c.JSON(fiber.Map{
		"success": true,
		"staff": fiber.Map{
			"id":          claims.StaffID,
			"telegram_id": claims.TelegramID,
			"role":        claims.Role,
		},
	})
}

func (s *Server) handleGetStats(c *fiber.Ctx) error {
	stats, err := s.services.Lead.Stats(c.Context())
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "stats": stats})
}

// handleMediaFile serves stored lead media through the backend
func (s *Server) handleMediaFile(c *fiber.Ctx) error {
	if s.media == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"success": false, "error": "Storage not configured"})
	}

	key := c.Params("*")
	if decoded, err := url.PathUnescape(key); err == nil {
		key = decoded
	}
	key = path.Clean("/" + key)[1:]
	if key == "" || !(strings.HasPrefix(key, string(domain.MediaImports)+"/") || strings.HasPrefix(key, string(domain.MediaScreenshots)+"/")) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid path"})
	}

	data, err := s.media.Open(c.Context(), key)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "File not found"})
	}

	c.Set("Content-Type", contentTypeFor(key))
	c.Set("Cache-Control", "private, max-age=86400")
	return c.Send(data)
}

func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".pdf":
		return "application/pdf"
	}
	return "application/octet-stream"
}

// App exposes the fiber app for in-process requests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
