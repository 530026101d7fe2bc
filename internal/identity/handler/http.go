// Package handler exposes the authentication core over HTTP.
package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"esim-gateway/internal/identity/service"
	"esim-gateway/internal/platform/apperr"
	"esim-gateway/internal/server/middleware"
)

// Authenticator is the subset of *service.AuthService the handlers call.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	Register(ctx context.Context, email, password, phone string) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*service.AuthResult, error)
	Logout(ctx context.Context, subjectID string) error
}

// AuthHandler serves /api/auth.
type AuthHandler struct {
	auth Authenticator
}

// NewAuthHandler returns an AuthHandler. auth may be nil; every route then answers 501.
func NewAuthHandler(auth Authenticator) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type userJSON struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

func toUserJSON(u *service.UserInfo) *userJSON {
	if u == nil {
		return nil
	}
	return &userJSON{ID: u.ID, Email: u.Email, Phone: u.Phone}
}

var errNotConfigured = fiber.NewError(fiber.StatusNotImplemented, "auth service not configured")

// Mount adds the routes to r. requireAuth guards logout.
func (h *AuthHandler) Mount(r fiber.Router, requireAuth fiber.Handler) {
	r.Post("/login", h.login)
	r.Post("/register", h.register)
	r.Post("/refresh", h.refresh)
	r.Post("/logout", requireAuth, h.logout)
}

func (h *AuthHandler) login(c *fiber.Ctx) error {
	if h.auth == nil {
		return errNotConfigured
	}
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidInput("Email and password are required")
	}
	res, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"accessToken":  res.AccessToken,
		"refreshToken": res.RefreshToken,
		"user":         toUserJSON(res.User),
	})
}

func (h *AuthHandler) register(c *fiber.Ctx) error {
	if h.auth == nil {
		return errNotConfigured
	}
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidInput("Email and password are required")
	}
	res, err := h.auth.Register(c.UserContext(), req.Email, req.Password, req.Phone)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "User registered successfully",
		"user":    toUserJSON(res.User),
	})
}

func (h *AuthHandler) refresh(c *fiber.Ctx) error {
	if h.auth == nil {
		return errNotConfigured
	}
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidInput("Refresh token is required")
	}
	res, err := h.auth.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"accessToken": res.AccessToken})
}

func (h *AuthHandler) logout(c *fiber.Ctx) error {
	if h.auth == nil {
		return errNotConfigured
	}
	subjectID, _ := middleware.SubjectID(c.UserContext())
	if err := h.auth.Logout(c.UserContext(), subjectID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}
