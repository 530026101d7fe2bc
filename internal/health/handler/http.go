// Package handler serves the readiness probe.
package handler

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
)

const checkTimeout = 2 * time.Second

// Pinger checks the database (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// CachePinger checks the session cache.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// Handler reports SERVING when every configured dependency answers. A nil
// dependency is skipped.
type Handler struct {
	db    Pinger
	cache CachePinger
}

func NewHandler(db Pinger, cache CachePinger) *Handler {
	return &Handler{db: db, cache: cache}
}

func (h *Handler) Mount(r fiber.Router) {
	r.Get("/health", h.check)
}

func (h *Handler) check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), checkTimeout)
	defer cancel()

	checks := fiber.Map{}
	healthy := true
	if h.db != nil {
		checks["database"] = "ok"
		if err := h.db.PingContext(ctx); err != nil {
			log.Printf("health: database ping failed: %v", err)
			checks["database"] = "unavailable"
			healthy = false
		}
	}
	if h.cache != nil {
		checks["cache"] = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			log.Printf("health: cache ping failed: %v", err)
			checks["cache"] = "unavailable"
			healthy = false
		}
	}

	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "NOT_SERVING", "checks": checks})
	}
	return c.JSON(fiber.Map{"status": "SERVING", "checks": checks})
}
