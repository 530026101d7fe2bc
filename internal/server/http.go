// Package server builds the HTTP application: middleware chain, error
// handling and the route table.
package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/trace"

	callbackhandler "esim-gateway/internal/callback/handler"
	healthhandler "esim-gateway/internal/health/handler"
	identityhandler "esim-gateway/internal/identity/handler"
	provisioninghandler "esim-gateway/internal/provisioning/handler"
	"esim-gateway/internal/server/middleware"
	"esim-gateway/internal/telemetry"
	transactionhandler "esim-gateway/internal/transaction/handler"
)

const (
	bodyLimit    = 1 << 20
	readTimeout  = 15 * time.Second
	writeTimeout = 45 * time.Second
)

// Deps holds the services behind the routes. Any nil service makes its
// routes answer 501; a nil Tokens makes every authenticated route answer 501.
type Deps struct {
	Auth       identityhandler.Authenticator
	Ledger     transactionhandler.Ledger
	Engine     provisioninghandler.Activator
	Reconciler callbackhandler.Reconciler
	Tokens     middleware.AccessValidator

	// HealthDB and HealthCache back GET /health; nil skips the check.
	HealthDB    healthhandler.Pinger
	HealthCache healthhandler.CachePinger

	// TracerProvider may be nil to use the global provider.
	TracerProvider trace.TracerProvider
	// Emitter receives one http.request event per request. Nil disables it.
	Emitter telemetry.EventEmitter
}

// NewApp returns the fiber app with every route mounted.
//
// Route table:
//   - GET  /health
//   - POST /api/auth/{login,register,refresh,logout}
//   - GET  /api/esim/plans
//   - POST /api/esim/purchase                  (bearer)
//   - GET  /api/esim/activate/:transactionId   (bearer)
//   - POST /api/esim/payment/callback
//   - POST /api/webhooks/{esim/status,payment/callback,activation/complete,generic}
func NewApp(deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "esim-gateway",
		ErrorHandler:          middleware.ErrorHandler,
		BodyLimit:             bodyLimit,
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		DisableStartupMessage: true,
	})
	app.Use(
		middleware.ClientIPHandler(),
		middleware.Tracing(deps.TracerProvider),
		middleware.Telemetry(deps.Emitter, map[string]bool{"/health": true}),
	)

	requireAuth := func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotImplemented, "authentication not configured")
	}
	if deps.Tokens != nil {
		requireAuth = middleware.RequireAuth(deps.Tokens)
	}

	healthhandler.NewHandler(deps.HealthDB, deps.HealthCache).Mount(app)

	api := app.Group("/api")
	identityhandler.NewAuthHandler(deps.Auth).Mount(api.Group("/auth"), requireAuth)

	esim := api.Group("/esim")
	transactionhandler.NewPurchaseHandler(deps.Ledger).Mount(esim, requireAuth)
	provisioninghandler.NewActivationHandler(deps.Engine).Mount(esim, requireAuth)

	webhooks := callbackhandler.NewWebhookHandler(deps.Reconciler)
	esim.Post("/payment/callback", webhooks.PaymentCallback)
	webhooks.Mount(api.Group("/webhooks"))

	return app
}
