package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports backing store health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RegisterRoutes registers all HTTP routes on the Fiber app. nc and st may be nil,
// which reports the corresponding check as unavailable.
func RegisterRoutes(app *fiber.App, nc *nats.Conn, st HealthChecker, h *BankingHandler) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"nats":  "ok",
			"store": "ok",
		}
		status := "ok"
		code := fiber.StatusOK

		if nc == nil || !nc.IsConnected() {
			checks["nats"] = "disconnected"
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		} else if err := nc.FlushTimeout(1 * time.Second); err != nil {
			checks["nats"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		if st == nil {
			checks["store"] = "not configured"
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		} else {
			healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := st.HealthCheck(healthCtx); err != nil {
				checks["store"] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	v1 := app.Group("/api/v1")
	v1.Post("/access-banking", h.AccessBanking)

	clients := v1.Group("/clients/:clientId")
	clients.Get("/accounts", h.ListAccounts)
	clients.Get("/accounts/:accountId/transactions", h.ListTransactions)
	clients.Get("/accounts/:accountId/balance", h.GetBalance)
	clients.Get("/accounts/:accountId/balance/latest", h.GetLatestBalance)
	clients.Get("/balances", h.ListStoredBalances)
}
