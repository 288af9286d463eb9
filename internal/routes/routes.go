package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kita-pay/kita_pay/internal/config"
	"github.com/kita-pay/kita_pay/internal/ledger"
	"github.com/kita-pay/kita_pay/internal/metrics"
	"github.com/kita-pay/kita_pay/internal/middleware"
	"github.com/kita-pay/kita_pay/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes. It returns the
// ledger store backing the API so the caller can share it with the
// withdrawal scheduler.
func Setup(app *fiber.App, d Deps) (ledger.Store, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", metrics.Handler())

	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		store = ledger.NewInMemory()
	}
	walletSvc := wallet.NewService(store, d.Cfg.Location())
	walletHandler := wallet.NewHandler(walletSvc)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	rateLimiter := middleware.MutationRateLimit(d.Cache, d.Cfg.MutationRateLimit)
	RegisterWalletRoutes(api, walletHandler, rateLimiter)
	RegisterWithdrawalRoutes(api, walletHandler, rateLimiter)

	return store, nil
}
