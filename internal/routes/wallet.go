package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kita-pay/kita_pay/internal/wallet"
)

// RegisterWalletRoutes wires wallet lifecycle and deposit endpoints. The rate
// limiter guards only the balance-mutating routes.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, rateLimiter fiber.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets/:walletId", h.Get)
	r.Delete("/wallets/:walletId", h.Delete)
	r.Post("/wallets/:walletId/deposit", rateLimiter, h.Deposit)
	r.Get("/wallets/:walletId/transactions", h.Transactions)
}
