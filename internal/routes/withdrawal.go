package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kita-pay/kita_pay/internal/wallet"
)

// RegisterWithdrawalRoutes wires withdrawal scheduling and listing endpoints.
func RegisterWithdrawalRoutes(r fiber.Router, h *wallet.Handler, rateLimiter fiber.Handler) {
	r.Post("/wallets/:walletId/withdrawals", rateLimiter, h.ScheduleWithdrawal)
	r.Get("/wallets/:walletId/withdrawals", h.Withdrawals)
}
