package wallet

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/kita-pay/kita_pay/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type scheduleRequest struct {
	Amount       int64  `json:"amount"`
	ScheduledFor string `json:"scheduled_for"`
}

type walletResponse struct {
	ID               string `json:"id"`
	Balance          int64  `json:"balance"`
	FreezeAmount     int64  `json:"freeze_amount"`
	AvailableBalance int64  `json:"available_balance"`
	CreatedAt        string `json:"created_at"`
}

func toWalletResponse(w ledger.Wallet) walletResponse {
	return walletResponse{
		ID:               w.ID,
		Balance:          w.Balance,
		FreezeAmount:     w.FreezeAmount,
		AvailableBalance: w.AvailableBalance(),
		CreatedAt:        w.CreatedAt.UTC().Format(ScheduleTimeLayout),
	}
}

type withdrawalResponse struct {
	ID            string  `json:"id"`
	WalletID      string  `json:"wallet_id"`
	Amount        int64   `json:"amount"`
	ScheduledFor  string  `json:"scheduled_for"`
	Status        string  `json:"status"`
	TransactionID *string `json:"transaction_id,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`
}

func toWithdrawalResponse(w ledger.ScheduledWithdrawal) withdrawalResponse {
	return withdrawalResponse{
		ID:            w.ID,
		WalletID:      w.WalletID,
		Amount:        w.Amount,
		ScheduledFor:  w.ScheduledFor.UTC().Format(ScheduleTimeLayout),
		Status:        string(w.Status),
		TransactionID: w.TransactionID,
		ErrorMessage:  w.ErrorMessage,
	}
}

// Create provisions an empty wallet.
func (h *Handler) Create(c *fiber.Ctx) error {
	wallet, err := h.service.CreateWallet(c.UserContext())
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.Status(http.StatusCreated).JSON(toWalletResponse(wallet))
}

// Get returns the wallet with its balance and freeze hold.
func (h *Handler) Get(c *fiber.Ctx) error {
	wallet, err := h.service.Get(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(toWalletResponse(wallet))
}

// Delete removes an empty wallet. Wallets with ledger history cannot be
// deleted and answer 409.
func (h *Handler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), c.Params("walletId")); err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.SendStatus(http.StatusNoContent)
}

// Deposit credits the wallet balance.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	result, err := h.service.Deposit(c.UserContext(), c.Params("walletId"), req.Amount)
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id":      result.Transaction.WalletID,
		"transaction_id": result.Transaction.ID,
		"amount":         result.Transaction.Amount,
		"new_balance":    result.NewBalance,
	})
}

// ScheduleWithdrawal registers a withdrawal for future execution.
func (h *Handler) ScheduleWithdrawal(c *fiber.Ctx) error {
	var req scheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	withdrawal, err := h.service.ScheduleWithdrawal(c.UserContext(), c.Params("walletId"), req.Amount, req.ScheduledFor)
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.Status(http.StatusCreated).JSON(toWithdrawalResponse(withdrawal))
}

// Transactions lists the wallet's completed money movements.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	txns, err := h.service.Transactions(c.UserContext(), c.Params("walletId"), limit, offset)
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	items := make([]fiber.Map, 0, len(txns))
	for _, t := range txns {
		items = append(items, fiber.Map{
			"id":         t.ID,
			"wallet_id":  t.WalletID,
			"amount":     t.Amount,
			"type":       string(t.Type),
			"created_at": t.CreatedAt.UTC().Format(ScheduleTimeLayout),
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": items})
}

// Withdrawals lists the wallet's scheduled withdrawals.
func (h *Handler) Withdrawals(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	status := ledger.WithdrawalStatus(c.Query("status"))
	withdrawals, err := h.service.Withdrawals(c.UserContext(), c.Params("walletId"), status, limit, offset)
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	items := make([]withdrawalResponse, 0, len(withdrawals))
	for _, w := range withdrawals {
		items = append(items, toWithdrawalResponse(w))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"withdrawals": items})
}

func pagination(c *fiber.Ctx) (limit, offset int) {
	limit = 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrWalletHasHistory):
		return http.StatusConflict
	case errors.Is(err, ErrNonPositiveAmount), errors.Is(err, ErrBadTimestamp), errors.Is(err, ErrPastScheduleTime):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
