package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kita-pay/kita_pay/internal/ledger"
	"github.com/kita-pay/kita_pay/internal/metrics"
	"github.com/kita-pay/kita_pay/internal/notification"
	"github.com/kita-pay/kita_pay/internal/settlement"
)

// insufficientFundsMessage is recorded on withdrawals that could not be
// debited at execution time.
const insufficientFundsMessage = "Insufficient balance at execution time"

// Executor resolves a single claimed withdrawal to a terminal state.
//
// The flow is debit first, settle second: the wallet is conditionally debited
// in one transaction, the provider is called with no store lock held, and the
// outcome is recorded in a final transaction. A rejected or failed settlement
// after a successful debit triggers a compensating refund.
type Executor struct {
	store             ledger.Store
	settler           settlement.Client
	notifier          notification.Notifier
	logger            *slog.Logger
	settlementTimeout time.Duration
}

// NewExecutor builds a withdrawal executor.
func NewExecutor(store ledger.Store, settler settlement.Client, notifier notification.Notifier, logger *slog.Logger, settlementTimeout time.Duration) *Executor {
	return &Executor{
		store:             store,
		settler:           settler,
		notifier:          notifier,
		logger:            logger,
		settlementTimeout: settlementTimeout,
	}
}

// Process drives one claimed withdrawal to completed or failed. A withdrawal
// no longer in processing status is treated as already handled elsewhere and
// skipped without error.
func (e *Executor) Process(ctx context.Context, id string) error {
	withdrawal, err := e.store.WithdrawalInProcessing(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrWithdrawalNotFound) {
			e.logger.Info("withdrawal already handled", "withdrawal_id", id)
			return nil
		}
		return fmt.Errorf("load withdrawal %s: %w", id, err)
	}

	debited, err := e.store.DebitForWithdrawal(ctx, id)
	if err != nil {
		return fmt.Errorf("debit for withdrawal %s: %w", id, err)
	}
	if !debited {
		if err := e.store.ReleaseAndFailWithdrawal(ctx, id, insufficientFundsMessage); err != nil {
			return fmt.Errorf("fail withdrawal %s: %w", id, err)
		}
		metrics.WithdrawalsResolved.WithLabelValues("insufficient_funds").Inc()
		e.logger.Info("withdrawal failed",
			"withdrawal_id", id, "wallet_id", withdrawal.WalletID, "reason", insufficientFundsMessage)
		e.notify(ctx, notification.KindWithdrawalFailed, withdrawal, insufficientFundsMessage)
		return nil
	}

	result, settleErr := e.settle(ctx, withdrawal)
	if settleErr == nil && result.Success {
		txn, err := e.store.CompleteWithdrawal(ctx, id)
		if err != nil {
			return fmt.Errorf("complete withdrawal %s: %w", id, err)
		}
		metrics.WithdrawalsResolved.WithLabelValues("completed").Inc()
		e.logger.Info("withdrawal completed",
			"withdrawal_id", id, "wallet_id", withdrawal.WalletID, "amount", withdrawal.Amount, "transaction_id", txn.ID)
		e.notify(ctx, notification.KindWithdrawalCompleted,
			withdrawal, fmt.Sprintf("Withdrawal of %d completed", withdrawal.Amount))
		return nil
	}

	var message, outcome string
	if settleErr != nil {
		message = fmt.Sprintf("settlement error: %v; amount refunded", settleErr)
		outcome = "settlement_error"
	} else {
		message = fmt.Sprintf("settlement rejected: %s; amount refunded", result.Detail)
		outcome = "settlement_rejected"
	}
	if err := e.store.RefundAndFailWithdrawal(ctx, id, message); err != nil {
		return fmt.Errorf("refund withdrawal %s: %w", id, err)
	}
	metrics.WithdrawalsResolved.WithLabelValues(outcome).Inc()
	e.logger.Warn("withdrawal refunded",
		"withdrawal_id", id, "wallet_id", withdrawal.WalletID, "amount", withdrawal.Amount, "reason", message)
	e.notify(ctx, notification.KindWithdrawalFailed, withdrawal, message)
	return nil
}

// settle calls the provider under its own deadline, independent of the sweep
// context. No store lock is held while the call is in flight.
func (e *Executor) settle(ctx context.Context, withdrawal ledger.ScheduledWithdrawal) (settlement.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.settlementTimeout)
	defer cancel()
	return e.settler.Disburse(callCtx, settlement.Request{
		WalletID:  withdrawal.WalletID,
		Amount:    withdrawal.Amount,
		Reference: withdrawal.ID,
	})
}

func (e *Executor) notify(ctx context.Context, kind string, withdrawal ledger.ScheduledWithdrawal, body string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, notification.Message{Kind: kind, WalletID: withdrawal.WalletID, Body: body}); err != nil {
		e.logger.Warn("notification failed", "withdrawal_id", withdrawal.ID, "error", err)
	}
}
