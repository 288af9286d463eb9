package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/kita-pay/kita_pay/internal/ledger"
	"github.com/kita-pay/kita_pay/internal/metrics"
)

// ScheduleTimeLayout is the wire format for withdrawal schedule timestamps.
const ScheduleTimeLayout = "2006-01-02 15:04:05"

var (
	// ErrNonPositiveAmount indicates a zero or negative money amount.
	ErrNonPositiveAmount = errors.New("amount must be positive")

	// ErrBadTimestamp indicates a schedule timestamp that does not match the
	// expected layout.
	ErrBadTimestamp = errors.New("invalid timestamp, expected YYYY-MM-DD HH:MM:SS")

	// ErrPastScheduleTime indicates a schedule timestamp that is not in the
	// future.
	ErrPastScheduleTime = errors.New("scheduled time must be in the future")
)

// Service exposes wallet operations backed by the ledger store. Schedule
// timestamps arrive without a zone and are interpreted in the configured
// location, then normalized to UTC before they reach the store.
type Service struct {
	store    ledger.Store
	location *time.Location
	now      func() time.Time
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store, location *time.Location) *Service {
	if location == nil {
		location = time.UTC
	}
	return &Service{store: store, location: location, now: time.Now}
}

// CreateWallet provisions an empty wallet.
func (s *Service) CreateWallet(ctx context.Context) (ledger.Wallet, error) {
	return s.store.CreateWallet(ctx)
}

// Get retrieves a wallet with its balance and freeze hold.
func (s *Service) Get(ctx context.Context, id string) (ledger.Wallet, error) {
	return s.store.Wallet(ctx, id)
}

// Delete removes a wallet without history; ledger.ErrWalletHasHistory
// otherwise.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteWallet(ctx, id)
}

// DepositResult describes a credited deposit.
type DepositResult struct {
	Transaction ledger.Transaction
	NewBalance  int64
}

// Deposit credits the wallet and records the deposit transaction.
func (s *Service) Deposit(ctx context.Context, walletID string, amount int64) (DepositResult, error) {
	if amount <= 0 {
		return DepositResult{}, ErrNonPositiveAmount
	}
	txn, wallet, err := s.store.Deposit(ctx, walletID, amount)
	if err != nil {
		return DepositResult{}, err
	}
	metrics.DepositsTotal.Inc()
	return DepositResult{Transaction: txn, NewBalance: wallet.Balance}, nil
}

// ScheduleWithdrawal validates the request and registers a pending withdrawal,
// freezing the amount on the wallet. The balance itself is untouched until
// execution time.
func (s *Service) ScheduleWithdrawal(ctx context.Context, walletID string, amount int64, scheduledFor string) (ledger.ScheduledWithdrawal, error) {
	if amount <= 0 {
		return ledger.ScheduledWithdrawal{}, ErrNonPositiveAmount
	}
	when, err := time.ParseInLocation(ScheduleTimeLayout, scheduledFor, s.location)
	if err != nil {
		return ledger.ScheduledWithdrawal{}, ErrBadTimestamp
	}
	if !when.After(s.now()) {
		return ledger.ScheduledWithdrawal{}, ErrPastScheduleTime
	}
	withdrawal, err := s.store.CreateScheduledWithdrawal(ctx, walletID, amount, when.UTC())
	if err != nil {
		return ledger.ScheduledWithdrawal{}, err
	}
	metrics.WithdrawalsScheduled.Inc()
	return withdrawal, nil
}

// Transactions lists completed money movements for the wallet, newest first.
func (s *Service) Transactions(ctx context.Context, walletID string, limit, offset int) ([]ledger.Transaction, error) {
	return s.store.Transactions(ctx, walletID, limit, offset)
}

// Withdrawals lists scheduled withdrawals for the wallet, optionally filtered
// by status.
func (s *Service) Withdrawals(ctx context.Context, walletID string, status ledger.WithdrawalStatus, limit, offset int) ([]ledger.ScheduledWithdrawal, error) {
	return s.store.Withdrawals(ctx, walletID, status, limit, offset)
}
