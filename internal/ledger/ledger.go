package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrWalletNotFound indicates the referenced wallet does not exist.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrWalletHasHistory indicates the wallet cannot be deleted because
	// transactions or withdrawals still reference it.
	ErrWalletHasHistory = errors.New("wallet has ledger history")

	// ErrWithdrawalNotFound indicates no withdrawal exists in the expected
	// status; concurrent workers treat this as "someone else got here first".
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
)

// TransactionType distinguishes ledger entry kinds.
type TransactionType string

const (
	TypeDeposit  TransactionType = "deposit"
	TypeWithdraw TransactionType = "withdraw"
)

// WithdrawalStatus is the scheduled withdrawal state machine:
// pending -> processing -> completed | failed. Terminal states never change.
type WithdrawalStatus string

const (
	StatusPending    WithdrawalStatus = "pending"
	StatusProcessing WithdrawalStatus = "processing"
	StatusCompleted  WithdrawalStatus = "completed"
	StatusFailed     WithdrawalStatus = "failed"
)

// Wallet holds a balance in the smallest currency unit plus the amount
// frozen for withdrawals that are scheduled but not yet executed.
type Wallet struct {
	ID           string
	Balance      int64
	FreezeAmount int64
	CreatedAt    time.Time
}

// AvailableBalance is the spendable portion of the balance.
func (w Wallet) AvailableBalance() int64 {
	return w.Balance - w.FreezeAmount
}

// Transaction is an immutable record of completed money movement. Exactly one
// is written per successful deposit and per settled withdrawal.
type Transaction struct {
	ID        string
	WalletID  string
	Amount    int64
	Type      TransactionType
	CreatedAt time.Time
}

// ScheduledWithdrawal records the intent to move money out at a point in time.
// TransactionID is set only once the withdrawal completes; ErrorMessage only
// once it fails.
type ScheduledWithdrawal struct {
	ID            string
	WalletID      string
	Amount        int64
	ScheduledFor  time.Time
	Status        WithdrawalStatus
	TransactionID *string
	ErrorMessage  *string
	CreatedAt     time.Time
}

// Store is the ledger persistence boundary. Every method that mutates more
// than one row runs inside a single transaction: callers never observe
// partial state. Exclusivity between concurrent workers is enforced entirely
// here, through row locks and conditional updates.
type Store interface {
	CreateWallet(ctx context.Context) (Wallet, error)
	Wallet(ctx context.Context, id string) (Wallet, error)
	// DeleteWallet removes a wallet only if nothing references it; it returns
	// ErrWalletHasHistory otherwise.
	DeleteWallet(ctx context.Context, id string) error

	// Deposit locks the wallet row, credits the balance and appends the
	// deposit transaction atomically.
	Deposit(ctx context.Context, walletID string, amount int64) (Transaction, Wallet, error)

	// CreateScheduledWithdrawal inserts a pending withdrawal and raises the
	// wallet's freeze hold by the amount. No balance check happens here;
	// affordability is re-evaluated at execution time.
	CreateScheduledWithdrawal(ctx context.Context, walletID string, amount int64, scheduledFor time.Time) (ScheduledWithdrawal, error)

	// ClaimDueWithdrawals selects pending withdrawals due inside the window
	// (inclusive on both ends), skipping rows already locked by a concurrent
	// sweep, and transitions the claimed set to processing in one short
	// transaction. Returns the claimed ids.
	ClaimDueWithdrawals(ctx context.Context, windowStart, windowEnd time.Time) ([]string, error)

	// WithdrawalInProcessing re-fetches a withdrawal, requiring it to still be
	// in processing status; ErrWithdrawalNotFound otherwise.
	WithdrawalInProcessing(ctx context.Context, id string) (ScheduledWithdrawal, error)

	// DebitForWithdrawal conditionally debits the owning wallet by the
	// withdrawal amount, also releasing the freeze hold, but only when
	// balance >= amount. Returns false (and no mutation) when funds are
	// insufficient at execution time.
	DebitForWithdrawal(ctx context.Context, id string) (bool, error)

	// CompleteWithdrawal appends the withdraw transaction, links it and marks
	// the withdrawal completed, atomically. Money has left the wallet exactly
	// once when this returns.
	CompleteWithdrawal(ctx context.Context, id string) (Transaction, error)

	// ReleaseAndFailWithdrawal marks the withdrawal failed and releases the
	// freeze hold. Used when the conditional debit found insufficient funds:
	// nothing was debited, so nothing is refunded.
	ReleaseAndFailWithdrawal(ctx context.Context, id, message string) error

	// RefundAndFailWithdrawal credits the debited amount back and marks the
	// withdrawal failed. Used when settlement was rejected or errored after a
	// successful debit. No transaction is recorded for the debit/refund pair.
	RefundAndFailWithdrawal(ctx context.Context, id, message string) error

	Transactions(ctx context.Context, walletID string, limit, offset int) ([]Transaction, error)
	Withdrawals(ctx context.Context, walletID string, status WithdrawalStatus, limit, offset int) ([]ScheduledWithdrawal, error)
}
