package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the ledger in PostgreSQL. Row-level locking and
// conditional updates provide all cross-worker exclusivity.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateWallet inserts an empty wallet.
func (s *PostgresStore) CreateWallet(ctx context.Context) (Wallet, error) {
	id := uuid.New()
	row := s.db.QueryRow(ctx, `INSERT INTO wallets (id) VALUES ($1)
        RETURNING id, balance, freeze_amount, created_at`, id)
	return scanWallet(row)
}

// Wallet fetches a wallet by identifier.
func (s *PostgresStore) Wallet(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT id, balance, freeze_amount, created_at
        FROM wallets WHERE id = $1`, walletID)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrWalletNotFound
	}
	return w, err
}

// DeleteWallet removes a wallet, relying on the RESTRICT foreign keys to
// reject deletion while transactions or withdrawals still reference it.
func (s *PostgresStore) DeleteWallet(ctx context.Context, id string) error {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return ErrWalletNotFound
	}
	cmd, err := s.db.Exec(ctx, `DELETE FROM wallets WHERE id = $1`, walletID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrWalletHasHistory
		}
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// Deposit credits the wallet and appends the deposit transaction in one
// transaction, holding the wallet row lock for its duration.
func (s *PostgresStore) Deposit(ctx context.Context, walletID string, amount int64) (Transaction, Wallet, error) {
	wid, err := uuid.Parse(walletID)
	if err != nil {
		return Transaction{}, Wallet{}, ErrWalletNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, Wallet{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := lockWallet(ctx, tx, wid); err != nil {
		return Transaction{}, Wallet{}, err
	}

	row := tx.QueryRow(ctx, `UPDATE wallets
        SET balance = balance + $2, updated_at = now()
        WHERE id = $1
        RETURNING id, balance, freeze_amount, created_at`, wid, amount)
	w, err := scanWallet(row)
	if err != nil {
		return Transaction{}, Wallet{}, err
	}

	txn, err := insertTransaction(ctx, tx, wid, amount, TypeDeposit)
	if err != nil {
		return Transaction{}, Wallet{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, Wallet{}, err
	}
	return txn, w, nil
}

// CreateScheduledWithdrawal records withdrawal intent and raises the freeze
// hold. The hold uses an unconditional atomic increment, so scheduling never
// waits on the wallet row lock.
func (s *PostgresStore) CreateScheduledWithdrawal(ctx context.Context, walletID string, amount int64, scheduledFor time.Time) (ScheduledWithdrawal, error) {
	wid, err := uuid.Parse(walletID)
	if err != nil {
		return ScheduledWithdrawal{}, ErrWalletNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ScheduledWithdrawal{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	cmd, err := tx.Exec(ctx, `UPDATE wallets
        SET freeze_amount = freeze_amount + $2, updated_at = now()
        WHERE id = $1`, wid, amount)
	if err != nil {
		return ScheduledWithdrawal{}, err
	}
	if cmd.RowsAffected() == 0 {
		return ScheduledWithdrawal{}, ErrWalletNotFound
	}

	id := uuid.New()
	var createdAt time.Time
	if err := tx.QueryRow(ctx, `INSERT INTO scheduled_withdrawals (id, wallet_id, amount, scheduled_for, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING created_at`, id, wid, amount, scheduledFor.UTC(), StatusPending).Scan(&createdAt); err != nil {
		return ScheduledWithdrawal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ScheduledWithdrawal{}, err
	}

	return ScheduledWithdrawal{
		ID:           id.String(),
		WalletID:     walletID,
		Amount:       amount,
		ScheduledFor: scheduledFor.UTC(),
		Status:       StatusPending,
		CreatedAt:    createdAt.UTC(),
	}, nil
}

// ClaimDueWithdrawals locks and claims the due pending set without blocking
// on rows a concurrent sweep already holds, so overlapping sweeps partition
// the work instead of serializing.
func (s *PostgresStore) ClaimDueWithdrawals(ctx context.Context, windowStart, windowEnd time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	rows, err := tx.Query(ctx, `SELECT id FROM scheduled_withdrawals
        WHERE status = $1 AND scheduled_for >= $2 AND scheduled_for <= $3
        FOR UPDATE SKIP LOCKED`, StatusPending, windowStart.UTC(), windowEnd.UTC())
	if err != nil {
		return nil, err
	}

	var claimed []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(claimed) == 0 {
		return nil, tx.Commit(ctx)
	}

	for _, id := range claimed {
		if _, err := tx.Exec(ctx, `UPDATE scheduled_withdrawals
            SET status = $2, updated_at = now()
            WHERE id = $1`, id, StatusProcessing); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	ids := make([]string, len(claimed))
	for i, id := range claimed {
		ids[i] = id.String()
	}
	return ids, nil
}

// WithdrawalInProcessing fetches a withdrawal only while it is in processing.
func (s *PostgresStore) WithdrawalInProcessing(ctx context.Context, id string) (ScheduledWithdrawal, error) {
	wid, err := uuid.Parse(id)
	if err != nil {
		return ScheduledWithdrawal{}, ErrWithdrawalNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT id, wallet_id, amount, scheduled_for, status, transaction_id, error_message, created_at
        FROM scheduled_withdrawals WHERE id = $1 AND status = $2`, wid, StatusProcessing)
	w, err := scanWithdrawal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ScheduledWithdrawal{}, ErrWithdrawalNotFound
	}
	return w, err
}

// DebitForWithdrawal performs the conditional debit: balance and freeze hold
// both drop by the amount, but only when the balance covers it. Zero rows
// affected means insufficient funds at execution time.
func (s *PostgresStore) DebitForWithdrawal(ctx context.Context, id string) (bool, error) {
	wid, err := uuid.Parse(id)
	if err != nil {
		return false, ErrWithdrawalNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	walletID, amount, err := withdrawalTarget(ctx, tx, wid)
	if err != nil {
		return false, err
	}

	cmd, err := tx.Exec(ctx, `UPDATE wallets
        SET balance = balance - $2,
            freeze_amount = GREATEST(freeze_amount - $2, 0),
            updated_at = now()
        WHERE id = $1 AND balance >= $2`, walletID, amount)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// CompleteWithdrawal writes the withdraw transaction and resolves the
// withdrawal to completed in a single transaction.
func (s *PostgresStore) CompleteWithdrawal(ctx context.Context, id string) (Transaction, error) {
	wid, err := uuid.Parse(id)
	if err != nil {
		return Transaction{}, ErrWithdrawalNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	walletID, amount, err := withdrawalTarget(ctx, tx, wid)
	if err != nil {
		return Transaction{}, err
	}

	txn, err := insertTransaction(ctx, tx, walletID, amount, TypeWithdraw)
	if err != nil {
		return Transaction{}, err
	}

	if _, err := tx.Exec(ctx, `UPDATE scheduled_withdrawals
        SET status = $2, transaction_id = $3, updated_at = now()
        WHERE id = $1`, wid, StatusCompleted, txn.ID); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

// ReleaseAndFailWithdrawal resolves to failed after an insufficient-funds
// debit, dropping the freeze hold. The balance never moved, so it stays put.
func (s *PostgresStore) ReleaseAndFailWithdrawal(ctx context.Context, id, message string) error {
	return s.failWithdrawal(ctx, id, message, false)
}

// RefundAndFailWithdrawal resolves to failed after a settlement failure,
// crediting the debited amount back to the wallet.
func (s *PostgresStore) RefundAndFailWithdrawal(ctx context.Context, id, message string) error {
	return s.failWithdrawal(ctx, id, message, true)
}

func (s *PostgresStore) failWithdrawal(ctx context.Context, id, message string, refund bool) error {
	wid, err := uuid.Parse(id)
	if err != nil {
		return ErrWithdrawalNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	walletID, amount, err := withdrawalTarget(ctx, tx, wid)
	if err != nil {
		return err
	}

	if refund {
		_, err = tx.Exec(ctx, `UPDATE wallets
            SET balance = balance + $2, updated_at = now()
            WHERE id = $1`, walletID, amount)
	} else {
		_, err = tx.Exec(ctx, `UPDATE wallets
            SET freeze_amount = GREATEST(freeze_amount - $2, 0), updated_at = now()
            WHERE id = $1`, walletID, amount)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE scheduled_withdrawals
        SET status = $2, error_message = $3, updated_at = now()
        WHERE id = $1`, wid, StatusFailed, message); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Transactions lists a wallet's ledger entries, newest first.
func (s *PostgresStore) Transactions(ctx context.Context, walletID string, limit, offset int) ([]Transaction, error) {
	wid, err := uuid.Parse(walletID)
	if err != nil {
		return nil, ErrWalletNotFound
	}
	rows, err := s.db.Query(ctx, `SELECT id, wallet_id, amount, type, created_at
        FROM transactions WHERE wallet_id = $1
        ORDER BY created_at DESC LIMIT $2 OFFSET $3`, wid, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var id, w uuid.UUID
		var createdAt time.Time
		if err := rows.Scan(&id, &w, &t.Amount, &t.Type, &createdAt); err != nil {
			return nil, err
		}
		t.ID = id.String()
		t.WalletID = w.String()
		t.CreatedAt = createdAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// Withdrawals lists a wallet's scheduled withdrawals, optionally filtered by
// status, newest schedule first.
func (s *PostgresStore) Withdrawals(ctx context.Context, walletID string, status WithdrawalStatus, limit, offset int) ([]ScheduledWithdrawal, error) {
	wid, err := uuid.Parse(walletID)
	if err != nil {
		return nil, ErrWalletNotFound
	}

	query := `SELECT id, wallet_id, amount, scheduled_for, status, transaction_id, error_message, created_at
        FROM scheduled_withdrawals WHERE wallet_id = $1`
	args := []any{wid}
	if status != "" {
		query += ` AND status = $2 ORDER BY scheduled_for DESC LIMIT $3 OFFSET $4`
		args = append(args, status, limit, offset)
	} else {
		query += ` ORDER BY scheduled_for DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledWithdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func lockWallet(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var locked uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrWalletNotFound
		}
		return err
	}
	return nil
}

// withdrawalTarget locks the processing withdrawal row and returns the wallet
// and amount it targets.
func withdrawalTarget(ctx context.Context, tx pgx.Tx, id uuid.UUID) (uuid.UUID, int64, error) {
	var walletID uuid.UUID
	var amount int64
	err := tx.QueryRow(ctx, `SELECT wallet_id, amount FROM scheduled_withdrawals
        WHERE id = $1 AND status = $2 FOR UPDATE`, id, StatusProcessing).Scan(&walletID, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, 0, ErrWithdrawalNotFound
		}
		return uuid.Nil, 0, err
	}
	return walletID, amount, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amount int64, kind TransactionType) (Transaction, error) {
	id := uuid.New()
	var createdAt time.Time
	if err := tx.QueryRow(ctx, `INSERT INTO transactions (id, wallet_id, amount, type)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at`, id, walletID, amount, kind).Scan(&createdAt); err != nil {
		return Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return Transaction{
		ID:        id.String(),
		WalletID:  walletID.String(),
		Amount:    amount,
		Type:      kind,
		CreatedAt: createdAt.UTC(),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (Wallet, error) {
	var w Wallet
	var id uuid.UUID
	var createdAt time.Time
	if err := row.Scan(&id, &w.Balance, &w.FreezeAmount, &createdAt); err != nil {
		return Wallet{}, err
	}
	w.ID = id.String()
	w.CreatedAt = createdAt.UTC()
	return w, nil
}

func scanWithdrawal(row rowScanner) (ScheduledWithdrawal, error) {
	var w ScheduledWithdrawal
	var id, walletID uuid.UUID
	var txnID *uuid.UUID
	var scheduledFor, createdAt time.Time
	if err := row.Scan(&id, &walletID, &w.Amount, &scheduledFor, &w.Status, &txnID, &w.ErrorMessage, &createdAt); err != nil {
		return ScheduledWithdrawal{}, err
	}
	w.ID = id.String()
	w.WalletID = walletID.String()
	w.ScheduledFor = scheduledFor.UTC()
	w.CreatedAt = createdAt.UTC()
	if txnID != nil {
		s := txnID.String()
		w.TransactionID = &s
	}
	return w, nil
}
