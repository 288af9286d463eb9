package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemoryStore struct {
	mu          sync.Mutex
	wallets     map[string]*Wallet
	txns        map[string]Transaction
	withdrawals map[string]*ScheduledWithdrawal
}

// NewInMemory creates a concurrency-safe in-memory store. It backs unit tests
// and the dev mode that runs without a database; the mutex stands in for the
// row locks Postgres provides.
func NewInMemory() Store {
	return &inMemoryStore{
		wallets:     make(map[string]*Wallet),
		txns:        make(map[string]Transaction),
		withdrawals: make(map[string]*ScheduledWithdrawal),
	}
}

func (s *inMemoryStore) CreateWallet(_ context.Context) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &Wallet{ID: uuid.NewString(), CreatedAt: time.Now().UTC()}
	s.wallets[w.ID] = w
	return *w, nil
}

func (s *inMemoryStore) Wallet(_ context.Context, id string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return *w, nil
}

func (s *inMemoryStore) DeleteWallet(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[id]; !ok {
		return ErrWalletNotFound
	}
	for _, t := range s.txns {
		if t.WalletID == id {
			return ErrWalletHasHistory
		}
	}
	for _, w := range s.withdrawals {
		if w.WalletID == id {
			return ErrWalletHasHistory
		}
	}
	delete(s.wallets, id)
	return nil
}

func (s *inMemoryStore) Deposit(_ context.Context, walletID string, amount int64) (Transaction, Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return Transaction{}, Wallet{}, ErrWalletNotFound
	}
	w.Balance += amount
	txn := Transaction{
		ID:        uuid.NewString(),
		WalletID:  walletID,
		Amount:    amount,
		Type:      TypeDeposit,
		CreatedAt: time.Now().UTC(),
	}
	s.txns[txn.ID] = txn
	return txn, *w, nil
}

func (s *inMemoryStore) CreateScheduledWithdrawal(_ context.Context, walletID string, amount int64, scheduledFor time.Time) (ScheduledWithdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return ScheduledWithdrawal{}, ErrWalletNotFound
	}
	w.FreezeAmount += amount
	sw := &ScheduledWithdrawal{
		ID:           uuid.NewString(),
		WalletID:     walletID,
		Amount:       amount,
		ScheduledFor: scheduledFor.UTC(),
		Status:       StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	s.withdrawals[sw.ID] = sw
	return *sw, nil
}

func (s *inMemoryStore) ClaimDueWithdrawals(_ context.Context, windowStart, windowEnd time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, w := range s.withdrawals {
		if w.Status != StatusPending {
			continue
		}
		if w.ScheduledFor.Before(windowStart.UTC()) || w.ScheduledFor.After(windowEnd.UTC()) {
			continue
		}
		w.Status = StatusProcessing
		ids = append(ids, w.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *inMemoryStore) WithdrawalInProcessing(_ context.Context, id string) (ScheduledWithdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok || w.Status != StatusProcessing {
		return ScheduledWithdrawal{}, ErrWithdrawalNotFound
	}
	return *w, nil
}

func (s *inMemoryStore) DebitForWithdrawal(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wd, ok := s.withdrawals[id]
	if !ok || wd.Status != StatusProcessing {
		return false, ErrWithdrawalNotFound
	}
	w, ok := s.wallets[wd.WalletID]
	if !ok {
		return false, ErrWalletNotFound
	}
	if w.Balance < wd.Amount {
		return false, nil
	}
	w.Balance -= wd.Amount
	w.FreezeAmount -= wd.Amount
	if w.FreezeAmount < 0 {
		w.FreezeAmount = 0
	}
	return true, nil
}

func (s *inMemoryStore) CompleteWithdrawal(_ context.Context, id string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wd, ok := s.withdrawals[id]
	if !ok || wd.Status != StatusProcessing {
		return Transaction{}, ErrWithdrawalNotFound
	}
	txn := Transaction{
		ID:        uuid.NewString(),
		WalletID:  wd.WalletID,
		Amount:    wd.Amount,
		Type:      TypeWithdraw,
		CreatedAt: time.Now().UTC(),
	}
	s.txns[txn.ID] = txn
	wd.Status = StatusCompleted
	txnID := txn.ID
	wd.TransactionID = &txnID
	return txn, nil
}

func (s *inMemoryStore) ReleaseAndFailWithdrawal(_ context.Context, id, message string) error {
	return s.fail(id, message, false)
}

func (s *inMemoryStore) RefundAndFailWithdrawal(_ context.Context, id, message string) error {
	return s.fail(id, message, true)
}

func (s *inMemoryStore) fail(id, message string, refund bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wd, ok := s.withdrawals[id]
	if !ok || wd.Status != StatusProcessing {
		return ErrWithdrawalNotFound
	}
	w, ok := s.wallets[wd.WalletID]
	if !ok {
		return ErrWalletNotFound
	}
	if refund {
		w.Balance += wd.Amount
	} else {
		w.FreezeAmount -= wd.Amount
		if w.FreezeAmount < 0 {
			w.FreezeAmount = 0
		}
	}
	wd.Status = StatusFailed
	wd.ErrorMessage = &message
	return nil
}

func (s *inMemoryStore) Transactions(_ context.Context, walletID string, limit, offset int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[walletID]; !ok {
		return nil, ErrWalletNotFound
	}
	var out []Transaction
	for _, t := range s.txns {
		if t.WalletID == walletID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

func (s *inMemoryStore) Withdrawals(_ context.Context, walletID string, status WithdrawalStatus, limit, offset int) ([]ScheduledWithdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[walletID]; !ok {
		return nil, ErrWalletNotFound
	}
	var out []ScheduledWithdrawal
	for _, w := range s.withdrawals {
		if w.WalletID != walletID {
			continue
		}
		if status != "" && w.Status != status {
			continue
		}
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.After(out[j].ScheduledFor) })
	return paginate(out, limit, offset), nil
}

func paginate[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
