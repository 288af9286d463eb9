package withdrawal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kita-pay/kita_pay/internal/ledger"
	"github.com/kita-pay/kita_pay/internal/logging"
	"github.com/kita-pay/kita_pay/internal/settlement"
)

type approvingClient struct{}

func (approvingClient) Disburse(context.Context, settlement.Request) (settlement.Result, error) {
	return settlement.Result{Success: true, Detail: `{"data": "success"}`}, nil
}

type decliningClient struct{ detail string }

func (c decliningClient) Disburse(context.Context, settlement.Request) (settlement.Result, error) {
	return settlement.Result{Success: false, Detail: c.detail}, nil
}

type erroringClient struct{}

func (erroringClient) Disburse(context.Context, settlement.Request) (settlement.Result, error) {
	return settlement.Result{}, errors.New("connection refused")
}

func fixedNow() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC)
}

func newFixture(t *testing.T, settler settlement.Client) (*Scheduler, ledger.Store) {
	t.Helper()
	store := ledger.NewInMemory()
	logger := logging.Discard()
	executor := NewExecutor(store, settler, nil, logger, time.Second)
	scheduler := NewScheduler(store, executor, logger, time.Minute)
	scheduler.now = fixedNow
	return scheduler, store
}

func fundedWithdrawal(t *testing.T, store ledger.Store, balance, amount int64, due time.Time) (ledger.Wallet, ledger.ScheduledWithdrawal) {
	t.Helper()
	ctx := context.Background()
	w, err := store.CreateWallet(ctx)
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if balance > 0 {
		if _, _, err := store.Deposit(ctx, w.ID, balance); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	sw, err := store.CreateScheduledWithdrawal(ctx, w.ID, amount, due)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	return w, sw
}

func TestSweepCompletesDueWithdrawal(t *testing.T) {
	scheduler, store := newFixture(t, approvingClient{})
	ctx := context.Background()
	due := time.Date(2024, 5, 1, 12, 0, 45, 0, time.UTC)
	w, _ := fundedWithdrawal(t, store, 1000, 300, due)

	if err := scheduler.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, err := store.Withdrawals(ctx, w.ID, "", 10, 0)
	if err != nil {
		t.Fatalf("list withdrawals: %v", err)
	}
	if len(got) != 1 || got[0].Status != ledger.StatusCompleted {
		t.Fatalf("expected completed withdrawal, got %+v", got)
	}
	if got[0].TransactionID == nil {
		t.Fatal("completed withdrawal must link its transaction")
	}

	wallet, _ := store.Wallet(ctx, w.ID)
	if wallet.Balance != 700 {
		t.Fatalf("expected balance 700, got %d", wallet.Balance)
	}
	if wallet.FreezeAmount != 0 {
		t.Fatalf("expected freeze released, got %d", wallet.FreezeAmount)
	}

	txns, _ := store.Transactions(ctx, w.ID, 10, 0)
	var withdraws int
	for _, txn := range txns {
		if txn.Type == ledger.TypeWithdraw {
			withdraws++
			if txn.ID != *got[0].TransactionID {
				t.Fatalf("linked transaction mismatch: %s vs %s", txn.ID, *got[0].TransactionID)
			}
		}
	}
	if withdraws != 1 {
		t.Fatalf("expected exactly one withdraw transaction, got %d", withdraws)
	}
}

func TestSweepInsufficientFunds(t *testing.T) {
	scheduler, store := newFixture(t, approvingClient{})
	ctx := context.Background()
	due := time.Date(2024, 5, 1, 12, 0, 45, 0, time.UTC)
	w, _ := fundedWithdrawal(t, store, 100, 300, due)

	if err := scheduler.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := store.Withdrawals(ctx, w.ID, ledger.StatusFailed, 10, 0)
	if len(got) != 1 {
		t.Fatalf("expected one failed withdrawal, got %d", len(got))
	}
	if got[0].ErrorMessage == nil || *got[0].ErrorMessage != "Insufficient balance at execution time" {
		t.Fatalf("unexpected error message: %v", got[0].ErrorMessage)
	}

	wallet, _ := store.Wallet(ctx, w.ID)
	if wallet.Balance != 100 {
		t.Fatalf("balance must be untouched, got %d", wallet.Balance)
	}
	if wallet.FreezeAmount != 0 {
		t.Fatalf("freeze must be released, got %d", wallet.FreezeAmount)
	}

	txns, _ := store.Transactions(ctx, w.ID, 10, 0)
	for _, txn := range txns {
		if txn.Type == ledger.TypeWithdraw {
			t.Fatal("failed withdrawal must not record a withdraw transaction")
		}
	}
}

func TestSweepRefundsOnSettlementRejection(t *testing.T) {
	scheduler, store := newFixture(t, decliningClient{detail: `{"data": "declined"}`})
	ctx := context.Background()
	due := time.Date(2024, 5, 1, 12, 0, 45, 0, time.UTC)
	w, _ := fundedWithdrawal(t, store, 1000, 300, due)

	if err := scheduler.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := store.Withdrawals(ctx, w.ID, ledger.StatusFailed, 10, 0)
	if len(got) != 1 {
		t.Fatalf("expected one failed withdrawal, got %d", len(got))
	}
	if got[0].ErrorMessage == nil || !strings.Contains(*got[0].ErrorMessage, "declined") {
		t.Fatalf("failure must record the provider response, got %v", got[0].ErrorMessage)
	}
	if !strings.Contains(*got[0].ErrorMessage, "refunded") {
		t.Fatalf("failure must note the refund, got %v", got[0].ErrorMessage)
	}

	wallet, _ := store.Wallet(ctx, w.ID)
	if wallet.Balance != 1000 {
		t.Fatalf("expected balance restored to 1000, got %d", wallet.Balance)
	}
	if wallet.FreezeAmount != 0 {
		t.Fatalf("expected freeze released, got %d", wallet.FreezeAmount)
	}
}

func TestSweepRefundsOnSettlementError(t *testing.T) {
	scheduler, store := newFixture(t, erroringClient{})
	ctx := context.Background()
	due := time.Date(2024, 5, 1, 12, 0, 45, 0, time.UTC)
	w, _ := fundedWithdrawal(t, store, 1000, 300, due)

	if err := scheduler.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := store.Withdrawals(ctx, w.ID, ledger.StatusFailed, 10, 0)
	if len(got) != 1 {
		t.Fatalf("expected one failed withdrawal, got %d", len(got))
	}

	wallet, _ := store.Wallet(ctx, w.ID)
	if wallet.Balance != 1000 || wallet.FreezeAmount != 0 {
		t.Fatalf("expected full refund, got balance=%d freeze=%d", wallet.Balance, wallet.FreezeAmount)
	}
}

func TestSweepWindowIsInclusive(t *testing.T) {
	scheduler, store := newFixture(t, approvingClient{})
	ctx := context.Background()

	windowStart := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	windowEnd := windowStart.Add(time.Minute)

	_, atStart := fundedWithdrawal(t, store, 1000, 100, windowStart)
	_, atEnd := fundedWithdrawal(t, store, 1000, 100, windowEnd)
	_, before := fundedWithdrawal(t, store, 1000, 100, windowStart.Add(-time.Second))
	_, after := fundedWithdrawal(t, store, 1000, 100, windowEnd.Add(time.Second))

	if err := scheduler.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	status := func(id, walletID string) ledger.WithdrawalStatus {
		t.Helper()
		list, err := store.Withdrawals(ctx, walletID, "", 10, 0)
		if err != nil {
			t.Fatalf("list withdrawals: %v", err)
		}
		for _, w := range list {
			if w.ID == id {
				return w.Status
			}
		}
		t.Fatalf("withdrawal %s not found", id)
		return ""
	}

	if got := status(atStart.ID, atStart.WalletID); got != ledger.StatusCompleted {
		t.Fatalf("window start boundary: expected completed, got %s", got)
	}
	if got := status(atEnd.ID, atEnd.WalletID); got != ledger.StatusCompleted {
		t.Fatalf("window end boundary: expected completed, got %s", got)
	}
	if got := status(before.ID, before.WalletID); got != ledger.StatusPending {
		t.Fatalf("before window: expected pending, got %s", got)
	}
	if got := status(after.ID, after.WalletID); got != ledger.StatusPending {
		t.Fatalf("after window: expected pending, got %s", got)
	}
}

func TestConcurrentSweepsClaimDisjointSets(t *testing.T) {
	store := ledger.NewInMemory()
	ctx := context.Background()
	due := time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC)
	for i := 0; i < 20; i++ {
		fundedWithdrawal(t, store, 1000, 100, due)
	}

	windowStart := due.Truncate(time.Minute)
	windowEnd := windowStart.Add(time.Minute)

	type claim struct {
		ids []string
		err error
	}
	results := make(chan claim, 2)
	for i := 0; i < 2; i++ {
		go func() {
			ids, err := store.ClaimDueWithdrawals(ctx, windowStart, windowEnd)
			results <- claim{ids: ids, err: err}
		}()
	}

	seen := make(map[string]int)
	total := 0
	for i := 0; i < 2; i++ {
		c := <-results
		if c.err != nil {
			t.Fatalf("claim: %v", c.err)
		}
		for _, id := range c.ids {
			seen[id]++
			total++
		}
	}
	if total != 20 {
		t.Fatalf("expected all 20 claimed once across sweeps, got %d", total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("withdrawal %s claimed %d times", id, n)
		}
	}
}

func TestProcessSkipsAlreadyHandled(t *testing.T) {
	scheduler, store := newFixture(t, approvingClient{})
	ctx := context.Background()
	due := time.Date(2024, 5, 1, 12, 0, 45, 0, time.UTC)
	fundedWithdrawal(t, store, 1000, 300, due)

	ids, err := store.ClaimDueWithdrawals(ctx, due.Truncate(time.Minute), due.Truncate(time.Minute).Add(time.Minute))
	if err != nil || len(ids) != 1 {
		t.Fatalf("claim: ids=%v err=%v", ids, err)
	}
	if err := scheduler.executor.Process(ctx, ids[0]); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if err := scheduler.executor.Process(ctx, ids[0]); err != nil {
		t.Fatalf("reprocessing a resolved withdrawal must be a no-op, got %v", err)
	}
}
