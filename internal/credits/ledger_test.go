package credits

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func newTestLedger() *Ledger {
	return NewLedger(NewMemoryStore(), nil)
}

// grant seeds a user with a starting balance.
func grant(t *testing.T, l *Ledger, userID string, amount int64) {
	t.Helper()
	if _, err := l.Add(context.Background(), userID, amount, SourceRegistration, "welcome grant", nil); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
}

func TestLedger_GetBalance_UnknownUser(t *testing.T) {
	l := newTestLedger()

	_, err := l.GetBalance(context.Background(), "nobody")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestLedger_ConsumeAndBalance(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	grant(t, l, "u1", 20)

	txn, err := l.Consume(ctx, "u1", 5, "video generation job-1", map[string]string{MetaJobID: "job-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Type != TypeDebit {
		t.Errorf("expected debit, got %s", txn.Type)
	}
	if txn.BalanceAfter != 15 {
		t.Errorf("expected balance after 15, got %d", txn.BalanceAfter)
	}

	balance, err := l.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 15 {
		t.Errorf("expected balance 15, got %d", balance)
	}
}

func TestLedger_Consume_Insufficient(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	grant(t, l, "u1", 3)

	_, err := l.Consume(ctx, "u1", 5, "video generation job-1", nil)
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	// No partial debit and no transaction recorded.
	balance, _ := l.GetBalance(ctx, "u1")
	if balance != 3 {
		t.Errorf("expected balance unchanged at 3, got %d", balance)
	}
	history, err := l.GetHistory(ctx, "u1", HistoryFilter{Type: TypeDebit}, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if history.Total != 0 {
		t.Errorf("expected no debit transactions, got %d", history.Total)
	}
}

func TestLedger_Consume_InvalidAmount(t *testing.T) {
	l := newTestLedger()
	grant(t, l, "u1", 10)

	for _, amount := range []int64{0, -5} {
		if _, err := l.Consume(context.Background(), "u1", amount, "bad", nil); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestLedger_CheckSufficient(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	grant(t, l, "u1", 10)

	ok, err := l.CheckSufficient(ctx, "u1", 10)
	if err != nil || !ok {
		t.Errorf("expected sufficient for exact balance, got ok=%v err=%v", ok, err)
	}
	ok, err = l.CheckSufficient(ctx, "u1", 11)
	if err != nil || ok {
		t.Errorf("expected insufficient for 11, got ok=%v err=%v", ok, err)
	}
}

func TestLedger_ConcurrentConsume_ExactBalance(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	grant(t, l, "u1", 10)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Consume(ctx, "u1", 10, "race", nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, rejections int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrInsufficientCredits):
			rejections++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || rejections != 1 {
		t.Errorf("expected exactly one success and one rejection, got %d/%d", successes, rejections)
	}

	balance, _ := l.GetBalance(ctx, "u1")
	if balance != 0 {
		t.Errorf("expected final balance 0, got %d", balance)
	}
}

func TestLedger_Replayability(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	grant(t, l, "u1", 50)

	_, _ = l.Consume(ctx, "u1", 10, "job a", map[string]string{MetaJobID: "a"})
	_, _ = l.Add(ctx, "u1", 25, SourcePurchase, "pack", nil)
	_, _ = l.Consume(ctx, "u1", 5, "job b", map[string]string{MetaJobID: "b"})
	_, _ = l.Add(ctx, "u1", 5, SourceRefund, "job b failed", map[string]string{MetaJobID: "b"})

	history, err := l.GetHistory(ctx, "u1", HistoryFilter{}, 1, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Replaying the journal from zero must reproduce the balance.
	var replayed int64
	for _, txn := range history.Transactions {
		switch txn.Type {
		case TypeCredit:
			replayed += txn.Amount
		case TypeDebit:
			replayed -= txn.Amount
		}
	}

	balance, _ := l.GetBalance(ctx, "u1")
	if replayed != balance {
		t.Errorf("replayed balance %d does not match current balance %d", replayed, balance)
	}
	if history.Summary.NetBalance != balance {
		t.Errorf("summary net %d does not match balance %d", history.Summary.NetBalance, balance)
	}
}

func TestLedger_ConsumeForJob_Idempotent(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	grant(t, l, "u1", 20)

	first, err := l.ConsumeForJob(ctx, "u1", 10, "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := l.ConsumeForJob(ctx, "u1", 10, "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.ID != second.ID {
		t.Error("retry produced a second reservation")
	}
	balance, _ := l.GetBalance(ctx, "u1")
	if balance != 10 {
		t.Errorf("expected balance 10 after single debit, got %d", balance)
	}
}

func TestLedger_RefundJob(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	grant(t, l, "u1", 20)

	if _, err := l.ConsumeForJob(ctx, "u1", 10, "job-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	refund, err := l.RefundJob(ctx, "u1", "job-1", "voice generation failed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refund.Amount != 10 {
		t.Errorf("expected refund of 10, got %d", refund.Amount)
	}

	balance, _ := l.GetBalance(ctx, "u1")
	if balance != 20 {
		t.Errorf("expected balance restored to 20, got %d", balance)
	}

	// Second refund must be a no-op reported as ErrAlreadyRefunded.
	again, err := l.RefundJob(ctx, "u1", "job-1", "poller sweep")
	if !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("expected ErrAlreadyRefunded, got %v", err)
	}
	if again.ID != refund.ID {
		t.Error("second refund returned a different transaction")
	}
	if !IsRefunded(err) {
		t.Error("IsRefunded should accept ErrAlreadyRefunded")
	}

	balance, _ = l.GetBalance(ctx, "u1")
	if balance != 20 {
		t.Errorf("double refund changed balance to %d", balance)
	}
}

func TestLedger_ConcurrentRefund_ExactlyOnce(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	grant(t, l, "u1", 100)

	if _, err := l.ConsumeForJob(ctx, "u1", 10, "job-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A pipeline failure and the poller sweep can refund the same job
	// at the same moment. Release both from a barrier so they overlap.
	start := make(chan struct{})
	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := l.RefundJob(ctx, "u1", "job-1", "timed out")
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var fresh, repeats int
	for err := range results {
		switch {
		case err == nil:
			fresh++
		case errors.Is(err, ErrAlreadyRefunded):
			repeats++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if fresh != 1 || repeats != 1 {
		t.Errorf("expected one fresh refund and one ErrAlreadyRefunded, got %d/%d", fresh, repeats)
	}

	balance, _ := l.GetBalance(ctx, "u1")
	if balance != 100 {
		t.Errorf("double refund, balance=%d (want 100)", balance)
	}
	history, err := l.GetHistory(ctx, "u1", HistoryFilter{Source: SourceRefund}, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if history.Total != 1 {
		t.Errorf("expected exactly one refund transaction, got %d", history.Total)
	}
}

func TestLedger_ConcurrentConsumeForJob_SingleDebit(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	grant(t, l, "u1", 100)

	start := make(chan struct{})
	txns := make(chan Transaction, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			txn, err := l.ConsumeForJob(ctx, "u1", 10, "job-1")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			txns <- txn
		}()
	}
	close(start)
	wg.Wait()
	close(txns)

	seen := map[string]bool{}
	for txn := range txns {
		seen[txn.ID] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected both callers to see the same reservation, got %d distinct", len(seen))
	}

	balance, _ := l.GetBalance(ctx, "u1")
	if balance != 90 {
		t.Errorf("expected single debit leaving 90, got %d", balance)
	}
}

func TestLedger_RefundJob_NoReservation(t *testing.T) {
	l := newTestLedger()
	grant(t, l, "u1", 20)

	_, err := l.RefundJob(context.Background(), "u1", "job-unknown", "sweep")
	if !errors.Is(err, ErrNoReservation) {
		t.Fatalf("expected ErrNoReservation, got %v", err)
	}
}

func TestLedger_GetHistory_FiltersAndPaging(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	grant(t, l, "u1", 100)

	for i := 0; i < 5; i++ {
		if _, err := l.Consume(ctx, "u1", 2, "job", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	history, err := l.GetHistory(ctx, "u1", HistoryFilter{Type: TypeDebit}, 1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if history.Total != 5 {
		t.Errorf("expected 5 debits, got %d", history.Total)
	}
	if len(history.Transactions) != 3 {
		t.Errorf("expected page of 3, got %d", len(history.Transactions))
	}
	if history.Summary.TotalDebits != 10 {
		t.Errorf("expected total debits 10, got %d", history.Summary.TotalDebits)
	}

	page2, err := l.GetHistory(ctx, "u1", HistoryFilter{Type: TypeDebit}, 2, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page2.Transactions) != 2 {
		t.Errorf("expected 2 items on page 2, got %d", len(page2.Transactions))
	}
}
