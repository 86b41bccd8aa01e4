package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Ledger exposes the credit operations used by the HTTP layer and the
// generation pipeline. All mutations go through the underlying Store's
// atomic Apply.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

// NewLedger creates a Ledger backed by the given store.
func NewLedger(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger}
}

// GetBalance returns the user's current balance.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	return l.store.Balance(ctx, userID)
}

// CheckSufficient reports whether the user's balance covers amount.
// It is a read-only precondition check, not a reservation: a
// concurrent debit may still win the race, which Consume handles.
func (l *Ledger) CheckSufficient(ctx context.Context, userID string, amount int64) (bool, error) {
	balance, err := l.store.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// Consume atomically debits amount from the user's balance and appends
// a debit transaction. Fails with ErrInsufficientCredits when the
// balance does not cover amount; nothing is recorded in that case.
func (l *Ledger) Consume(ctx context.Context, userID string, amount int64, reason string, metadata map[string]string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}

	txn := Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		Type:      TypeDebit,
		Source:    SourceVideoGeneration,
		Reason:    reason,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	applied, err := l.store.Apply(ctx, userID, -amount, txn)
	if err != nil {
		return Transaction{}, err
	}

	l.logger.Info("credits consumed",
		slog.String("user_id", userID),
		slog.Int64("amount", amount),
		slog.Int64("balance_after", applied.BalanceAfter),
	)
	return applied, nil
}

// Add atomically credits amount to the user's balance and appends a
// credit transaction. Creates the account on first credit, which is
// how registration grants bootstrap a balance.
func (l *Ledger) Add(ctx context.Context, userID string, amount int64, source Source, reason string, metadata map[string]string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}
	if !source.IsValid() {
		return Transaction{}, fmt.Errorf("credits: unknown source %q", source)
	}

	txn := Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		Type:      TypeCredit,
		Source:    source,
		Reason:    reason,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	applied, err := l.store.Apply(ctx, userID, amount, txn)
	if err != nil {
		return Transaction{}, err
	}

	l.logger.Info("credits added",
		slog.String("user_id", userID),
		slog.Int64("amount", amount),
		slog.String("source", string(source)),
		slog.Int64("balance_after", applied.BalanceAfter),
	)
	return applied, nil
}

// ConsumeForJob reserves amount for the given generation job. A retry
// of the same job never produces a second debit: the store applies the
// debit and the per-job uniqueness check as one atomic unit, and an
// existing reservation is returned as-is.
func (l *Ledger) ConsumeForJob(ctx context.Context, userID string, amount int64, jobID string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}

	txn := Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		Type:      TypeDebit,
		Source:    SourceVideoGeneration,
		Reason:    fmt.Sprintf("video generation %s", jobID),
		Metadata:  map[string]string{MetaJobID: jobID},
		CreatedAt: time.Now().UTC(),
	}

	applied, fresh, err := l.store.ApplyJobOnce(ctx, userID, -amount, txn)
	if err != nil {
		return Transaction{}, err
	}
	if !fresh {
		l.logger.Info("reservation already exists, skipping debit",
			slog.String("user_id", userID),
			slog.String("job_id", jobID),
		)
		return applied, nil
	}

	l.logger.Info("credits consumed",
		slog.String("user_id", userID),
		slog.String("job_id", jobID),
		slog.Int64("amount", amount),
		slog.Int64("balance_after", applied.BalanceAfter),
	)
	return applied, nil
}

// RefundJob credits back the full reservation for a failed job.
// Exactly-once per job id: the refund and the already-refunded check
// are one atomic store operation, so concurrent refunders (a pipeline
// failure racing the poller sweep or a user cancel) settle to a single
// refund transaction. The loser receives the existing transaction with
// ErrAlreadyRefunded, which callers treat as success. Returns
// ErrNoReservation when the job never debited.
func (l *Ledger) RefundJob(ctx context.Context, userID, jobID, reason string) (Transaction, error) {
	// Reservations are immutable once written, so this lookup cannot
	// race the refund below.
	reservation, err := l.store.FindJobTransaction(ctx, userID, jobID, TypeDebit, SourceVideoGeneration)
	if err != nil {
		return Transaction{}, err
	}
	if reservation == nil {
		return Transaction{}, ErrNoReservation
	}

	txn := Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    reservation.Amount,
		Type:      TypeCredit,
		Source:    SourceRefund,
		Reason:    reason,
		Metadata:  map[string]string{MetaJobID: jobID},
		CreatedAt: time.Now().UTC(),
	}

	applied, fresh, err := l.store.ApplyJobOnce(ctx, userID, reservation.Amount, txn)
	if err != nil {
		return Transaction{}, err
	}
	if !fresh {
		return applied, ErrAlreadyRefunded
	}

	l.logger.Info("credits refunded",
		slog.String("user_id", userID),
		slog.String("job_id", jobID),
		slog.Int64("amount", applied.Amount),
		slog.Int64("balance_after", applied.BalanceAfter),
	)
	return applied, nil
}

// GetHistory returns a filtered, paginated transaction history.
func (l *Ledger) GetHistory(ctx context.Context, userID string, filter HistoryFilter, page, limit int) (History, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return l.store.History(ctx, userID, filter, page, limit)
}

// IsRefunded reports whether err signals a refund that already
// happened, which callers treat the same as a fresh refund.
func IsRefunded(err error) bool {
	return err == nil || errors.Is(err, ErrAlreadyRefunded)
}
