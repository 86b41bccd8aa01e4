// Package credits implements the credit ledger: the single source of
// truth for per-user generation credit balances. Every balance change
// goes through the ledger and appends an immutable transaction record,
// so replaying a user's transaction log from zero reproduces the
// current balance exactly.
package credits

import (
	"context"
	"errors"
	"time"
)

// Static errors for ledger operations.
var (
	// ErrUserNotFound is returned when no account exists for the user.
	ErrUserNotFound = errors.New("credits: user not found")
	// ErrInsufficientCredits is returned when a debit would drive the
	// balance negative. This is an expected business outcome, not an
	// internal failure; callers branch on it with errors.Is.
	ErrInsufficientCredits = errors.New("credits: insufficient credits")
	// ErrInvalidAmount is returned when a mutation amount is not positive.
	ErrInvalidAmount = errors.New("credits: amount must be positive")
	// ErrAlreadyRefunded is returned by RefundJob when a refund for the
	// job already exists. Callers treat it as success.
	ErrAlreadyRefunded = errors.New("credits: job already refunded")
	// ErrNoReservation is returned by RefundJob when no debit exists
	// for the job, so there is nothing to refund.
	ErrNoReservation = errors.New("credits: no reservation for job")
)

// Type distinguishes balance-increasing from balance-decreasing
// transactions.
type Type string

const (
	// TypeCredit increases the balance.
	TypeCredit Type = "credit"
	// TypeDebit decreases the balance.
	TypeDebit Type = "debit"
)

// Source identifies why a transaction was created.
type Source string

// Transaction sources.
const (
	SourceRegistration    Source = "registration"
	SourcePurchase        Source = "purchase"
	SourceVideoGeneration Source = "video_generation"
	SourceAdmin           Source = "admin"
	SourceRefund          Source = "refund"
	SourceBonus           Source = "bonus"
)

// IsValid returns true if the source is one of the known values.
func (s Source) IsValid() bool {
	switch s {
	case SourceRegistration, SourcePurchase, SourceVideoGeneration,
		SourceAdmin, SourceRefund, SourceBonus:
		return true
	default:
		return false
	}
}

// MetaJobID is the metadata key carrying the generation job id.
// Reservation and refund idempotency are keyed on it.
const MetaJobID = "job_id"

// Transaction is one append-only ledger entry. Amount is always
// positive; Type carries the direction.
type Transaction struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	Amount       int64             `json:"amount"`
	Type         Type              `json:"type"`
	Source       Source            `json:"source"`
	Reason       string            `json:"reason"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	BalanceAfter int64             `json:"balanceAfter"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// HistoryFilter narrows GetHistory results. Zero values mean no filter.
type HistoryFilter struct {
	Type   Type
	Source Source
	From   time.Time
	To     time.Time
}

// Summary aggregates a user's transaction history.
type Summary struct {
	TotalCredits int64 `json:"totalCredits"`
	TotalDebits  int64 `json:"totalDebits"`
	NetBalance   int64 `json:"netBalance"`
}

// History is a page of transactions plus aggregate totals.
type History struct {
	Transactions []Transaction `json:"transactions"`
	Total        int           `json:"total"`
	Page         int           `json:"page"`
	Limit        int           `json:"limit"`
	Summary      Summary       `json:"summary"`
}

// Store defines the persistence port for the ledger. Implementations
// must apply the balance update and the transaction append as a single
// atomic unit: partial application is a correctness violation.
type Store interface {
	// Balance returns the current balance for the user.
	// Returns ErrUserNotFound if no account exists.
	Balance(ctx context.Context, userID string) (int64, error)

	// Apply atomically applies a signed delta to the user's balance and
	// appends txn with BalanceAfter set to the post-delta balance.
	// A negative delta that would drive the balance below zero fails
	// with ErrInsufficientCredits and leaves no trace. A positive delta
	// creates the account if it does not exist yet.
	Apply(ctx context.Context, userID string, delta int64, txn Transaction) (Transaction, error)

	// ApplyJobOnce is Apply guarded by job-scoped uniqueness: when the
	// user already has a transaction with txn's type, source and
	// metadata job_id, the existing transaction is returned with
	// applied=false and the balance is untouched. The uniqueness check
	// and the mutation happen in one atomic unit, so two concurrent
	// callers for the same job cannot both apply.
	ApplyJobOnce(ctx context.Context, userID string, delta int64, txn Transaction) (applied Transaction, fresh bool, err error)

	// FindJobTransaction returns the first transaction for the user
	// matching the given type and source whose metadata job_id equals
	// jobID, or nil if none exists.
	FindJobTransaction(ctx context.Context, userID, jobID string, typ Type, source Source) (*Transaction, error)

	// History returns a filtered, paginated view of the user's
	// transactions plus aggregate totals.
	History(ctx context.Context, userID string, filter HistoryFilter, page, limit int) (History, error)
}
