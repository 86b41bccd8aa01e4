package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists the ledger in Postgres. The balance update
// and the transaction append happen inside one pgx transaction with a
// FOR UPDATE row lock, so concurrent debits for the same user are
// serialized and partial application cannot be observed.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the ledger tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS credit_accounts (
			user_id    TEXT PRIMARY KEY,
			balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS credit_transactions (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL REFERENCES credit_accounts(user_id),
			amount        BIGINT NOT NULL CHECK (amount > 0),
			type          TEXT NOT NULL,
			source        TEXT NOT NULL,
			reason        TEXT NOT NULL DEFAULT '',
			metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
			balance_after BIGINT NOT NULL CHECK (balance_after >= 0),
			created_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_credit_transactions_user
			ON credit_transactions (user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_credit_transactions_job
			ON credit_transactions (user_id, type, source, (metadata->>'job_id'));
	`)
	if err != nil {
		return fmt.Errorf("credits: ensure schema: %w", err)
	}
	return nil
}

// Balance returns the current balance for the user.
func (s *PostgresStore) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		"SELECT balance FROM credit_accounts WHERE user_id = $1", userID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("credits: query balance: %w", err)
	}
	return balance, nil
}

// Apply atomically applies delta to the balance and appends txn.
func (s *PostgresStore) Apply(ctx context.Context, userID string, delta int64, txn Transaction) (Transaction, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Transaction{}, fmt.Errorf("credits: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	balance, err := s.lockBalance(ctx, tx, userID, delta)
	if err != nil {
		return Transaction{}, err
	}

	applied, err := s.writeEntry(ctx, tx, userID, balance, delta, txn)
	if err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("credits: commit: %w", err)
	}
	return applied, nil
}

// ApplyJobOnce applies delta unless a job transaction with txn's type,
// source and metadata job_id already exists. The existence check runs
// inside the same transaction as the mutation, after the account row
// is locked, so concurrent callers for the same job are serialized and
// at most one of them applies.
func (s *PostgresStore) ApplyJobOnce(ctx context.Context, userID string, delta int64, txn Transaction) (Transaction, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Transaction{}, false, fmt.Errorf("credits: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	balance, err := s.lockBalance(ctx, tx, userID, delta)
	if err != nil {
		return Transaction{}, false, err
	}

	existing, err := findJobTxn(ctx, tx, userID, txn.Metadata[MetaJobID], txn.Type, txn.Source)
	if err != nil {
		return Transaction{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	applied, err := s.writeEntry(ctx, tx, userID, balance, delta, txn)
	if err != nil {
		return Transaction{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, false, fmt.Errorf("credits: commit: %w", err)
	}
	return applied, true, nil
}

// lockBalance takes the account row lock and returns the balance.
// Positive deltas create the account on first use.
func (s *PostgresStore) lockBalance(ctx context.Context, tx pgx.Tx, userID string, delta int64) (int64, error) {
	if delta > 0 {
		if _, err := tx.Exec(ctx,
			"INSERT INTO credit_accounts (user_id, balance) VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING",
			userID,
		); err != nil {
			return 0, fmt.Errorf("credits: ensure account: %w", err)
		}
	}

	var balance int64
	err := tx.QueryRow(ctx,
		"SELECT balance FROM credit_accounts WHERE user_id = $1 FOR UPDATE", userID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("credits: lock account: %w", err)
	}
	return balance, nil
}

// writeEntry updates the balance and appends the transaction inside tx.
func (s *PostgresStore) writeEntry(ctx context.Context, tx pgx.Tx, userID string, balance, delta int64, txn Transaction) (Transaction, error) {
	next := balance + delta
	if next < 0 {
		return Transaction{}, ErrInsufficientCredits
	}

	if _, err := tx.Exec(ctx,
		"UPDATE credit_accounts SET balance = $1 WHERE user_id = $2",
		next, userID,
	); err != nil {
		return Transaction{}, fmt.Errorf("credits: update balance: %w", err)
	}

	txn.BalanceAfter = next
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	metadata := txn.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_transactions
			(id, user_id, amount, type, source, reason, metadata, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		txn.ID, txn.UserID, txn.Amount, txn.Type, txn.Source,
		txn.Reason, metadata, txn.BalanceAfter, txn.CreatedAt,
	); err != nil {
		return Transaction{}, fmt.Errorf("credits: append transaction: %w", err)
	}
	return txn, nil
}

// rowQuerier is satisfied by both the pool and an open transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// FindJobTransaction returns the first transaction matching type,
// source and metadata job_id, or nil when none exists.
func (s *PostgresStore) FindJobTransaction(ctx context.Context, userID, jobID string, typ Type, source Source) (*Transaction, error) {
	return findJobTxn(ctx, s.pool, userID, jobID, typ, source)
}

func findJobTxn(ctx context.Context, q rowQuerier, userID, jobID string, typ Type, source Source) (*Transaction, error) {
	row := q.QueryRow(ctx, `
		SELECT id, user_id, amount, type, source, reason, metadata, balance_after, created_at
		FROM credit_transactions
		WHERE user_id = $1 AND type = $2 AND source = $3 AND metadata->>'job_id' = $4
		ORDER BY created_at ASC
		LIMIT 1`,
		userID, typ, source, jobID,
	)

	txn, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credits: find job transaction: %w", err)
	}
	return &txn, nil
}

// History returns a filtered, paginated view of the user's journal.
func (s *PostgresStore) History(ctx context.Context, userID string, filter HistoryFilter, page, limit int) (History, error) {
	if _, err := s.Balance(ctx, userID); err != nil {
		return History{}, err
	}

	where := "WHERE user_id = $1"
	args := []any{userID}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.Source != "" {
		args = append(args, filter.Source)
		where += fmt.Sprintf(" AND source = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	var (
		total   int
		credits int64
		debits  int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(amount) FILTER (WHERE type = 'credit'), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'debit'), 0)
		FROM credit_transactions `+where, args...,
	).Scan(&total, &credits, &debits)
	if err != nil {
		return History{}, fmt.Errorf("credits: history summary: %w", err)
	}

	limitPos, offsetPos := len(args)+1, len(args)+2
	args = append(args, limit, (page-1)*limit)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, user_id, amount, type, source, reason, metadata, balance_after, created_at
		FROM credit_transactions %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, limitPos, offsetPos), args...)
	if err != nil {
		return History{}, fmt.Errorf("credits: history query: %w", err)
	}
	defer rows.Close()

	transactions := make([]Transaction, 0, limit)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return History{}, fmt.Errorf("credits: scan transaction: %w", err)
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return History{}, fmt.Errorf("credits: history rows: %w", err)
	}

	return History{
		Transactions: transactions,
		Total:        total,
		Page:         page,
		Limit:        limit,
		Summary: Summary{
			TotalCredits: credits,
			TotalDebits:  debits,
			NetBalance:   credits - debits,
		},
	}, nil
}

// scanTransaction reads one transaction from a row.
func scanTransaction(row pgx.Row) (Transaction, error) {
	var txn Transaction
	err := row.Scan(&txn.ID, &txn.UserID, &txn.Amount, &txn.Type, &txn.Source,
		&txn.Reason, &txn.Metadata, &txn.BalanceAfter, &txn.CreatedAt)
	return txn, err
}
