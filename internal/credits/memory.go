package credits

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store. The mutex makes
// Apply atomic and serializes concurrent debits for the same user, so
// the non-negative balance invariant holds under any interleaving.
// Suitable for direct mode and tests; production uses PostgresStore.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64
	journal  map[string][]Transaction
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]int64),
		journal:  make(map[string][]Transaction),
	}
}

// Balance returns the current balance for the user.
func (s *MemoryStore) Balance(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	return balance, nil
}

// Apply atomically applies delta and appends the transaction.
func (s *MemoryStore) Apply(_ context.Context, userID string, delta int64, txn Transaction) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(userID, delta, txn)
}

// ApplyJobOnce checks for an existing job transaction and applies under
// the same lock acquisition, so no second caller can slip between the
// check and the mutation.
func (s *MemoryStore) ApplyJobOnce(_ context.Context, userID string, delta int64, txn Transaction) (Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.findJobLocked(userID, txn.Metadata[MetaJobID], txn.Type, txn.Source); existing != nil {
		return *existing, false, nil
	}
	applied, err := s.applyLocked(userID, delta, txn)
	if err != nil {
		return Transaction{}, false, err
	}
	return applied, true, nil
}

// applyLocked applies delta and appends the transaction. Callers hold mu.
func (s *MemoryStore) applyLocked(userID string, delta int64, txn Transaction) (Transaction, error) {
	balance, ok := s.balances[userID]
	if !ok {
		if delta < 0 {
			return Transaction{}, ErrUserNotFound
		}
		balance = 0
	}

	next := balance + delta
	if next < 0 {
		return Transaction{}, ErrInsufficientCredits
	}

	txn.BalanceAfter = next
	s.balances[userID] = next
	s.journal[userID] = append(s.journal[userID], txn)
	return txn, nil
}

// FindJobTransaction scans the user's journal for a matching entry.
func (s *MemoryStore) FindJobTransaction(_ context.Context, userID, jobID string, typ Type, source Source) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if found := s.findJobLocked(userID, jobID, typ, source); found != nil {
		return found, nil
	}
	return nil, nil
}

// findJobLocked scans the journal for a job transaction. Callers hold mu.
func (s *MemoryStore) findJobLocked(userID, jobID string, typ Type, source Source) *Transaction {
	for i := range s.journal[userID] {
		txn := s.journal[userID][i]
		if txn.Type == typ && txn.Source == source && txn.Metadata[MetaJobID] == jobID {
			found := txn
			return &found
		}
	}
	return nil
}

// History returns a filtered, paginated view of the user's journal.
func (s *MemoryStore) History(_ context.Context, userID string, filter HistoryFilter, page, limit int) (History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.balances[userID]; !ok {
		return History{}, ErrUserNotFound
	}

	var matched []Transaction
	var summary Summary
	for _, txn := range s.journal[userID] {
		if filter.Type != "" && txn.Type != filter.Type {
			continue
		}
		if filter.Source != "" && txn.Source != filter.Source {
			continue
		}
		if !filter.From.IsZero() && txn.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && txn.CreatedAt.After(filter.To) {
			continue
		}
		matched = append(matched, txn)
		switch txn.Type {
		case TypeCredit:
			summary.TotalCredits += txn.Amount
		case TypeDebit:
			summary.TotalDebits += txn.Amount
		}
	}
	summary.NetBalance = summary.TotalCredits - summary.TotalDebits

	// Newest first, matching the SQL store ordering.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	pageItems := make([]Transaction, end-start)
	copy(pageItems, matched[start:end])

	return History{
		Transactions: pageItems,
		Total:        total,
		Page:         page,
		Limit:        limit,
		Summary:      summary,
	}, nil
}
