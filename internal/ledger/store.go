package ledger

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrDuplicate is returned by Store.Settle when an entry for the same
// request id already exists. The ledger resolves it to the stored entry,
// which makes settlement retries idempotent.
var ErrDuplicate = errors.New("ledger: duplicate settlement for request")

// Balance is the two-component credit balance of one principal.
type Balance struct {
	Regular int64 `json:"regular"`
	Bonus   int64 `json:"bonus"`
}

// Total is the combined spendable amount.
func (b Balance) Total() int64 { return b.Regular + b.Bonus }

// Outcome classifies a ledger entry.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomePartial  Outcome = "partial"
	OutcomeRollover Outcome = "rollover"
)

// Entry is one immutable settlement record.
type Entry struct {
	ID        string    `json:"id"`
	Principal string    `json:"principal"`
	RequestID string    `json:"request_id"`
	Before    Balance   `json:"before"`
	After     Balance   `json:"after"`
	Amount    int64     `json:"amount"`
	// Shortfall is the uncollected remainder when actual cost exceeded the
	// combined balance. Recorded for reconciliation, never retried against
	// the principal.
	Shortfall int64     `json:"shortfall,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	At        time.Time `json:"at"`
}

// Store persists balances and entries. Settle must write the new balance and
// append the entry atomically, and must reject a replayed request id with
// ErrDuplicate.
type Store interface {
	Balance(ctx context.Context, principal string) (Balance, error)
	Provision(ctx context.Context, principal string, b Balance) error
	Settle(ctx context.Context, after Balance, e Entry) error
	EntryByRequest(ctx context.Context, requestID string) (*Entry, error)
	Close() error
}

// MemoryStore is the in-process Store used in local mode and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	balances  map[string]Balance
	entries   []Entry
	byRequest map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:  make(map[string]Balance),
		byRequest: make(map[string]int),
	}
}

func (s *MemoryStore) Balance(_ context.Context, principal string) (Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[principal], nil
}

func (s *MemoryStore) Provision(_ context.Context, principal string, b Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[principal] = b
	return nil
}

func (s *MemoryStore) Settle(_ context.Context, after Balance, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byRequest[e.RequestID]; ok {
		return ErrDuplicate
	}
	s.balances[e.Principal] = after
	s.entries = append(s.entries, e)
	s.byRequest[e.RequestID] = len(s.entries) - 1
	return nil
}

func (s *MemoryStore) EntryByRequest(_ context.Context, requestID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.byRequest[requestID]; ok {
		e := s.entries[i]
		return &e, nil
	}
	return nil, nil
}

// Entries returns a copy of all entries, oldest first.
func (s *MemoryStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *MemoryStore) Close() error { return nil }
