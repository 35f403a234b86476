package persistence

import (
	"context"
	"sync"

	"ApexLedger/internal/ledger"

	"github.com/google/uuid"
)

// MemoryStore is an in-process LedgerStore with the same version semantics
// as the Postgres store. Used in tests, including the concurrent-mutation
// ones: the mutex only guards the map, the lost-update protection comes from
// the version check exactly as in production.
type MemoryStore struct {
	mu       sync.Mutex
	ledgers  map[uuid.UUID]*ledger.Ledger
	deposits map[string]Deposit
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ledgers:  make(map[uuid.UUID]*ledger.Ledger),
		deposits: make(map[string]Deposit),
	}
}

func (s *MemoryStore) Load(_ context.Context, userID uuid.UUID) (*ledger.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.ledgers[userID]
	if !ok {
		return ledger.New(userID), nil
	}
	return l.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, l *ledger.Ledger, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(l, expectedVersion)
}

// SaveWithDeposit mirrors the Postgres transaction: the reference is claimed
// and the ledger saved under one lock, and a version conflict claims nothing.
func (s *MemoryStore) SaveWithDeposit(_ context.Context, l *ledger.Ledger, expectedVersion int64, dep Deposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deposits[dep.Reference]; ok {
		return ErrDuplicateDeposit
	}
	if err := s.saveLocked(l, expectedVersion); err != nil {
		return err
	}
	s.deposits[dep.Reference] = dep
	return nil
}

func (s *MemoryStore) saveLocked(l *ledger.Ledger, expectedVersion int64) error {
	current := int64(0)
	if stored, ok := s.ledgers[l.UserID]; ok {
		current = stored.Version
	}
	if current != expectedVersion {
		return ErrConflict
	}

	saved := l.Clone()
	saved.Version = expectedVersion + 1
	s.ledgers[l.UserID] = saved
	l.Version = saved.Version
	return nil
}
