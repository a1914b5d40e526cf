package ledger

import (
	"context"
	"sync"
	"time"
)

type inMemoryLedger struct {
	mu       sync.RWMutex
	fundings map[string]Funding

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and local development.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		fundings: make(map[string]Funding),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (l *inMemoryLedger) Create(_ context.Context, funding Funding) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.fundings[funding.ID]; exists {
		return ErrDuplicateFunding
	}
	now := time.Now().UTC()
	if funding.CreatedAt.IsZero() {
		funding.CreatedAt = now
	}
	if funding.UpdatedAt.IsZero() {
		funding.UpdatedAt = funding.CreatedAt
	}
	l.fundings[funding.ID] = funding
	return nil
}

func (l *inMemoryLedger) Get(_ context.Context, id string) (Funding, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	funding, ok := l.fundings[id]
	if !ok {
		return Funding{}, ErrFundingNotFound
	}
	return funding, nil
}

func (l *inMemoryLedger) Mutate(_ context.Context, id string, upsert bool, fn MutateFunc) (Funding, error) {
	lock := l.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	l.mu.RLock()
	funding, ok := l.fundings[id]
	l.mu.RUnlock()
	if !ok {
		if !upsert {
			return Funding{}, ErrFundingNotFound
		}
		funding = newFunding(id, time.Now().UTC())
	}

	// fn works on a copy so a failed mutation leaves the stored record untouched.
	working := funding
	if err := fn(&working); err != nil {
		return Funding{}, err
	}
	working.ID = id
	working.UpdatedAt = time.Now().UTC()

	l.mu.Lock()
	l.fundings[id] = working
	l.mu.Unlock()
	return working, nil
}

// lockFor returns the per-id mutex so upstream calls made inside fn only block
// writers of the same funding.
func (l *inMemoryLedger) lockFor(id string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[id] = lock
	}
	return lock
}
