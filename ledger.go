package paygate

import (
	"context"
	"sort"
	"sync"
	"time"
)

// FinalizedTransaction records that a terminal transaction handle was processed.
type FinalizedTransaction struct {
	ID        string
	Handle    string
	ProductID string
	State     TransactionState
	Reason    string
	// Acknowledged is false until the store accepted Finish for Handle.
	Acknowledged bool
	FinalizedAt  time.Time
}

// Ledger remembers which transaction handles were already finalized.
// The Controller relies on it to process every handle at most once.
type Ledger interface {
	// Record stores rec unless a record with the same handle exists.
	// It reports whether rec was stored. This must be atomic.
	Record(ctx context.Context, rec *FinalizedTransaction) (bool, error)
	// Get returns the record for handle, or nil if there is none.
	Get(ctx context.Context, handle string) (*FinalizedTransaction, error)
	// MarkAcknowledged flags the record for handle as accepted by the store.
	MarkAcknowledged(ctx context.Context, handle string) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]*FinalizedTransaction, error)
}

// InMemoryLedger is a session-scoped Ledger.
type InMemoryLedger struct {
	records map[string]*FinalizedTransaction
	mu      sync.RWMutex
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		records: make(map[string]*FinalizedTransaction),
	}
}

func (l *InMemoryLedger) Record(ctx context.Context, rec *FinalizedTransaction) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[rec.Handle]; exists {
		return false, nil
	}
	if rec.FinalizedAt.IsZero() {
		rec.FinalizedAt = time.Now().UTC()
	}
	if rec.ID == "" {
		rec.ID = newULID(rec.FinalizedAt)
	}
	cp := *rec
	l.records[rec.Handle] = &cp
	return true, nil
}

func (l *InMemoryLedger) Get(ctx context.Context, handle string) (*FinalizedTransaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[handle]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (l *InMemoryLedger) MarkAcknowledged(ctx context.Context, handle string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.records[handle]; ok {
		rec.Acknowledged = true
	}
	return nil
}

func (l *InMemoryLedger) Recent(ctx context.Context, limit int) ([]*FinalizedTransaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*FinalizedTransaction, 0, len(l.records))
	for _, rec := range l.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
