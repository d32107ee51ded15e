package paygate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SimulatedStore is an in-memory Store for demos and tests.
// Every product completes with TransactionPurchased unless scripted otherwise
// with SetOutcome. Terminal transactions stay queued for Redeliver until finished.
type SimulatedStore struct {
	updates chan []Transaction

	mu         sync.Mutex
	catalog    map[string]ProductDescriptor
	outcomes   map[string]scriptedOutcome
	lookupErr  error
	submitErr  error
	finishErrs []error
	finished   map[string]int
	unfinished map[string]Transaction
	owned      map[string]struct{}
	submitted  int
	closed     bool
}

type scriptedOutcome struct {
	state TransactionState
	err   error
}

// NewSimulatedStore creates a store selling products.
func NewSimulatedStore(products ...ProductDescriptor) *SimulatedStore {
	s := &SimulatedStore{
		updates:    make(chan []Transaction, 16),
		catalog:    make(map[string]ProductDescriptor),
		outcomes:   make(map[string]scriptedOutcome),
		finished:   make(map[string]int),
		unfinished: make(map[string]Transaction),
		owned:      make(map[string]struct{}),
	}
	for _, p := range products {
		s.catalog[p.ID] = p
	}
	return s
}

// SetOutcome scripts the terminal state of future payments for productID.
// TransactionDeferred leaves the payment waiting for Complete.
func (s *SimulatedStore) SetOutcome(productID string, state TransactionState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[productID] = scriptedOutcome{state: state, err: err}
}

// FailLookups makes Products return err. Pass nil to recover.
func (s *SimulatedStore) FailLookups(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupErr = err
}

// FailSubmissions makes SubmitPayment return err. Pass nil to recover.
func (s *SimulatedStore) FailSubmissions(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErr = err
}

// FailFinish makes the next len(errs) Finish calls return errs in order.
func (s *SimulatedStore) FailFinish(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishErrs = append(s.finishErrs, errs...)
}

func (s *SimulatedStore) Products(ctx context.Context, ids []string) ([]ProductDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	var out []ProductDescriptor
	for _, id := range ids {
		if p, ok := s.catalog[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *SimulatedStore) SubmitPayment(ctx context.Context, product ProductDescriptor) error {
	s.mu.Lock()
	if s.submitErr != nil {
		err := s.submitErr
		s.mu.Unlock()
		return err
	}
	if _, ok := s.catalog[product.ID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown product %q", product.ID)
	}
	s.submitted++
	outcome, ok := s.outcomes[product.ID]
	if !ok {
		outcome = scriptedOutcome{state: TransactionPurchased}
	}
	handle := newULID(time.Now())
	s.mu.Unlock()

	intermediate := Transaction{Handle: handle, ProductID: product.ID, State: TransactionPurchasing}
	if err := s.send(ctx, []Transaction{intermediate}); err != nil {
		return err
	}
	if outcome.state == TransactionDeferred {
		return s.send(ctx, []Transaction{{Handle: handle, ProductID: product.ID, State: TransactionDeferred}})
	}
	return s.Complete(ctx, handle, product.ID, outcome.state, outcome.err)
}

// Complete delivers a terminal update for handle, e.g. after a deferred payment was approved.
func (s *SimulatedStore) Complete(ctx context.Context, handle, productID string, state TransactionState, err error) error {
	if !state.Terminal() {
		return fmt.Errorf("state %q is not terminal", state)
	}
	tx := Transaction{Handle: handle, ProductID: productID, State: state}
	if state == TransactionFailed {
		if err == nil {
			err = errors.New("payment cancelled")
		}
		tx.Err = err
	}

	s.mu.Lock()
	s.unfinished[handle] = tx
	if state != TransactionFailed {
		s.owned[productID] = struct{}{}
	}
	s.mu.Unlock()

	return s.send(ctx, []Transaction{tx})
}

// Deliver pushes raw updates to the observer.
func (s *SimulatedStore) Deliver(ctx context.Context, txs ...Transaction) error {
	s.mu.Lock()
	for _, tx := range txs {
		if tx.State.Terminal() {
			s.unfinished[tx.Handle] = tx
		}
	}
	s.mu.Unlock()
	return s.send(ctx, txs)
}

// Redeliver sends every terminal transaction that was never finished again,
// as the platform does when the app relaunches.
func (s *SimulatedStore) Redeliver(ctx context.Context) error {
	s.mu.Lock()
	txs := make([]Transaction, 0, len(s.unfinished))
	for _, tx := range s.unfinished {
		txs = append(txs, tx)
	}
	s.mu.Unlock()

	if len(txs) == 0 {
		return nil
	}
	return s.send(ctx, txs)
}

// RestorePurchases replays every product bought earlier as a restored transaction.
func (s *SimulatedStore) RestorePurchases(ctx context.Context) error {
	s.mu.Lock()
	now := time.Now()
	txs := make([]Transaction, 0, len(s.owned))
	for productID := range s.owned {
		tx := Transaction{Handle: newULID(now), ProductID: productID, State: TransactionRestored}
		s.unfinished[tx.Handle] = tx
		txs = append(txs, tx)
	}
	s.mu.Unlock()

	if len(txs) == 0 {
		return nil
	}
	return s.send(ctx, txs)
}

// Grant marks productID as owned from a previous session.
func (s *SimulatedStore) Grant(productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owned[productID] = struct{}{}
}

func (s *SimulatedStore) Updates() <-chan []Transaction {
	return s.updates
}

func (s *SimulatedStore) Finish(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.finishErrs) > 0 {
		err := s.finishErrs[0]
		s.finishErrs = s.finishErrs[1:]
		if err != nil {
			return err
		}
	}
	s.finished[handle]++
	delete(s.unfinished, handle)
	return nil
}

// Finished returns how many times handle was finished.
func (s *SimulatedStore) Finished(handle string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished[handle]
}

// Submitted returns how many payments were accepted.
func (s *SimulatedStore) Submitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

// Unfinished returns the number of terminal transactions awaiting Finish.
func (s *SimulatedStore) Unfinished() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unfinished)
}

// Close closes the updates channel. The store must not be used afterwards.
func (s *SimulatedStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.updates)
	}
}

func (s *SimulatedStore) send(ctx context.Context, txs []Transaction) error {
	select {
	case s.updates <- txs:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("deliver transactions: %w", ctx.Err())
	}
}
