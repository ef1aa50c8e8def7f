package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]*Transaction
	identifiers  []TrackIdentifier
	errors       []ErrorRecord
	steps        []StepRecord
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transactions: make(map[string]*Transaction)}
}

func cloneTx(tx *Transaction) *Transaction {
	cp := *tx
	cp.LinkedDomainIDs = append([]string(nil), tx.LinkedDomainIDs...)
	return &cp
}

// CreateTransaction implements Store
func (s *MemoryStore) CreateTransaction(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[tx.ID]; ok {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	s.transactions[tx.ID] = cloneTx(tx)
	return nil
}

// UpdateTransaction implements Store
func (s *MemoryStore) UpdateTransaction(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[tx.ID]; !ok {
		return ErrNotFound
	}
	s.transactions[tx.ID] = cloneTx(tx)
	return nil
}

// GetTransaction implements Store
func (s *MemoryStore) GetTransaction(_ context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTx(tx), nil
}

// ListTransactions implements Store
func (s *MemoryStore) ListTransactions(_ context.Context, filter Filter) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Transaction
	for _, tx := range s.transactions {
		if filter.Match(tx) {
			out = append(out, cloneTx(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// AddIdentifiers implements Store
func (s *MemoryStore) AddIdentifiers(_ context.Context, ids []TrackIdentifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		dup := false
		for _, existing := range s.identifiers {
			if existing.TransactionID == id.TransactionID && existing.ShipmentID == id.ShipmentID && existing.Value == id.Value {
				dup = true
				break
			}
		}
		if !dup {
			s.identifiers = append(s.identifiers, id)
		}
	}
	return nil
}

// ListIdentifiers implements Store
func (s *MemoryStore) ListIdentifiers(_ context.Context, txID string) ([]TrackIdentifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []TrackIdentifier
	for _, id := range s.identifiers {
		if id.TransactionID == txID {
			out = append(out, id)
		}
	}
	return out, nil
}

// AddError implements Store
func (s *MemoryStore) AddError(_ context.Context, rec *ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, *rec)
	return nil
}

// ListErrors implements Store
func (s *MemoryStore) ListErrors(_ context.Context, txID string) ([]ErrorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ErrorRecord
	for _, rec := range s.errors {
		if rec.TransactionID == txID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// PutStep implements Store
func (s *MemoryStore) PutStep(_ context.Context, step *StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *step
	cp.Identifiers = append([]string(nil), step.Identifiers...)
	for i, existing := range s.steps {
		if existing.TransactionID == step.TransactionID && existing.Name == step.Name && existing.ShipmentID == step.ShipmentID {
			s.steps[i] = cp
			return nil
		}
	}
	s.steps = append(s.steps, cp)
	return nil
}

// ListSteps implements Store
func (s *MemoryStore) ListSteps(_ context.Context, txID string) ([]StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StepRecord
	for _, step := range s.steps {
		if step.TransactionID == txID {
			out = append(out, step)
		}
	}
	return out, nil
}
