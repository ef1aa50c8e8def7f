// Package storage provides the persistence backends of the customs engine.
//
// # Interface Design
//
// A backend persists two kinds of records:
//
//   - ledger records ([ledger.Store]): transactions, track identifiers,
//     classified errors and acknowledged steps
//   - authentication tokens ([token.Store])
//
// The [Store] interface combines both with lifecycle methods.
//
// # Implementations
//
// The mongodb sub-package provides a MongoDB implementation for shared
// deployments and the sqlite sub-package a single-node implementation on an
// embedded database. [NewMemory] keeps everything in process.
//
// # Concurrency
//
// All store implementations must be safe for concurrent use from multiple
// goroutines.
package storage

import (
	"context"
	"time"

	"github.com/sirosfoundation/go-customs/pkg/ledger"
	"github.com/sirosfoundation/go-customs/pkg/token"
)

// Store is the main storage interface combining all sub-stores
type Store interface {
	ledger.Store
	token.Store

	// Close releases the backend connection
	Close(ctx context.Context) error

	// Ping verifies connectivity
	Ping(ctx context.Context) error
}

// Memory is an in-process Store. Records are lost on exit.
type Memory struct {
	*ledger.MemoryStore
	tokens *token.MemoryStore
}

// NewMemory creates an empty Memory store
func NewMemory() *Memory {
	return &Memory{MemoryStore: ledger.NewMemoryStore(), tokens: token.NewMemoryStore()}
}

// Close implements Store
func (m *Memory) Close(context.Context) error { return nil }

// Ping implements Store
func (m *Memory) Ping(context.Context) error { return nil }

// GetToken implements token.Store
func (m *Memory) GetToken(ctx context.Context, key token.Key, now time.Time) (*token.AuthToken, error) {
	return m.tokens.GetToken(ctx, key, now)
}

// PutToken implements token.Store
func (m *Memory) PutToken(ctx context.Context, tok *token.AuthToken) error {
	return m.tokens.PutToken(ctx, tok)
}

// TouchToken implements token.Store
func (m *Memory) TouchToken(ctx context.Context, key token.Key, at time.Time) error {
	return m.tokens.TouchToken(ctx, key, at)
}

// ExpireToken implements token.Store
func (m *Memory) ExpireToken(ctx context.Context, key token.Key, at time.Time) error {
	return m.tokens.ExpireToken(ctx, key, at)
}
