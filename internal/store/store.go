// Package store holds the trade and risk-metadata repositories backing
// the analytics engine. The engine only depends on the interfaces
// here; the memory implementation serves tests and import-then-serve
// runs, the sqlite implementation survives restarts.
package store

import (
	"context"
	"sync"

	"tradepulse/pkg/contracts/domain"
)

// TradeStore is the repository the analytics engine reads trades from.
// Implementations return copies; callers may not mutate the
// engine's view through a returned slice.
type TradeStore interface {
	GetAllTrades(ctx context.Context) ([]domain.Trade, error)
	AddTrades(ctx context.Context, trades []domain.Trade) error
	ReplaceTrades(ctx context.Context, trades []domain.Trade) error
}

// MetadataStore resolves per-trade risk metadata. A nil return with a
// nil error means no metadata is recorded for that trade.
type MetadataStore interface {
	GetMetadata(ctx context.Context, tradeID string) (*domain.RiskMetadata, error)
	SetMetadata(ctx context.Context, tradeID string, meta domain.RiskMetadata) error
}

// MemoryStore is an in-process TradeStore and MetadataStore. Change
// subscribers are notified synchronously after each mutation, which
// the engine relies on to schedule recomputation.
type MemoryStore struct {
	mu       sync.RWMutex
	trades   []domain.Trade
	metadata map[string]domain.RiskMetadata
	subs     []func()
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{metadata: make(map[string]domain.RiskMetadata)}
}

// GetAllTrades returns a copy of the stored trades.
func (m *MemoryStore) GetAllTrades(_ context.Context) ([]domain.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Trade, len(m.trades))
	copy(out, m.trades)
	return out, nil
}

// AddTrades appends trades and notifies subscribers.
func (m *MemoryStore) AddTrades(_ context.Context, trades []domain.Trade) error {
	m.mu.Lock()
	m.trades = append(m.trades, trades...)
	subs := m.subscribersLocked()
	m.mu.Unlock()

	notify(subs)
	return nil
}

// ReplaceTrades swaps the full trade set and notifies subscribers.
func (m *MemoryStore) ReplaceTrades(_ context.Context, trades []domain.Trade) error {
	m.mu.Lock()
	m.trades = make([]domain.Trade, len(trades))
	copy(m.trades, trades)
	subs := m.subscribersLocked()
	m.mu.Unlock()

	notify(subs)
	return nil
}

// GetMetadata returns the risk metadata recorded for a trade, if any.
func (m *MemoryStore) GetMetadata(_ context.Context, tradeID string) (*domain.RiskMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.metadata[tradeID]
	if !ok {
		return nil, nil
	}
	cp := meta
	return &cp, nil
}

// SetMetadata records risk metadata for a trade and notifies
// subscribers, since R-multiple charts depend on it.
func (m *MemoryStore) SetMetadata(_ context.Context, tradeID string, meta domain.RiskMetadata) error {
	m.mu.Lock()
	m.metadata[tradeID] = meta
	subs := m.subscribersLocked()
	m.mu.Unlock()

	notify(subs)
	return nil
}

// Subscribe registers fn to run after every mutation. There is no
// unsubscribe; subscribers live as long as the store.
func (m *MemoryStore) Subscribe(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Len reports the number of stored trades.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trades)
}

func (m *MemoryStore) subscribersLocked() []func() {
	subs := make([]func(), len(m.subs))
	copy(subs, m.subs)
	return subs
}

func notify(subs []func()) {
	for _, fn := range subs {
		fn()
	}
}
