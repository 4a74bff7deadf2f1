package marketdata

import (
	"context"
	"sync"
	"time"
)

// StockAsset is the persisted view of one tracked holding. The store is the
// durable source of truth; refresh failures fall back to what it holds.
type StockAsset struct {
	Symbol        string
	Quantity      float64
	Currency      string
	Price         float64
	Change        float64
	ChangePercent float64
	HomeValue     float64
	LastUpdated   time.Time
}

// RateRecord is the persisted exchange-rate pair used for conversions.
type RateRecord struct {
	From        string
	To          string
	Rate        float64
	Provider    string
	LastUpdated time.Time
}

// Store is the external asset store consulted for tracked symbols and as
// the fallback source when live fetches are exhausted.
type Store interface {
	TrackedSymbols(ctx context.Context) ([]string, error)
	StockAsset(ctx context.Context, symbol string) (StockAsset, bool, error)
	PutStockAsset(ctx context.Context, asset StockAsset) error
	ExchangeRate(ctx context.Context, from, to string) (RateRecord, bool, error)
	PutExchangeRate(ctx context.Context, rec RateRecord) error
}

// MemoryStore is an in-process Store for the daemon's default mode and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	assets map[string]StockAsset
	rates  map[string]RateRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets: make(map[string]StockAsset),
		rates:  make(map[string]RateRecord),
	}
}

func (m *MemoryStore) TrackedSymbols(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	symbols := make([]string, 0, len(m.assets))
	for sym := range m.assets {
		symbols = append(symbols, sym)
	}
	return symbols, nil
}

func (m *MemoryStore) StockAsset(ctx context.Context, symbol string) (StockAsset, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	asset, ok := m.assets[symbol]
	return asset, ok, nil
}

func (m *MemoryStore) PutStockAsset(ctx context.Context, asset StockAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[asset.Symbol] = asset
	return nil
}

func (m *MemoryStore) ExchangeRate(ctx context.Context, from, to string) (RateRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.rates[from+"_"+to]
	return rec, ok, nil
}

func (m *MemoryStore) PutExchangeRate(ctx context.Context, rec RateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[rec.From+"_"+rec.To] = rec
	return nil
}

// Track registers a holding so refresh passes pick it up.
func (m *MemoryStore) Track(symbol, currency string, quantity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[symbol]; !ok {
		m.assets[symbol] = StockAsset{Symbol: symbol, Currency: currency, Quantity: quantity}
	}
}
