package book

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"paper-trader/internal/models"
)

// Registry owns the symbol to order book mapping. Books are created
// lazily the first time a symbol is traded and never evicted.
type Registry struct {
	books  map[string]*Book
	rng    *rand.Rand
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		books:  make(map[string]*Book),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger,
	}
}

// NewSeededRegistry creates a registry with a deterministic liquidity
// seed, for tests.
func NewSeededRegistry(logger zerolog.Logger, seed int64) *Registry {
	return &Registry{
		books:  make(map[string]*Book),
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger,
	}
}

// GetOrCreate returns the book for a symbol, initializing one around
// the reference price on first use.
func (r *Registry) GetOrCreate(symbol string, referencePrice float64) *Book {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.books[symbol]; ok {
		return b
	}

	b := New(symbol, referencePrice, r.rng)
	r.books[symbol] = b
	r.logger.Info().
		Str("symbol", symbol).
		Float64("price", referencePrice).
		Msg("Order book created")
	return b
}

// Get returns the book for a symbol if one exists.
func (r *Registry) Get(symbol string) (*Book, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[symbol]
	return b, ok
}

// UpdatePrice shifts an existing book to a new mid price. Price ticks
// for symbols that were never traded are ignored: a tick alone does
// not force book creation.
func (r *Registry) UpdatePrice(symbol string, newPrice float64) {
	if b, ok := r.Get(symbol); ok {
		b.UpdateMid(newPrice)
	}
}

// Depth returns the depth snapshot for a symbol, or nil if no book
// exists yet.
func (r *Registry) Depth(symbol string) *models.MarketDepth {
	if b, ok := r.Get(symbol); ok {
		return b.Depth()
	}
	return nil
}
