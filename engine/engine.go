// Package engine owns the process-wide caches and logger every column
// attribute controller shares: pack bodies, dictionaries and filters all
// live in one of this package's three Cache instances, keyed by their own
// package's Coordinate type. There is deliberately no package-level
// singleton (see SPEC_FULL.md §9 Design Notes): callers construct one
// Engine per catalog/test and inject it into column.Attr.
package engine

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cloudimpl/colattr/cache"
	"github.com/cloudimpl/colattr/dict"
	"github.com/cloudimpl/colattr/filter"
	"github.com/cloudimpl/colattr/pack"
	"github.com/cloudimpl/colattr/txid"
)

// Engine is the shared runtime context for a set of columns: caches for
// pack bodies, dictionaries and filters, a monotone transaction counter,
// a deferred-deletion queue for superseded version files, and a logger.
// Grounded on cloudimpl-ByteDB/backend/columnar.ColumnarFile's role as
// the per-open-handle owner of shared page/bitmap/string-segment caches,
// generalized to hold three independently-typed generic caches instead of
// one page cache.
type Engine struct {
	Packs   *cache.Cache[pack.Coordinate, pack.Pack]
	Dicts   *cache.Cache[dict.Coordinate, *dict.FTree]
	Filters *cache.Cache[filter.Coordinate, filter.Handle]

	logger *zap.Logger

	maxXID atomic.Uint64 // low half of the most recently issued TxID; high half is always 0 in this engine

	mu           sync.Mutex
	deferRemoved []string // paths queued for removal once no reader can still need them
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New constructs an Engine with empty caches.
func New(opts ...Option) *Engine {
	e := &Engine{
		Packs:   cache.New[pack.Coordinate, pack.Pack](),
		Dicts:   cache.New[dict.Coordinate, *dict.FTree](),
		Filters: cache.New[filter.Coordinate, filter.Handle](),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Logger returns the engine's logger as is; it adds no component field.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// NextXID allocates a new, strictly increasing transaction id.
func (e *Engine) NextXID() txid.TxID {
	lo := e.maxXID.Add(1)
	return txid.New(0, lo)
}

// MaxXID returns the most recently allocated transaction id without
// allocating a new one.
func (e *Engine) MaxXID() txid.TxID {
	return txid.New(0, e.maxXID.Load())
}

// ObserveXID advances the engine's counter to at least xid.Lo, used when
// loading a column whose on-disk version files carry ids from a prior
// process.
func (e *Engine) ObserveXID(id txid.TxID) {
	for {
		cur := e.maxXID.Load()
		if id.Lo <= cur {
			return
		}
		if e.maxXID.CompareAndSwap(cur, id.Lo) {
			return
		}
	}
}

// DeferRemove queues path for deletion once every reader that might still
// need it has released it, matching RCAttr::PostCommit's deferred
// unlink of superseded version/filter files rather than deleting them
// synchronously under a still-held lock.
func (e *Engine) DeferRemove(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deferRemoved = append(e.deferRemoved, path)
}

// FlushDeferredRemovals returns and clears the queue of paths marked for
// deletion; the caller performs the actual unlink once it can prove no
// reader still holds them. column.Attr.PostCommit only queues paths
// through DeferRemove and does not call this.
func (e *Engine) FlushDeferredRemovals() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.deferRemoved
	e.deferRemoved = nil
	return out
}
