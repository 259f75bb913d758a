// Package greendonut implements a request-coalescing loader: temporally
// clustered single-key lookups are folded into a few multi-key fetches
// against a high-latency backend, and keys already fetched (or in flight) on
// a loader instance are memoized so the backend never sees them twice.
package greendonut

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/danrub/greendonut/cache"
)

// idleWait paces the dispatch loop when no coalescing delay is configured so
// an empty buffer cannot busy-spin.
const idleWait = time.Millisecond

var (
	ErrClosed        = errors.New("loader closed")
	ErrNilFetch      = errors.New("fetch function required")
	ErrEmptyKeys     = errors.New("at least one key required")
	ErrInvalidFuture = errors.New("future must originate from a promise")
)

// BatchSizeMismatchError rejects the positions a fetch failed to cover when
// it returned fewer results than keys.
type BatchSizeMismatchError struct {
	Keys    int
	Results int
}

func (e *BatchSizeMismatchError) Error() string {
	return fmt.Sprintf("fetch returned %d results for %d keys", e.Results, e.Keys)
}

// FetchFunc resolves a batch of keys against the backing store. The returned
// results align positionally with keys. A non-nil error rejects every key in
// the batch; per-key failures travel inside their Result instead.
type FetchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]Result[V], error)

type Option[K comparable, V any] func(*Loader[K, V])

func WithLogger[K comparable, V any](logger log.Logger) Option[K, V] {
	return func(l *Loader[K, V]) {
		l.logger = logger
	}
}

// WithKeyResolver normalizes keys before any cache or buffer operation, e.g.
// lowercasing or trimming. Identity is used when unset.
func WithKeyResolver[K comparable, V any](resolve func(K) K) Option[K, V] {
	return func(l *Loader[K, V]) {
		l.resolveKey = resolve
	}
}

// Loader coalesces and memoizes loads for one key/value type pair. The
// embedded Service is the background dispatch loop; start it with
// services.StartAndAwaitRunning to drain the buffer automatically, or drive
// dispatches by hand with DispatchBatch.
type Loader[K comparable, V any] struct {
	services.Service

	cfg        Config
	fetch      FetchFunc[K, V]
	logger     log.Logger
	resolveKey func(K) K

	// mtx guards the buffer swap and every buffer mutation. The fetch itself
	// always runs outside it.
	mtx    sync.Mutex
	buffer *pendingBuffer[K, V]

	cache  *cache.Cache[K, Future[V]] // nil when caching is disabled
	closed atomic.Bool
}

func New[K comparable, V any](cfg Config, fetch FetchFunc[K, V], opts ...Option[K, V]) (*Loader[K, V], error) {
	if fetch == nil {
		return nil, ErrNilFetch
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	l := &Loader[K, V]{
		cfg:        cfg,
		fetch:      fetch,
		logger:     log.NewNopLogger(),
		resolveKey: func(k K) K { return k },
		buffer:     newPendingBuffer[K, V](),
	}

	for _, opt := range opts {
		opt(l)
	}

	if !cfg.DisableCaching && cfg.CacheSize > 0 {
		c, err := cache.New[K, Future[V]](cache.Config{
			MaxEntries:        cfg.CacheSize,
			SlidingExpiration: cfg.SlidingExpiration,
		})
		if err != nil {
			return nil, fmt.Errorf("invalid cache config: %w", err)
		}
		l.cache = c
	}

	l.Service = services.NewBasicService(nil, l.running, l.stopping)

	return l, nil
}

// Load returns a future for the key's value. It never blocks: a cache hit
// returns the memoized future, otherwise the key joins the pending buffer
// for the next dispatch (or, with batching disabled, a one-key fetch is
// kicked off immediately).
func (l *Loader[K, V]) Load(key K) (Future[V], error) {
	if l.closed.Load() {
		return Future[V]{}, ErrClosed
	}

	k := l.resolveKey(key)

	if l.cache != nil {
		if f, ok := l.cache.Get(k); ok {
			return f, nil
		}
	}

	p := NewPromise[V]()
	f := p.Future()

	if l.cfg.DisableBatching {
		go l.dispatchSingle(context.Background(), k, p)
		if l.cache != nil {
			l.cache.Set(k, f)
		}
		return f, nil
	}

	l.mtx.Lock()
	if !l.buffer.tryAdd(k, p) {
		// another load won the key since our cache miss. every caller in
		// the window shares the winner's promise.
		winner, _ := l.buffer.get(k)
		l.mtx.Unlock()
		return winner.Future(), nil
	}
	metricPendingKeys.Set(float64(l.buffer.len()))
	// caching inside the guard keeps enqueue+memoize atomic against the
	// dispatch swap, otherwise a load racing the swap could refetch the key.
	if l.cache != nil {
		l.cache.Set(k, f)
	}
	l.mtx.Unlock()

	return f, nil
}

// LoadMany loads every key in input order and blocks until all of them
// settle or ctx is done. Results keep the input order.
func (l *Loader[K, V]) LoadMany(ctx context.Context, keys []K) ([]Result[V], error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if len(keys) == 0 {
		return nil, ErrEmptyKeys
	}

	futures := make([]Future[V], len(keys))
	for i, k := range keys {
		f, err := l.Load(k)
		if err != nil {
			return nil, err
		}
		futures[i] = f
	}

	results := make([]Result[V], len(futures))
	g, ctx := errgroup.WithContext(ctx)
	for i, f := range futures {
		g.Go(func() error {
			res, err := f.Await(ctx)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// Set memoizes the future under the key unless the key is already cached.
func (l *Loader[K, V]) Set(key K, future Future[V]) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if !future.valid() {
		return ErrInvalidFuture
	}

	if l.cache != nil {
		l.cache.Add(l.resolveKey(key), future)
	}
	return nil
}

// SetValue memoizes an already-known value under the key unless the key is
// already cached.
func (l *Loader[K, V]) SetValue(key K, value V) error {
	p := NewPromise[V]()
	_ = p.Set(Resolve(value))
	return l.Set(key, p.Future())
}

// Remove drops the key from the cache; the next Load triggers a fresh fetch.
func (l *Loader[K, V]) Remove(key K) error {
	if l.closed.Load() {
		return ErrClosed
	}

	if l.cache != nil {
		l.cache.Remove(l.resolveKey(key))
	}
	return nil
}

// Clear empties the cache.
func (l *Loader[K, V]) Clear() error {
	if l.closed.Load() {
		return ErrClosed
	}

	if l.cache != nil {
		l.cache.Clear()
	}
	return nil
}

// DispatchBatch drains the pending buffer and fetches it in insertion order,
// split into MaxBatchSize chunks. It returns once every buffered promise has
// settled. A concurrent load that misses the swap belongs to the next batch.
func (l *Loader[K, V]) DispatchBatch(ctx context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}

	l.mtx.Lock()
	if l.buffer.len() == 0 {
		l.mtx.Unlock()
		return nil
	}
	snap := l.buffer
	l.buffer = newPendingBuffer[K, V]()
	metricPendingKeys.Set(0)
	l.mtx.Unlock()

	keys := snap.keys()
	chunk := l.cfg.MaxBatchSize
	if chunk <= 0 {
		chunk = len(keys)
	}

	// the fetch runs outside the mutex so loads stay responsive while a
	// batch is in flight. later chunks proceed regardless of earlier
	// failures.
	for start := 0; start < len(keys); start += chunk {
		end := min(start+chunk, len(keys))
		l.dispatchChunk(ctx, keys[start:end], snap)
	}

	return nil
}

func (l *Loader[K, V]) dispatchChunk(ctx context.Context, chunk []K, snap *pendingBuffer[K, V]) {
	metricFetches.Inc()
	metricBatchSize.Observe(float64(len(chunk)))

	results, err := l.safeFetch(ctx, chunk)
	if err != nil {
		metricFetchFailures.Inc()
		level.Warn(l.logger).Log("msg", "batch fetch failed", "keys", len(chunk), "err", err)

		rejection := Reject[V](fmt.Errorf("batch fetch failed: %w", err))
		for _, k := range chunk {
			if p, ok := snap.get(k); ok {
				p.TrySet(rejection)
			}
		}
		return
	}

	if len(results) != len(chunk) {
		metricShapeMismatches.Inc()
		level.Warn(l.logger).Log("msg", "fetch result count does not match batch", "keys", len(chunk), "results", len(results))
	}

	// results align positionally; extras are dropped and uncovered positions
	// reject. promises settled concurrently through Set stay as they are.
	for i, k := range chunk {
		p, ok := snap.get(k)
		if !ok {
			continue
		}
		if i < len(results) {
			p.TrySet(results[i])
			continue
		}
		p.TrySet(Reject[V](&BatchSizeMismatchError{Keys: len(chunk), Results: len(results)}))
	}
}

func (l *Loader[K, V]) dispatchSingle(ctx context.Context, key K, p *Promise[V]) {
	metricFetches.Inc()
	metricBatchSize.Observe(1)

	results, err := l.safeFetch(ctx, []K{key})
	switch {
	case err != nil:
		metricFetchFailures.Inc()
		p.TrySet(Reject[V](fmt.Errorf("fetch failed: %w", err)))
	case len(results) == 0:
		metricShapeMismatches.Inc()
		p.TrySet(Reject[V](&BatchSizeMismatchError{Keys: 1, Results: 0}))
	default:
		p.TrySet(results[0])
	}
}

// safeFetch contains user fetch panics so the dispatch loop survives them.
func (l *Loader[K, V]) safeFetch(ctx context.Context, keys []K) (results []Result[V], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return l.fetch(ctx, keys)
}

func (l *Loader[K, V]) running(ctx context.Context) error {
	level.Info(l.logger).Log("msg", "dispatch loop running")

	delay := l.cfg.BatchRequestDelay
	if delay <= 0 {
		delay = idleWait
	}

	for {
		// the configured delay is the coalescing window between dispatches;
		// with no delay configured the loop only naps while the buffer is
		// empty.
		if l.cfg.BatchRequestDelay > 0 || l.pendingLen() == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}

		if ctx.Err() != nil {
			return nil
		}

		if l.pendingLen() == 0 {
			continue
		}

		// stopping the loop does not cancel a fetch already in flight.
		if err := l.DispatchBatch(context.WithoutCancel(ctx)); err != nil {
			level.Error(l.logger).Log("msg", "dispatch failed", "err", err)
		}
	}
}

func (l *Loader[K, V]) stopping(_ error) error {
	level.Info(l.logger).Log("msg", "dispatch loop stopped")
	return nil
}

// Shutdown stops the dispatch loop and clears the cache. It is idempotent;
// every operation after the first call fails with ErrClosed. Futures already
// handed out stay valid and settle per their fetch.
func (l *Loader[K, V]) Shutdown(ctx context.Context) error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := services.StopAndAwaitTerminated(ctx, l.Service)

	if l.cache != nil {
		l.cache.Clear()
	}

	return err
}

func (l *Loader[K, V]) pendingLen() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.buffer.len()
}
