// Package registry caches live database clients under a request-derived key.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Registry maps keys to client handles. It is safe for concurrent use.
// Concurrent GetOrCreate calls for the same missing key share one create call.
type Registry[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	group   singleflight.Group

	ttl      time.Duration
	now      func() time.Time
	onEvict  func(key string, value T)
	onChange func(size int)
	logger   *logrus.Entry
}

type entry[T any] struct {
	value    T
	lastUsed time.Time
}

// Option configures a Registry.
type Option[T any] func(*Registry[T])

// WithTTL expires entries idle for longer than ttl. Zero disables expiry.
func WithTTL[T any](ttl time.Duration) Option[T] {
	return func(r *Registry[T]) { r.ttl = ttl }
}

// WithEvict registers a callback run for every entry that leaves the
// registry, whether expired, replaced, deleted or closed.
func WithEvict[T any](fn func(key string, value T)) Option[T] {
	return func(r *Registry[T]) { r.onEvict = fn }
}

// WithSizeHook is called with the new size after every change.
func WithSizeHook[T any](fn func(size int)) Option[T] {
	return func(r *Registry[T]) { r.onChange = fn }
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger[T any](logger *logrus.Entry) Option[T] {
	return func(r *Registry[T]) { r.logger = logger }
}

// WithClock overrides time.Now, for tests.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(r *Registry[T]) { r.now = now }
}

// New creates an empty registry.
func New[T any](opts ...Option[T]) *Registry[T] {
	r := &Registry[T]{
		entries: make(map[string]*entry[T]),
		now:     time.Now,
		logger:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type eviction[T any] struct {
	key   string
	value T
}

// Get returns the live value for key and refreshes its idle timer.
func (r *Registry[T]) Get(key string) (T, bool) {
	r.mu.Lock()
	value, ok, expired := r.lookupLocked(key)
	r.mu.Unlock()

	r.evict(expired)
	return value, ok
}

// lookupLocked must be called with r.mu held.
func (r *Registry[T]) lookupLocked(key string) (T, bool, []eviction[T]) {
	var zero T
	e, ok := r.entries[key]
	if !ok {
		return zero, false, nil
	}
	now := r.now()
	if r.expired(e, now) {
		delete(r.entries, key)
		return zero, false, []eviction[T]{{key, e.value}}
	}
	e.lastUsed = now
	return e.value, true, nil
}

// Put stores value under key, replacing and evicting any previous value.
func (r *Registry[T]) Put(key string, value T) {
	r.mu.Lock()
	var evicted []eviction[T]
	if old, ok := r.entries[key]; ok {
		evicted = append(evicted, eviction[T]{key, old.value})
	}
	r.entries[key] = &entry[T]{value: value, lastUsed: r.now()}
	r.mu.Unlock()

	r.evict(evicted)
	if len(evicted) == 0 {
		r.notify()
	}
}

// GetOrCreate returns the value for key, calling create if it is missing.
// A failed create leaves the registry unchanged.
func (r *Registry[T]) GetOrCreate(ctx context.Context, key string, create func(ctx context.Context) (T, error)) (T, error) {
	if value, ok := r.Get(key); ok {
		return value, nil
	}

	ch := r.group.DoChan(key, func() (interface{}, error) {
		// Another caller may have stored it between Get and DoChan
		if value, ok := r.Get(key); ok {
			return value, nil
		}
		value, err := create(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		r.Put(key, value)
		r.logger.WithField("key", key).Debug("client created")
		return value, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// Delete removes key, reporting whether it was present.
func (r *Registry[T]) Delete(key string) bool {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()

	if ok {
		r.evict([]eviction[T]{{key, e.value}})
	}
	return ok
}

// Len returns the number of cached entries.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep evicts every expired entry and returns how many were removed.
func (r *Registry[T]) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}

	r.mu.Lock()
	now := r.now()
	var evicted []eviction[T]
	for k, e := range r.entries {
		if r.expired(e, now) {
			delete(r.entries, k)
			evicted = append(evicted, eviction[T]{k, e.value})
		}
	}
	r.mu.Unlock()

	r.evict(evicted)
	return len(evicted)
}

// RunSweeper sweeps every interval until ctx is done.
func (r *Registry[T]) RunSweeper(ctx context.Context, interval time.Duration) {
	if r.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.WithField("expired", n).Info("swept idle clients")
			}
		}
	}
}

// Close evicts every entry.
func (r *Registry[T]) Close() {
	r.mu.Lock()
	evicted := make([]eviction[T], 0, len(r.entries))
	for k, e := range r.entries {
		evicted = append(evicted, eviction[T]{k, e.value})
	}
	r.entries = make(map[string]*entry[T])
	r.mu.Unlock()

	r.evict(evicted)
}

func (r *Registry[T]) expired(e *entry[T], now time.Time) bool {
	return r.ttl > 0 && now.Sub(e.lastUsed) > r.ttl
}

// evict runs callbacks outside the lock.
func (r *Registry[T]) evict(evicted []eviction[T]) {
	if len(evicted) == 0 {
		return
	}
	for _, ev := range evicted {
		r.logger.WithField("key", ev.key).Debug("client evicted")
		if r.onEvict != nil {
			r.onEvict(ev.key, ev.value)
		}
	}
	r.notify()
}

func (r *Registry[T]) notify() {
	if r.onChange != nil {
		r.onChange(r.Len())
	}
}
