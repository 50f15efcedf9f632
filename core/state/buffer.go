package state

import (
	"errors"
	"sort"
	"sync"
)

// ErrBufferDrained is returned when a buffer is used after Drain. Buffers
// are consumed exactly once, by the flush protocol, then discarded.
var ErrBufferDrained = errors.New("state: buffer already drained")

// Getter reads committed values. The trie engine bound to a fixed version
// satisfies this for staking records; any versioned lookup can back a
// buffer.
type Getter[K comparable, V any] interface {
	Get(key K) (V, bool, error)
}

// Update is one staged change extracted by Drain.
type Update[K comparable, V any] struct {
	Key    K
	Value  V
	Remove bool
}

type overlayEntry[V any] struct {
	value     V
	tombstone bool
}

// Buffer overlays uncommitted writes and removals on top of a Getter,
// giving read-your-writes semantics before a block commits. One buffer
// exists per pending block; its writes are invisible to other buffers and
// to the underlying store until flushed.
//
// The overlay is guarded by a mutex so a single mutation goroutine can
// stage validated deltas while readers query, but concurrent writers still
// need external coordination on ordering.
type Buffer[K comparable, V any] struct {
	mu      sync.RWMutex
	backend Getter[K, V]
	less    func(a, b K) bool
	overlay map[K]overlayEntry[V]
	drained bool
}

// NewBuffer wraps the backend. less defines the stable Drain order; for
// trie-backed buffers it must order keys by their hashed form to match the
// trie's canonical batch ordering.
func NewBuffer[K comparable, V any](backend Getter[K, V], less func(a, b K) bool) *Buffer[K, V] {
	return &Buffer[K, V]{
		backend: backend,
		less:    less,
		overlay: make(map[K]overlayEntry[V]),
	}
}

// Get checks the overlay first, including tombstones for removed keys, and
// falls through to the backend on a miss.
func (b *Buffer[K, V]) Get(key K) (V, bool, error) {
	b.mu.RLock()
	entry, staged := b.overlay[key]
	drained := b.drained
	b.mu.RUnlock()

	var zero V
	if drained {
		return zero, false, ErrBufferDrained
	}
	if staged {
		if entry.tombstone {
			return zero, false, nil
		}
		return entry.value, true, nil
	}
	return b.backend.Get(key)
}

// Set stages a write. The backend is never touched.
func (b *Buffer[K, V]) Set(key K, value V) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drained {
		return ErrBufferDrained
	}
	b.overlay[key] = overlayEntry[V]{value: value}
	return nil
}

// Remove stages a removal as a tombstone.
func (b *Buffer[K, V]) Remove(key K) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drained {
		return ErrBufferDrained
	}
	b.overlay[key] = overlayEntry[V]{tombstone: true}
	return nil
}

// Len reports the number of staged changes.
func (b *Buffer[K, V]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.overlay)
}

// Drain extracts all staged changes in the buffer's stable key order and
// marks the buffer consumed. Every later operation fails with
// ErrBufferDrained.
func (b *Buffer[K, V]) Drain() ([]Update[K, V], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drained {
		return nil, ErrBufferDrained
	}
	b.drained = true

	updates := make([]Update[K, V], 0, len(b.overlay))
	for key, entry := range b.overlay {
		updates = append(updates, Update[K, V]{
			Key:    key,
			Value:  entry.value,
			Remove: entry.tombstone,
		})
	}
	sort.Slice(updates, func(i, j int) bool {
		return b.less(updates[i].Key, updates[j].Key)
	})
	return updates, nil
}
