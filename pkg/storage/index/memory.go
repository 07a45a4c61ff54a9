package index

import (
	"cmp"
	"sync"

	"github.com/google/btree"
)

const memoryIndexDegree = 16

type memoryItem[K cmp.Ordered, V any] struct {
	key   K
	value V
}

// MemoryIndexer is an in-memory implementation of Indexer. Keys are kept
// in a btree so iteration follows key order, as with the leveldb indexer.
type MemoryIndexer[K cmp.Ordered, V any] struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[memoryItem[K, V]]
}

func NewMemoryIndexer[K cmp.Ordered, V any]() *MemoryIndexer[K, V] {
	return &MemoryIndexer[K, V]{
		tree: newMemoryTree[K, V](),
	}
}

func newMemoryTree[K cmp.Ordered, V any]() *btree.BTreeG[memoryItem[K, V]] {
	return btree.NewG[memoryItem[K, V]](memoryIndexDegree, func(a, b memoryItem[K, V]) bool {
		return a.key < b.key
	})
}

func (m *MemoryIndexer[K, V]) Put(key K, value V) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.ReplaceOrInsert(memoryItem[K, V]{key: key, value: value})
	return nil
}

func (m *MemoryIndexer[K, V]) Get(key K) (V, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.tree.Get(memoryItem[K, V]{key: key})
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return item.value, nil
}

func (m *MemoryIndexer[K, V]) Delete(key K) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Delete(memoryItem[K, V]{key: key})
	return nil
}

// snapshot returns the items accepted by filter in key order.
func (m *MemoryIndexer[K, V]) snapshot(filter func(value V) bool) []memoryItem[K, V] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]memoryItem[K, V], 0, m.tree.Len())
	m.tree.Ascend(func(item memoryItem[K, V]) bool {
		if filter == nil || filter(item.value) {
			items = append(items, item)
		}
		return true
	})
	return items
}

// Iterate runs fn over a snapshot so fn may call Put or Delete.
func (m *MemoryIndexer[K, V]) Iterate(fn func(key K, value V) error) error {
	for _, item := range m.snapshot(nil) {
		if err := fn(item.key, item.value); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryIndexer[K, V]) Stream(filter func(value V) bool) <-chan V {
	ch := make(chan V)
	go func() {
		defer close(ch)

		// Collect under lock, send without it, so consumers may write back.
		for _, item := range m.snapshot(filter) {
			ch <- item.value
		}
	}()
	return ch
}

func (m *MemoryIndexer[K, V]) Close() error {
	return nil
}

func (m *MemoryIndexer[K, V]) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree = newMemoryTree[K, V]()
	return nil
}

func (m *MemoryIndexer[K, V]) PutSync(key K, value V) error {
	return m.Put(key, value)
}

func (m *MemoryIndexer[K, V]) DeleteSync(key K) error {
	return m.Delete(key)
}
