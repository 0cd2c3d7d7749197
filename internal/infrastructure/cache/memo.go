package cache

import "sync"

// Memo memoizes derived values in process, keyed by K.
type Memo[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

func NewMemo[K comparable, V any]() *Memo[K, V] {
	return &Memo[K, V]{items: make(map[K]V)}
}

// Load returns the memoized value or builds and stores it. Errors are not memoized.
// build runs without the lock held so it may load other keys; when two builds
// race, the first stored value wins.
func (m *Memo[K, V]) Load(key K, build func() (V, error)) (V, error) {
	m.mu.RLock()
	v, ok := m.items[key]
	m.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err := build()
	if err != nil {
		return v, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.items[key]; ok {
		return existing, nil
	}
	m.items[key] = v
	return v, nil
}

func (m *Memo[K, V]) Forget(key K) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// ForgetWhere drops every key matching pred.
func (m *Memo[K, V]) ForgetWhere(pred func(K) bool) {
	m.mu.Lock()
	for k := range m.items {
		if pred(k) {
			delete(m.items, k)
		}
	}
	m.mu.Unlock()
}

func (m *Memo[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
