package dispatch

import "sync"

// TokenStore holds the set of queued keys. TryAcquire must be a single
// atomic compare-and-set: of any number of concurrent callers for the same
// key, exactly one gets true until the key is released.
type TokenStore interface {
	TryAcquire(key string) bool
	Release(key string)
	Has(key string) bool
}

// MemoryTokens is a process-local TokenStore.
type MemoryTokens struct {
	keys sync.Map
}

// NewMemoryTokens creates an empty token store.
func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{}
}

func (m *MemoryTokens) TryAcquire(key string) bool {
	_, loaded := m.keys.LoadOrStore(key, struct{}{})
	return !loaded
}

func (m *MemoryTokens) Release(key string) {
	m.keys.Delete(key)
}

func (m *MemoryTokens) Has(key string) bool {
	_, ok := m.keys.Load(key)
	return ok
}

// Keys returns the queued keys in no particular order.
func (m *MemoryTokens) Keys() []string {
	var keys []string
	m.keys.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	return keys
}
