package keystore

import "sync"

// InMemoryStore implements Store interface and provides an in memory version of the key store.
type InMemoryStore struct {
	mu           sync.RWMutex
	keys         []Key
	currentKeyId int
}

// NewInMemoryKeyStore constructor to create a key store. Blank keys are dropped.
func NewInMemoryKeyStore(keys []Key) (*InMemoryStore, error) {
	usable := make([]Key, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			usable = append(usable, k)
		}
	}
	if len(usable) == 0 {
		return nil, ErrEmptyKeyStore
	}

	return &InMemoryStore{
		keys:         usable,
		currentKeyId: 0,
	}, nil
}

func (i *InMemoryStore) Rotate() {
	i.mu.Lock()
	defer i.mu.Unlock()
	// next key modulo total size of key store
	i.currentKeyId = (i.currentKeyId + 1) % len(i.keys)
}

func (i *InMemoryStore) Get() Key {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.keys[i.currentKeyId]
}

func (i *InMemoryStore) Len() int {
	return len(i.keys)
}
