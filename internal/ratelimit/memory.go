package ratelimit

import (
	"context"
	"sync"
)

// MemoryStore keeps State in process. Used by replay and tests.
type MemoryStore struct {
	mu sync.Mutex
	st State
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: Empty()}
}

func (m *MemoryStore) Load(context.Context) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.st)
}

func (m *MemoryStore) Save(_ context.Context, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = clone(st)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, fn func(*State) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := clone(m.st)
	if err := fn(&st); err != nil {
		return err
	}
	m.st = st
	return nil
}

func clone(st State) State {
	out := Empty()
	for k, v := range st.LastDispatchByAgent {
		out.LastDispatchByAgent[k] = v
	}
	for k, v := range st.DailyDispatchByAgent {
		out.DailyDispatchByAgent[k] = v
	}
	return out
}

// #region keyed-mutex

// KeyedMutex hands out one mutex per key, so decisions for the same agent
// run one at a time while different agents proceed in parallel.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns its unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*keyedEntry{}
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// #endregion keyed-mutex
