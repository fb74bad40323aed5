package runtime

import (
	"sort"
	"sync"
)

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// lockTable hands out exclusive locks on string keys. Keys are acquired in
// sorted order so two callers sharing any subset of keys cannot deadlock.
// Entries are reference counted and removed once released by every holder.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*lockEntry)}
}

func (t *lockTable) acquire(keys ...string) func() {
	unique := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}
	sort.Strings(unique)

	entries := make([]*lockEntry, len(unique))
	t.mu.Lock()
	for i, key := range unique {
		entry, ok := t.locks[key]
		if !ok {
			entry = &lockEntry{}
			t.locks[key] = entry
		}
		entry.refs++
		entries[i] = entry
	}
	t.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(entries) - 1; i >= 0; i-- {
				entries[i].mu.Unlock()
			}
			t.mu.Lock()
			for i, key := range unique {
				entries[i].refs--
				if entries[i].refs == 0 {
					delete(t.locks, key)
				}
			}
			t.mu.Unlock()
		})
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
