package session

import "sync"

// entryMap is the mutex-guarded entry table behind Cache.
type entryMap struct {
	mu sync.RWMutex
	m  map[string]Entry
}

func newEntryMap() *entryMap {
	return &entryMap{m: make(map[string]Entry)}
}

func (em *entryMap) get(domain string) (Entry, bool) {
	em.mu.RLock()
	defer em.mu.RUnlock()
	e, ok := em.m[domain]
	return e, ok
}

func (em *entryMap) put(domain string, e Entry) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.m[domain] = e
}

func (em *entryMap) delete(domain string) {
	em.mu.Lock()
	defer em.mu.Unlock()
	delete(em.m, domain)
}

func (em *entryMap) removeIf(pred func(Entry) bool) int {
	em.mu.Lock()
	defer em.mu.Unlock()
	removed := 0
	for domain, e := range em.m {
		if pred(e) {
			delete(em.m, domain)
			removed++
		}
	}
	return removed
}

func (em *entryMap) all() []Entry {
	em.mu.RLock()
	defer em.mu.RUnlock()
	out := make([]Entry, 0, len(em.m))
	for _, e := range em.m {
		out = append(out, e)
	}
	return out
}
