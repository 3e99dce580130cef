// Package readcache holds sanitized article HTML between renders. The
// reconciler only depends on the invalidation side: when an article's
// content changes, its cached rendering must go.
package readcache

import "sync"

// Invalidator evicts the sanitized-HTML cache entry of one article.
type Invalidator interface {
	Invalidate(articleID int64)
}

// Memory is a process-local sanitized-HTML cache keyed by article id.
type Memory struct {
	mu      sync.RWMutex
	entries map[int64]string
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[int64]string),
	}
}

func (m *Memory) Get(articleID int64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	html, ok := m.entries[articleID]
	return html, ok
}

func (m *Memory) Set(articleID int64, html string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[articleID] = html
}

func (m *Memory) Invalidate(articleID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, articleID)
}
