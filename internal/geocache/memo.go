package geocache

import (
	"sync"

	"github.com/couchcryptid/incident-heat-etl/internal/domain"
)

// memo is the in-process tier: a thread-safe LRU keyed by normalized
// address. maxEntries <= 0 keeps every entry for the process lifetime.
type memo struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*node
	head       *node // most recently used
	tail       *node // least recently used
}

type node struct {
	key   string
	value domain.CacheEntry
	prev  *node
	next  *node
}

func newMemo(maxEntries int) *memo {
	return &memo{
		maxEntries: maxEntries,
		entries:    make(map[string]*node),
	}
}

func (m *memo) get(key string) (domain.CacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.entries[key]
	if !ok {
		return domain.CacheEntry{}, false
	}
	m.moveToFront(n)
	return n.value, true
}

func (m *memo) put(key string, value domain.CacheEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.entries[key]; ok {
		n.value = value
		m.moveToFront(n)
		return
	}

	n := &node{key: key, value: value}
	m.entries[key] = n
	m.addToFront(n)

	if m.maxEntries > 0 && len(m.entries) > m.maxEntries {
		m.evictTail()
	}
}

func (m *memo) drop(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.entries[key]; ok {
		delete(m.entries, key)
		m.unlink(n)
	}
}

func (m *memo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memo) moveToFront(n *node) {
	if n == m.head {
		return
	}
	m.unlink(n)
	m.addToFront(n)
}

func (m *memo) addToFront(n *node) {
	n.next = m.head
	n.prev = nil
	if m.head != nil {
		m.head.prev = n
	}
	m.head = n
	if m.tail == nil {
		m.tail = n
	}
}

func (m *memo) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		m.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		m.tail = n.prev
	}
}

func (m *memo) evictTail() {
	if m.tail == nil {
		return
	}
	delete(m.entries, m.tail.key)
	m.unlink(m.tail)
}
