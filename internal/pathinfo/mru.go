package pathinfo

import (
	"container/list"
	"sync"
)

// MRU is an insertion-ordered, size-bounded cache of positive Locate
// results, keyed by virtual path. Every Get that hits moves the
// entry to the MRU end; Put may evict the MRU front when the size bound is
// exceeded. Negative results (locate misses) are never stored.
type MRU struct {
	mu    sync.Mutex
	size  int
	ll    *list.List // front = least-recently-used, back = most-recently-used
	index map[string]*list.Element
}

type mruEntry struct {
	path string
	info PathInfo
}

// NewMRU returns an MRU bounded to at most size entries. A non-positive
// size disables caching: Get always misses and Put is a no-op.
func NewMRU(size int) *MRU {
	return &MRU{
		size:  size,
		ll:    list.New(),
		index: make(map[string]*list.Element),
	}
}

// Get returns the cached PathInfo for path, if present, moving it to the
// MRU end on hit.
func (m *MRU) Get(path string) (PathInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.index[path]
	if !ok {
		return PathInfo{}, false
	}
	m.ll.MoveToBack(el)
	return el.Value.(*mruEntry).info, true
}

// Put inserts or updates the entry for path at the MRU end, evicting the
// MRU front if the bound is exceeded.
func (m *MRU) Put(path string, info PathInfo) {
	if m.size <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.index[path]; ok {
		el.Value.(*mruEntry).info = info
		m.ll.MoveToBack(el)
		return
	}

	el := m.ll.PushBack(&mruEntry{path: path, info: info})
	m.index[path] = el

	for m.ll.Len() > m.size {
		front := m.ll.Front()
		if front == nil {
			break
		}
		m.ll.Remove(front)
		delete(m.index, front.Value.(*mruEntry).path)
	}
}

// Remove evicts the entry for path, if present.
func (m *MRU) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.index[path]
	if !ok {
		return
	}
	m.ll.Remove(el)
	delete(m.index, path)
}

// Clear removes every entry.
func (m *MRU) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ll.Init()
	m.index = make(map[string]*list.Element)
}

// Len returns the number of entries currently cached.
func (m *MRU) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}
