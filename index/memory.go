// Package index provides an in-process IndexHandle: a versioned key map
// with a visibility watermark, the downstream state rewriters consult.
package index

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/maxpert/drc/replicator"
)

// MemoryIndex records, per key, the log ids at which the key was written.
// Writes must arrive in log id order.
type MemoryIndex struct {
	mu       sync.RWMutex
	versions map[string][]int64
	visible  int64

	snapshots atomic.Int64
}

// NewMemoryIndex returns an empty index with nothing visible
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{versions: make(map[string][]int64), visible: -1}
}

// Apply records that key was written at logID and makes logID visible
func (m *MemoryIndex) Apply(key string, logID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if logID < m.visible {
		return fmt.Errorf("log id %d is behind visible log id %d", logID, m.visible)
	}
	vs := m.versions[key]
	if n := len(vs); n == 0 || vs[n-1] < logID {
		m.versions[key] = append(vs, logID)
	}
	m.visible = logID
	return nil
}

// Advance moves the watermark without writing a key, e.g. for records the
// index does not store
func (m *MemoryIndex) Advance(logID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if logID > m.visible {
		m.visible = logID
	}
}

// Compact forgets versions older than the newest one at or below before,
// keeping what any snapshot taken at or after before can observe
func (m *MemoryIndex) Compact(before int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, vs := range m.versions {
		i := sort.Search(len(vs), func(i int) bool { return vs[i] > before })
		if i > 1 {
			m.versions[key] = append([]int64(nil), vs[i-1:]...)
		}
	}
}

// VisibleLogID implements replicator.IndexHandle
func (m *MemoryIndex) VisibleLogID() (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.visible, m.visible >= 0
}

// Snapshot implements replicator.IndexHandle. The snapshot sees every
// write at or below the watermark at the time it was taken.
func (m *MemoryIndex) Snapshot() (replicator.IndexSnapshot, error) {
	m.mu.RLock()
	at := m.visible
	m.mu.RUnlock()

	m.snapshots.Add(1)
	return &snapshot{index: m, at: at}, nil
}

// ActiveSnapshots is the number of snapshots not yet released
func (m *MemoryIndex) ActiveSnapshots() int64 {
	return m.snapshots.Load()
}

type snapshot struct {
	index    *MemoryIndex
	at       int64
	released atomic.Bool
}

// Version returns the newest log id at which key was written, as of the
// snapshot
func (s *snapshot) Version(key string) (int64, bool) {
	s.index.mu.RLock()
	defer s.index.mu.RUnlock()

	vs := s.index.versions[key]
	i := sort.Search(len(vs), func(i int) bool { return vs[i] > s.at })
	if i == 0 {
		return 0, false
	}
	return vs[i-1], true
}

func (s *snapshot) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.index.snapshots.Add(-1)
	}
}
