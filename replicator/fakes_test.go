package replicator

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/maxpert/drc/record"
	"github.com/maxpert/drc/statestore"
)

// Mock implementations for testing

type fakeEntry struct {
	logID int64
	data  []byte
}

type fakeSource struct {
	mu       sync.Mutex
	entries  []fakeEntry
	pos      int
	readErr  error
	seekErr  error
	latest   int64
	latestOK bool
	seeks    []int64
	closed   bool

	truncatedBefore []int64
}

func newFakeSource(entries ...fakeEntry) *fakeSource {
	s := &fakeSource{entries: entries, latestOK: true, latest: -1}
	for _, e := range entries {
		if e.logID > s.latest {
			s.latest = e.logID
		}
	}
	return s
}

func (s *fakeSource) append(entries ...fakeEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	for _, e := range entries {
		if e.logID > s.latest {
			s.latest = e.logID
		}
	}
}

func (s *fakeSource) Seek(ctx context.Context, logID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeks = append(s.seeks, logID)
	if s.seekErr != nil {
		return s.seekErr
	}
	s.pos = sort.Search(len(s.entries), func(i int) bool { return s.entries[i].logID >= logID })
	return nil
}

func (s *fakeSource) Read(ctx context.Context) ([]byte, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.entries) {
		if s.readErr != nil {
			return nil, 0, s.readErr
		}
		return nil, 0, ErrSourceExhausted
	}
	e := s.entries[s.pos]
	s.pos++
	return e.data, e.logID, nil
}

func (s *fakeSource) LatestLogID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.latestOK {
		return 0, errors.New("latest unavailable")
	}
	return s.latest, nil
}

func (s *fakeSource) TruncateBefore(logID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.truncatedBefore = append(s.truncatedBefore, logID)
	return nil
}

func (s *fakeSource) truncations() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.truncatedBefore...)
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeWrite struct {
	partition  uint32
	data       []byte
	checkpoint int64
}

type fakeSink struct {
	mu        sync.Mutex
	writes    []fakeWrite
	failWrite bool
	// async sinks only commit when told to
	async     bool
	committed int64
	closed    bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{committed: -1}
}

func (s *fakeSink) Write(ctx context.Context, partitionID uint32, data []byte, checkpoint int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return errors.New("mock write failure")
	}
	s.writes = append(s.writes, fakeWrite{partition: partitionID, data: data, checkpoint: checkpoint})
	if !s.async {
		s.committed = checkpoint
	}
	return nil
}

func (s *fakeSink) CommittedCheckpoint() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrite = fail
}

func (s *fakeSink) commit(checkpoint int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = checkpoint
}

func (s *fakeSink) checkpoints() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.writes))
	for i, w := range s.writes {
		out[i] = w.checkpoint
	}
	return out
}

type fakeRewriter struct {
	initErr     error
	snapshotErr error
	results     map[int64]RewriteResult
	initIndex   IndexHandle
	inited      bool
	snapshots   int
	releases    int
}

func (r *fakeRewriter) Init(index IndexHandle) error {
	r.inited = true
	r.initIndex = index
	return r.initErr
}

func (r *fakeRewriter) CreateSnapshot(ctx context.Context) error {
	if r.snapshotErr != nil {
		return r.snapshotErr
	}
	r.snapshots++
	return nil
}

func (r *fakeRewriter) ReleaseSnapshot() {
	r.releases++
}

func (r *fakeRewriter) Rewrite(rec *record.LogRecord) RewriteResult {
	if res, ok := r.results[rec.LogID]; ok {
		return res
	}
	return RewriteOK
}

type fakeStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	readErr  error
	writeErr error
	writes   int
	closed   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]byte)}
}

func (s *fakeStore) Read(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	v, ok := s.data[key]
	if !ok {
		return nil, statestore.ErrNotFound
	}
	return v, nil
}

func (s *fakeStore) Write(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writeErr != nil {
		return s.writeErr
	}
	s.data[key] = append([]byte(nil), data...)
	return nil
}

func (s *fakeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type fakeIndex struct {
	mu        sync.Mutex
	visible   int64
	ok        bool
	compacted []int64
}

func (i *fakeIndex) Compact(before int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.compacted = append(i.compacted, before)
}

func (i *fakeIndex) compactions() []int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]int64(nil), i.compacted...)
}

func (i *fakeIndex) VisibleLogID() (int64, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.visible, i.ok
}

func (i *fakeIndex) Snapshot() (IndexSnapshot, error) {
	return nil, errors.New("not supported")
}

// entry builds an ADD record payload with pk set to the log id
func entry(logID int64) fakeEntry {
	return entryWith(logID, record.TypeAdd, map[string]string{"pk": strconv.FormatInt(logID, 10)})
}

func entryWith(logID int64, typ record.Type, fields map[string]string) fakeEntry {
	data, err := record.Encode(typ, fields)
	if err != nil {
		panic(err)
	}
	return fakeEntry{logID: logID, data: data}
}
