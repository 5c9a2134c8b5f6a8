package source

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
)

// Key prefixes for Pebble storage
const (
	prefixLog    = "/drclog/" // /drclog/{8-byte big-endian id}
	prefixNextID = "/drcnext" // /drcnext -> uint64 (next log id)
)

// Pebble configuration constants
const (
	memTableSize                = 64 << 20 // 64MB
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
	lBaseMaxBytes               = 256 << 20 // 256MB
	maxConcurrentCompactions    = 3
)

const defaultReadLimit = 100

// Entry is one raw payload and its log id
type Entry struct {
	LogID int64
	Data  []byte
}

// Log is a Pebble-backed append-only log of raw record payloads. Ids are
// assigned densely from 0. A Log opened with OpenLog is shared by every
// caller in the process that opens the same path.
type Log struct {
	db   *pebble.DB
	path string

	appendMu sync.Mutex
	nextID   atomic.Int64
	closed   atomic.Bool
	refs     int
}

var (
	openLogsMu sync.Mutex
	openLogs   = make(map[string]*Log)
)

// OpenLog opens the log at path, or returns the already open instance
// with its reference count raised. Each OpenLog needs a matching Close.
func OpenLog(path string) (*Log, error) {
	openLogsMu.Lock()
	defer openLogsMu.Unlock()

	if l, ok := openLogs[path]; ok {
		l.refs++
		return l, nil
	}

	l, err := openLog(path)
	if err != nil {
		return nil, err
	}
	l.refs = 1
	openLogs[path] = l
	return l, nil
}

func openLog(path string) (*Log, error) {
	opts := &pebble.Options{
		// Optimize for sequential writes
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		LBaseMaxBytes:               lBaseMaxBytes,
		MaxConcurrentCompactions:    func() int { return maxConcurrentCompactions },
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open log at %s: %w", path, err)
	}

	l := &Log{db: db, path: path}
	if err := l.loadNextID(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load next log id: %w", err)
	}

	log.Debug().Str("path", path).Int64("next_log_id", l.nextID.Load()).Msg("Opened source log")
	return l, nil
}

func (l *Log) loadNextID() error {
	val, closer, err := l.db.Get([]byte(prefixNextID))
	if err == pebble.ErrNotFound {
		l.nextID.Store(0)
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(val) != 8 {
		return fmt.Errorf("invalid next id value length: %d", len(val))
	}
	l.nextID.Store(int64(binary.LittleEndian.Uint64(val)))
	return nil
}

// Append writes payloads in one batch and returns the id of the first
func (l *Log) Append(payloads ...[]byte) (int64, error) {
	if l.closed.Load() {
		return 0, fmt.Errorf("log is closed")
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	first := l.nextID.Load()
	if len(payloads) == 0 {
		return first, nil
	}

	batch := l.db.NewBatch()
	defer batch.Close()

	id := first
	for _, p := range payloads {
		if err := batch.Set(logKey(id), p, nil); err != nil {
			return 0, fmt.Errorf("failed to write log entry: %w", err)
		}
		id++
	}

	next := make([]byte, 8)
	binary.LittleEndian.PutUint64(next, uint64(id))
	if err := batch.Set([]byte(prefixNextID), next, nil); err != nil {
		return 0, fmt.Errorf("failed to update next id: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}

	// Only publish the new ids after a successful commit
	l.nextID.Store(id)
	return first, nil
}

// ReadFrom returns up to limit entries with id >= from, in id order
func (l *Log) ReadFrom(from int64, limit int) ([]Entry, error) {
	if l.closed.Load() {
		return nil, fmt.Errorf("log is closed")
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}
	if from < 0 {
		from = 0
	}

	start := logKey(from)
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: prefixUpperBound([]byte(prefixLog)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	entries := make([]Entry, 0, limit)
	for iter.SeekGE(start); iter.Valid() && len(entries) < limit; iter.Next() {
		key := iter.Key()
		if len(key) != len(prefixLog)+8 {
			log.Warn().Bytes("key", key).Msg("Skipping malformed log key")
			continue
		}
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			LogID: int64(binary.BigEndian.Uint64(key[len(prefixLog):])),
			Data:  append([]byte(nil), val...),
		})
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}
	return entries, nil
}

// LastLogID returns the id of the newest entry, -1 when empty
func (l *Log) LastLogID() int64 {
	return l.nextID.Load() - 1
}

// TruncateBefore deletes every entry with id < before
func (l *Log) TruncateBefore(before int64) error {
	if l.closed.Load() {
		return fmt.Errorf("log is closed")
	}
	if before <= 0 {
		return nil
	}
	if err := l.db.DeleteRange([]byte(prefixLog), logKey(before), pebble.Sync); err != nil {
		return fmt.Errorf("failed to truncate log: %w", err)
	}
	log.Debug().Int64("before", before).Str("path", l.path).Msg("Truncated source log")
	return nil
}

// Close drops one reference and closes the database with the last one
func (l *Log) Close() error {
	openLogsMu.Lock()
	defer openLogsMu.Unlock()

	if l.closed.Load() {
		return fmt.Errorf("log already closed")
	}

	l.refs--
	if l.refs > 0 {
		return nil
	}

	l.closed.Store(true)
	if openLogs[l.path] == l {
		delete(openLogs, l.path)
	}
	return l.db.Close()
}

// logKey is the prefix plus the big-endian id so keys sort by id
func logKey(id int64) []byte {
	key := make([]byte, len(prefixLog)+8)
	copy(key, prefixLog)
	binary.BigEndian.PutUint64(key[len(prefixLog):], uint64(id))
	return key
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil // Prefix is all 0xff
}
