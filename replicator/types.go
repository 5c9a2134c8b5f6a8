package replicator

import (
	"context"
	"errors"

	"github.com/maxpert/drc/record"
)

// ErrSourceExhausted is returned by Source.Read when no more data is
// currently available. It is not a failure.
var ErrSourceExhausted = errors.New("source exhausted")

// Source tails an append-only log. Positioning is idempotent: seeking to
// the same log id twice yields the same sequence of records.
type Source interface {
	// Seek positions the next Read at the first record with id >= logID
	Seek(ctx context.Context, logID int64) error
	// Read returns the next record's payload and id
	Read(ctx context.Context) (data []byte, logID int64, err error)
	// LatestLogID is a best-effort upper bound of available data
	LatestLogID(ctx context.Context) (int64, error)
	Close() error
}

// Sink writes payloads to one of many partitions of a replication target
type Sink interface {
	// Write delivers data to a partition; checkpoint is the record's log id
	Write(ctx context.Context, partitionID uint32, data []byte, checkpoint int64) error
	// CommittedCheckpoint is the highest checkpoint durably applied by the sink, -1 if none
	CommittedCheckpoint() int64
	Close() error
}

// RewriteResult tells the pipeline what to do with a rewritten record
type RewriteResult uint8

const (
	RewriteOK RewriteResult = iota
	RewriteDrop
	RewriteError
)

func (r RewriteResult) String() string {
	switch r {
	case RewriteOK:
		return "ok"
	case RewriteDrop:
		return "drop"
	default:
		return "error"
	}
}

// SourceTruncator is implemented by sources whose log can drop records
// every pipeline has checkpointed.
type SourceTruncator interface {
	// TruncateBefore deletes every record with id < logID
	TruncateBefore(logID int64) error
}

// LogRewriter transforms or filters records against a snapshot of the
// downstream index taken once per replay window.
//
// A record for which Rewrite returns RewriteError is logged, counted and
// consumed like a dropped one: it is never written and never retried.
// Return RewriteError only for records that can never succeed.
type LogRewriter interface {
	Init(index IndexHandle) error
	CreateSnapshot(ctx context.Context) error
	ReleaseSnapshot()
	Rewrite(rec *record.LogRecord) RewriteResult
}

// IndexHandle is the downstream index the pipeline replicates into
type IndexHandle interface {
	// VisibleLogID is the watermark below which all records are visible in
	// the index. ok is false when the index has no watermark.
	VisibleLogID() (logID int64, ok bool)
	Snapshot() (IndexSnapshot, error)
}

// IndexCompactor is implemented by indexes that can forget versions
// superseded at or below a log id no reader will look behind again.
type IndexCompactor interface {
	Compact(before int64)
}

// IndexSnapshot is a consistent point-in-time view of the index
type IndexSnapshot interface {
	// Version returns the log id that last touched key
	Version(key string) (int64, bool)
	Release()
}
