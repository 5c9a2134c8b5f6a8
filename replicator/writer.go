package replicator

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/maxpert/drc/hashing"
	"github.com/maxpert/drc/record"
	"github.com/maxpert/drc/telemetry"
	"github.com/rs/zerolog/log"
)

// WriteResult is the outcome of routing one record to one sink
type WriteResult uint8

const (
	WriteOK WriteResult = iota
	// WriteIgnore means the record lacks a partition key field for this sink
	WriteIgnore
	WriteFail
)

func (r WriteResult) String() string {
	switch r {
	case WriteOK:
		return "ok"
	case WriteIgnore:
		return "ignore"
	default:
		return "fail"
	}
}

// LogWriter routes records to a Sink partition by hashing key fields
type LogWriter struct {
	name      string
	sink      Sink
	hash      hashing.Func
	keyFields []string

	// log id of the last successful write, -1 before the first
	lastWritten atomic.Int64
}

// NewLogWriter creates a writer. keyFields must be non-empty.
func NewLogWriter(name string, sink Sink, hash hashing.Func, keyFields []string) (*LogWriter, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if hash == nil {
		return nil, fmt.Errorf("hash function is required")
	}
	if len(keyFields) == 0 {
		return nil, fmt.Errorf("sink %s: hash fields are required", name)
	}

	w := &LogWriter{
		name:      name,
		sink:      sink,
		hash:      hash,
		keyFields: append([]string(nil), keyFields...),
	}
	w.lastWritten.Store(-1)
	return w, nil
}

// Name returns the sink name
func (w *LogWriter) Name() string {
	return w.name
}

// Write routes rec to its partition
func (w *LogWriter) Write(ctx context.Context, rec *record.LogRecord) WriteResult {
	values := make([]string, len(w.keyFields))
	for i, field := range w.keyFields {
		v, ok := rec.GetField(field)
		if !ok {
			telemetry.SinkWritesTotal.With(w.name, WriteIgnore.String()).Inc()
			return WriteIgnore
		}
		values[i] = v
	}

	partition := w.hash.Partition(values)
	if err := w.sink.Write(ctx, partition, rec.RawData, rec.LogID); err != nil {
		log.Warn().
			Err(err).
			Str("sink", w.name).
			Int64("log_id", rec.LogID).
			Uint32("partition", partition).
			Msg("Failed to write record to sink")
		telemetry.SinkWritesTotal.With(w.name, WriteFail.String()).Inc()
		return WriteFail
	}

	w.lastWritten.Store(rec.LogID)
	telemetry.SinkWritesTotal.With(w.name, WriteOK.String()).Inc()
	return WriteOK
}

// CommittedCheckpoint delegates to the sink
func (w *LogWriter) CommittedCheckpoint() int64 {
	return w.sink.CommittedCheckpoint()
}

// Drained reports whether every successful write is committed at the sink
func (w *LogWriter) Drained() bool {
	return w.sink.CommittedCheckpoint() >= w.lastWritten.Load()
}

// Close closes the underlying sink
func (w *LogWriter) Close() error {
	return w.sink.Close()
}
