package sink

import (
	"context"
	"sync"

	"github.com/maxpert/drc/cfg"
	"github.com/maxpert/drc/replicator"
)

func init() {
	replicator.RegisterSink("memory", func(config cfg.SinkConfig) (replicator.Sink, error) {
		return NewMemorySink(), nil
	})
}

// MemorySink keeps every write in memory for inspection
type MemorySink struct {
	committedTracker
	messages []Message
	writeErr error
	closed   bool
	mu       sync.Mutex
}

// Message represents a written record
type Message struct {
	PartitionID uint32
	Data        []byte
	Checkpoint  int64
}

// NewMemorySink returns an empty sink
func NewMemorySink() *MemorySink {
	m := &MemorySink{}
	m.reset()
	return m
}

func (m *MemorySink) Write(ctx context.Context, partitionID uint32, data []byte, checkpoint int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}
	m.messages = append(m.messages, Message{PartitionID: partitionID, Data: data, Checkpoint: checkpoint})
	m.commit(checkpoint)
	return nil
}

// SetWriteError makes subsequent writes fail with err, nil restores them
func (m *MemorySink) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Messages returns a copy of everything written so far
func (m *MemorySink) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// Reset clears all recorded messages
func (m *MemorySink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}

// Closed reports whether Close was called
func (m *MemorySink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
