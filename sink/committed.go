package sink

import "sync/atomic"

// committedTracker records the checkpoint of the last durable write
type committedTracker struct {
	committed atomic.Int64
}

// reset marks nothing as committed yet
func (t *committedTracker) reset() {
	t.committed.Store(-1)
}

func (t *committedTracker) commit(checkpoint int64) {
	for {
		cur := t.committed.Load()
		if checkpoint <= cur || t.committed.CompareAndSwap(cur, checkpoint) {
			return
		}
	}
}

func (t *committedTracker) CommittedCheckpoint() int64 {
	return t.committed.Load()
}
