package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/maxpert/drc/record"
	"github.com/maxpert/drc/replicator"
	"github.com/rs/zerolog/log"
)

// Follower keeps a MemoryIndex current by tailing a Source and applying
// each record's key at its log id.
type Follower struct {
	index    *MemoryIndex
	source   replicator.Source
	keyField string
	clock    clock.Clock
	next     int64
}

// NewFollower creates a follower starting after the index's watermark
func NewFollower(index *MemoryIndex, source replicator.Source, keyField string, clk clock.Clock) *Follower {
	if clk == nil {
		clk = clock.New()
	}
	next := int64(0)
	if visible, ok := index.VisibleLogID(); ok {
		next = visible + 1
	}
	return &Follower{index: index, source: source, keyField: keyField, clock: clk, next: next}
}

// CatchUp applies every record the source currently has and returns how
// many were read
func (f *Follower) CatchUp(ctx context.Context) (int, error) {
	if err := f.source.Seek(ctx, f.next); err != nil {
		return 0, fmt.Errorf("seek to %d: %w", f.next, err)
	}

	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		data, logID, err := f.source.Read(ctx)
		if errors.Is(err, replicator.ErrSourceExhausted) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("read source: %w", err)
		}
		if logID < f.next {
			continue
		}

		f.apply(data, logID)
		f.next = logID + 1
		count++
	}
}

func (f *Follower) apply(data []byte, logID int64) {
	rec, ok := record.Parse(data, logID)
	if ok {
		if key, found := rec.GetField(f.keyField); found {
			if err := f.index.Apply(key, logID); err == nil {
				return
			}
		}
	}
	f.index.Advance(logID)
}

// Run calls CatchUp every interval until ctx is done
func (f *Follower) Run(ctx context.Context, interval time.Duration) {
	ticker := f.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := f.CatchUp(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Int64("next_log_id", f.next).Msg("Index follower catch-up failed")
			}
		}
	}
}
