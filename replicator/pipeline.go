package replicator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/maxpert/drc/record"
	"github.com/maxpert/drc/statestore"
	"github.com/maxpert/drc/telemetry"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyRunning is returned when starting a running pipeline or replicator
	ErrAlreadyRunning = errors.New("already running")
	// ErrLogGap means the replay window cannot be completed with contiguous data
	ErrLogGap = errors.New("log gap in replay window")
	// ErrSinkWrite means at least one sink rejected a record
	ErrSinkWrite = errors.New("sink write failed")
)

// PipelineState is the lifecycle position of a pipeline
type PipelineState int32

const (
	StateNew PipelineState = iota
	StateReady
	StateRunning
	StateStopped
)

func (s PipelineState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// PipelineConfig wires a pipeline to its collaborators
type PipelineConfig struct {
	Name               string
	Source             Source
	Writers            []*LogWriter
	Store              statestore.Store
	Rewriter           LogRewriter
	Index              IndexHandle // nil means no visibility watermark
	Clock              clock.Clock
	CheckpointInterval time.Duration
}

// PipelineStatus is a point-in-time view of a pipeline for operators
type PipelineStatus struct {
	Name           string   `json:"name"`
	State          string   `json:"state"`
	ConsumedLogID  int64    `json:"consumed_log_id"`
	PersistedLogID int64    `json:"persisted_log_id"`
	Sinks          []string `json:"sinks"`
}

// Pipeline replicates one source into a set of sinks and keeps a
// recoverable checkpoint of its progress. Run, Start and ReplicateLogRange
// must be called from a single goroutine; Status and Stop are safe anywhere.
type Pipeline struct {
	config     PipelineConfig
	checkpoint *Checkpoint

	state         atomic.Int32
	consumedLogID atomic.Int64
	// mirror of checkpoint.PersistedLogID for readers on other goroutines
	persistedLogID atomic.Int64
}

// NewPipeline validates config and returns a pipeline in StateNew
func NewPipeline(config PipelineConfig) (*Pipeline, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("pipeline name is required")
	}
	if config.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if len(config.Writers) == 0 {
		return nil, fmt.Errorf("at least one writer is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if config.Rewriter == nil {
		return nil, fmt.Errorf("rewriter is required")
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	p := &Pipeline{
		config:     config,
		checkpoint: NewCheckpoint(config.Clock),
	}
	p.state.Store(int32(StateNew))
	p.consumedLogID.Store(-1)
	p.persistedLogID.Store(-1)
	return p, nil
}

// Name returns the pipeline name
func (p *Pipeline) Name() string {
	return p.config.Name
}

// State returns the lifecycle state
func (p *Pipeline) State() PipelineState {
	return PipelineState(p.state.Load())
}

// ConsumedLogID is the highest log id fully processed
func (p *Pipeline) ConsumedLogID() int64 {
	return p.consumedLogID.Load()
}

// PersistedLogID is the current checkpoint
func (p *Pipeline) PersistedLogID() int64 {
	return p.persistedLogID.Load()
}

// Recover loads the persisted checkpoint. Only a store error or a
// malformed checkpoint fails; a missing one starts from scratch.
func (p *Pipeline) Recover() error {
	if err := p.checkpoint.Recover(p.config.Store); err != nil {
		log.Error().Err(err).Str("pipeline", p.config.Name).Msg("Failed to recover checkpoint")
		return err
	}
	p.persistedLogID.Store(p.checkpoint.PersistedLogID())
	p.state.CompareAndSwap(int32(StateNew), int32(StateReady))

	log.Info().
		Str("pipeline", p.config.Name).
		Int64("persisted_log_id", p.checkpoint.PersistedLogID()).
		Msg("Recovered replication checkpoint")
	return nil
}

// Start recovers and begins replication after the persisted checkpoint,
// or after requestedOffset-1 when that is further ahead.
func (p *Pipeline) Start(ctx context.Context, requestedOffset int64) error {
	if p.State() == StateRunning {
		return fmt.Errorf("pipeline %s: %w", p.config.Name, ErrAlreadyRunning)
	}

	if err := p.Recover(); err != nil {
		return fmt.Errorf("pipeline %s: recover: %w", p.config.Name, err)
	}

	consumed := int64(-1)
	if requestedOffset > 0 {
		consumed = requestedOffset - 1
	}
	if persisted := p.checkpoint.PersistedLogID(); persisted > consumed {
		consumed = persisted
	}

	if err := p.config.Rewriter.Init(p.config.Index); err != nil {
		return fmt.Errorf("pipeline %s: init rewriter: %w", p.config.Name, err)
	}

	p.consumedLogID.Store(consumed)
	p.state.Store(int32(StateRunning))
	telemetry.ConsumedLogID.With(p.config.Name).Set(float64(consumed))

	log.Info().
		Str("pipeline", p.config.Name).
		Int64("requested_offset", requestedOffset).
		Int64("consumed_log_id", consumed).
		Int("sinks", len(p.config.Writers)).
		Msg("Started replication pipeline")
	return nil
}

// Run replays the next window of the source, then advances and, rate
// limited, persists the checkpoint. It is a no-op unless running.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.State() != StateRunning {
		return nil
	}

	end := p.windowEnd(ctx)
	count, err := p.ReplicateLogRange(ctx, p.consumedLogID.Load()+1, end)
	if count > 0 {
		log.Debug().
			Str("pipeline", p.config.Name).
			Int("count", count).
			Int64("consumed_log_id", p.consumedLogID.Load()).
			Msg("Replicated log range")
	}

	p.updateCheckpoint()
	p.saveCheckpoint()
	return err
}

// windowEnd is the exclusive end of the next replay window. The index
// watermark bounds it; without one the source's latest id is used, and
// failing that the window is open-ended.
func (p *Pipeline) windowEnd(ctx context.Context) int64 {
	if p.config.Index != nil {
		if visible, ok := p.config.Index.VisibleLogID(); ok {
			telemetry.VisibleLogID.With(p.config.Name).Set(float64(visible))
			return exclusiveEnd(visible)
		}
	}

	latest, err := p.config.Source.LatestLogID(ctx)
	if err != nil {
		log.Debug().Err(err).Str("pipeline", p.config.Name).Msg("Latest log id unavailable, window unbounded")
		return math.MaxInt64
	}
	return exclusiveEnd(latest)
}

func exclusiveEnd(last int64) int64 {
	if last == math.MaxInt64 {
		return last
	}
	return last + 1
}

// ReplicateLogRange replays records with ids in [start, end). It returns
// the number of records written and fails on a gap (a record at or past
// end before the window completes), a read error, a snapshot failure or a
// sink write failure. Progress made before a failure is kept.
func (p *Pipeline) ReplicateLogRange(ctx context.Context, start, end int64) (count int, err error) {
	name := p.config.Name
	defer func() {
		result := "success"
		if err != nil {
			result = "failed"
		}
		telemetry.ReplicateRangeTotal.With(name, result).Inc()
		telemetry.RecordsWrittenPerRange.With(name).Observe(float64(count))
		telemetry.ConsumedLogID.With(name).Set(float64(p.consumedLogID.Load()))
	}()

	if start >= end {
		return 0, nil
	}

	if err := p.config.Source.Seek(ctx, start); err != nil {
		return 0, fmt.Errorf("seek to %d: %w", start, err)
	}

	if err := p.config.Rewriter.CreateSnapshot(ctx); err != nil {
		return 0, fmt.Errorf("create rewrite snapshot: %w", err)
	}
	defer p.config.Rewriter.ReleaseSnapshot()

	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		data, logID, err := p.config.Source.Read(ctx)
		if errors.Is(err, ErrSourceExhausted) {
			log.Debug().Str("pipeline", name).Int64("consumed_log_id", p.consumedLogID.Load()).Msg("No more data in source")
			return count, nil
		}
		if err != nil {
			log.Warn().Err(err).Str("pipeline", name).Msg("Failed to read from source")
			return count, fmt.Errorf("read source: %w", err)
		}

		if logID >= end {
			return count, fmt.Errorf("%w: got log id %d in window [%d, %d), consumed %d",
				ErrLogGap, logID, start, end, p.consumedLogID.Load())
		}
		// already consumed, source handed back an earlier record
		if logID < start || logID <= p.consumedLogID.Load() {
			continue
		}

		written, err := p.replicateRecord(ctx, data, logID)
		if err != nil {
			return count, err
		}
		if written {
			count++
		}
		p.consumedLogID.Store(logID)

		if logID == end-1 {
			return count, nil
		}
	}
}

// replicateRecord parses, rewrites and routes one record. It reports
// whether the record was routed to the writers.
func (p *Pipeline) replicateRecord(ctx context.Context, data []byte, logID int64) (bool, error) {
	name := p.config.Name

	rec, ok := record.Parse(data, logID)
	if !ok {
		log.Warn().Str("pipeline", name).Int64("log_id", logID).Msg("Skipping unparsable log record")
		telemetry.RecordsTotal.With(name, "unparsable").Inc()
		return false, nil
	}

	switch res := p.config.Rewriter.Rewrite(rec); res {
	case RewriteOK:
	case RewriteDrop:
		telemetry.RecordsTotal.With(name, "dropped").Inc()
		return false, nil
	default:
		log.Warn().Str("pipeline", name).Int64("log_id", logID).Str("type", rec.Type.String()).Msg("Failed to rewrite log record, skipping")
		telemetry.RecordsTotal.With(name, "rewrite_error").Inc()
		return false, nil
	}

	// every sink is attempted independently; a failure on any of them
	// leaves the record unconsumed so the next tick retries it
	var failed []string
	for _, w := range p.config.Writers {
		if w.Write(ctx, rec) == WriteFail {
			failed = append(failed, w.Name())
		}
	}
	if len(failed) > 0 {
		return false, fmt.Errorf("%w: log id %d, sinks %v", ErrSinkWrite, logID, failed)
	}

	telemetry.RecordsTotal.With(name, "written").Inc()
	return true, nil
}

// updateCheckpoint advances the checkpoint to the consumed position,
// held back by any writer whose sink has not committed all its writes.
func (p *Pipeline) updateCheckpoint() {
	candidate := p.consumedLogID.Load()
	for _, w := range p.config.Writers {
		if w.Drained() {
			continue
		}
		if committed := w.CommittedCheckpoint(); committed < candidate {
			candidate = committed
		}
	}

	p.checkpoint.Update(candidate)
	p.persistedLogID.Store(p.checkpoint.PersistedLogID())
}

func (p *Pipeline) saveCheckpoint() {
	wrote, err := p.checkpoint.Save(p.config.Store, p.config.CheckpointInterval)
	if !wrote {
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("pipeline", p.config.Name).Msg("Failed to save checkpoint, will retry")
		telemetry.CheckpointSavesTotal.With(p.config.Name, "failed").Inc()
		return
	}
	telemetry.CheckpointSavesTotal.With(p.config.Name, "success").Inc()
}

// Stop clears the running state. It is idempotent.
func (p *Pipeline) Stop() {
	if PipelineState(p.state.Swap(int32(StateStopped))) == StateRunning {
		log.Info().
			Str("pipeline", p.config.Name).
			Int64("consumed_log_id", p.consumedLogID.Load()).
			Int64("persisted_log_id", p.persistedLogID.Load()).
			Msg("Stopped replication pipeline")
	}
}

// Close stops the pipeline, writes a final checkpoint and releases its
// source, sinks and store. It must not run concurrently with Run.
func (p *Pipeline) Close() error {
	recovered := p.State() != StateNew
	p.Stop()

	if recovered {
		p.updateCheckpoint()
		if err := p.checkpoint.Flush(p.config.Store); err != nil {
			log.Warn().Err(err).Str("pipeline", p.config.Name).Msg("Failed to flush checkpoint on close")
			telemetry.CheckpointSavesTotal.With(p.config.Name, "failed").Inc()
		} else {
			telemetry.CheckpointSavesTotal.With(p.config.Name, "success").Inc()
		}
	}

	var g errgroup.Group
	g.Go(p.config.Source.Close)
	for _, w := range p.config.Writers {
		g.Go(w.Close)
	}
	g.Go(p.config.Store.Close)
	return g.Wait()
}

// Status returns a snapshot of the pipeline for operators
func (p *Pipeline) Status() PipelineStatus {
	sinks := make([]string, len(p.config.Writers))
	for i, w := range p.config.Writers {
		sinks[i] = w.Name()
	}
	return PipelineStatus{
		Name:           p.config.Name,
		State:          p.State().String(),
		ConsumedLogID:  p.consumedLogID.Load(),
		PersistedLogID: p.persistedLogID.Load(),
		Sinks:          sinks,
	}
}
