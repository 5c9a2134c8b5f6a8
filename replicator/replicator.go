package replicator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/maxpert/drc/cfg"
	"github.com/maxpert/drc/hashing"
	"github.com/maxpert/drc/statestore"
	"github.com/maxpert/drc/telemetry"
	"github.com/rs/zerolog/log"
)

// SharedPipelineName keys the single pipeline used in share mode
const SharedPipelineName = "share"

// ReplicatorConfig configures the replicator
type ReplicatorConfig struct {
	Drc   *cfg.DrcConfig
	Index IndexHandle // optional visibility watermark and rewrite snapshots
	Clock clock.Clock // defaults to wall time
}

// Replicator owns the replication pipelines derived from a DrcConfig and
// drives them from a single ticker goroutine. Pipelines run one after the
// other within a tick, so a slow sink delays its siblings for that tick.
type Replicator struct {
	config *cfg.DrcConfig
	index  IndexHandle
	clock  clock.Clock

	pipelines map[string]*Pipeline
	mu        sync.RWMutex

	// owned by the work loop goroutine
	lastCompact time.Time

	running     atomic.Bool
	lifecycleMu sync.Mutex // Protects Start/Stop lifecycle operations
	ticker      *clock.Ticker
	ctx         context.Context
	cancel      context.CancelFunc
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewReplicator creates a stopped replicator
func NewReplicator(config ReplicatorConfig) (*Replicator, error) {
	if config.Drc == nil {
		return nil, fmt.Errorf("drc config is required")
	}
	if err := config.Drc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid drc config: %w", err)
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	return &Replicator{
		config:    config.Drc,
		index:     config.Index,
		clock:     config.Clock,
		pipelines: make(map[string]*Pipeline),
	}, nil
}

// Start launches the work loop ticker
func (r *Replicator) Start() error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if !r.config.Enabled {
		return fmt.Errorf("replicator is disabled")
	}
	if r.running.Load() {
		return fmt.Errorf("replicator: %w", ErrAlreadyRunning)
	}

	interval := time.Duration(r.config.LogLoopIntervalMS) * time.Millisecond
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.ticker = r.clock.Ticker(interval)
	r.running.Store(true)

	log.Info().
		Dur("interval", interval).
		Bool("share_mode", r.config.UsesSharedPipeline()).
		Int("sinks", len(r.config.Sinks)).
		Msg("Starting log replicator")

	go r.loop(r.ctx, r.ticker, r.stopCh, r.doneCh)
	return nil
}

func (r *Replicator) loop(ctx context.Context, ticker *clock.Ticker, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			r.workLoop(ctx)
		}
	}
}

// workLoop is one tick: create missing pipelines, then run each in turn
func (r *Replicator) workLoop(ctx context.Context) {
	if !r.running.Load() {
		return
	}
	started := r.clock.Now()

	r.maybeCreatePipelines(ctx)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.sortedNamesLocked() {
		p := r.pipelines[name]
		if err := p.Run(ctx); err != nil {
			event := log.Warn()
			if errors.Is(err, ErrLogGap) || errors.Is(err, context.Canceled) {
				event = log.Debug()
			}
			event.Err(err).Str("pipeline", name).Msg("Replication pipeline run incomplete")
		}
	}

	r.maybeCompactLocked()

	telemetry.TickDurationSeconds.Observe(r.clock.Now().Sub(started).Seconds())
}

// maybeCompactLocked lets the index forget versions and the source drop
// records that every pipeline has moved past. It waits until every
// configured pipeline exists, since a missing one has no known position.
func (r *Replicator) maybeCompactLocked() {
	interval := time.Duration(r.config.CompactIntervalMS) * time.Millisecond
	if interval <= 0 || len(r.pipelines) == 0 || len(r.pipelines) != r.expectedPipelines() {
		return
	}
	now := r.clock.Now()
	if !r.lastCompact.IsZero() && now.Sub(r.lastCompact) < interval {
		return
	}
	r.lastCompact = now

	consumed, persisted := int64(math.MaxInt64), int64(math.MaxInt64)
	var truncator SourceTruncator
	for _, name := range r.sortedNamesLocked() {
		p := r.pipelines[name]
		consumed = min(consumed, p.ConsumedLogID())
		persisted = min(persisted, p.PersistedLogID())
		if t, ok := p.config.Source.(SourceTruncator); ok && truncator == nil {
			truncator = t
		}
	}

	// no snapshot is open between runs, and later ones are taken at a
	// watermark no lower than any pipeline's consumed position
	if c, ok := r.index.(IndexCompactor); ok && consumed >= 0 {
		c.Compact(consumed)
		log.Debug().Int64("before", consumed).Msg("Compacted index versions")
	}

	if r.config.TruncateSource && truncator != nil && persisted >= 0 {
		if err := truncator.TruncateBefore(persisted + 1); err != nil {
			log.Warn().Err(err).Int64("before", persisted+1).Msg("Failed to truncate source log")
		}
	}
}

func (r *Replicator) expectedPipelines() int {
	if r.config.UsesSharedPipeline() {
		return 1
	}
	return len(r.config.Sinks)
}

// maybeCreatePipelines creates whichever pipelines the config calls for
// and are not yet present.
func (r *Replicator) maybeCreatePipelines(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Stop may have won the lock while this tick was waiting
	if !r.running.Load() {
		return
	}

	if r.config.UsesSharedPipeline() {
		if _, ok := r.pipelines[SharedPipelineName]; ok {
			return
		}
		p, err := r.createPipeline(ctx, SharedPipelineName, r.config)
		if err != nil {
			log.Error().Err(err).Str("pipeline", SharedPipelineName).Msg("Failed to create replication pipeline")
			return
		}
		r.pipelines[SharedPipelineName] = p
		return
	}

	for _, sink := range r.config.Sinks {
		if _, ok := r.pipelines[sink.Name]; ok {
			continue
		}
		p, err := r.createPipeline(ctx, sink.Name, r.config.DeriveForSingleSink(sink))
		if err != nil {
			log.Error().Err(err).Str("pipeline", sink.Name).Msg("Failed to create replication pipeline")
			continue
		}
		r.pipelines[sink.Name] = p
	}
}

// createPipeline builds and starts a pipeline for config. Anything opened
// along the way is closed again on failure.
func (r *Replicator) createPipeline(ctx context.Context, name string, config *cfg.DrcConfig) (p *Pipeline, err error) {
	var opened []io.Closer
	defer func() {
		result := "success"
		if err != nil {
			result = "failed"
			for _, c := range opened {
				if cerr := c.Close(); cerr != nil {
					log.Warn().Err(cerr).Str("pipeline", name).Msg("Failed to release pipeline resource")
				}
			}
		}
		telemetry.PipelineCreateTotal.With(result).Inc()
	}()

	writers := make([]*LogWriter, 0, len(config.Sinks))
	for _, sinkCfg := range config.Sinks {
		dist := sinkCfg.Distribution
		if len(dist.HashFields) == 0 {
			return nil, fmt.Errorf("sink %s: hash_fields must not be empty", sinkCfg.Name)
		}
		hash, err := hashing.New(dist.HashFunction, dist.HashParams)
		if err != nil {
			return nil, fmt.Errorf("sink %s: %w", sinkCfg.Name, err)
		}

		snk, err := createSink(sinkCfg)
		if err != nil {
			return nil, fmt.Errorf("sink %s: %w", sinkCfg.Name, err)
		}
		opened = append(opened, snk)

		w, err := NewLogWriter(sinkCfg.Name, snk, hash, dist.HashFields)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}

	src, err := NewSource(config.Source)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	opened = append(opened, src)

	store, err := statestore.Open(config.CheckpointRoot)
	if err != nil {
		return nil, fmt.Errorf("checkpoint store: %w", err)
	}
	opened = append(opened, store)

	rw, err := createRewriter(config.Rewriter)
	if err != nil {
		return nil, fmt.Errorf("rewriter: %w", err)
	}

	p, err = NewPipeline(PipelineConfig{
		Name:               name,
		Source:             src,
		Writers:            writers,
		Store:              store,
		Rewriter:           rw,
		Index:              r.index,
		Clock:              r.clock,
		CheckpointInterval: time.Duration(config.CheckpointIntervalMS) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}

	if err := p.Start(ctx, config.StartOffset); err != nil {
		return nil, err
	}

	log.Info().
		Str("pipeline", name).
		Str("checkpoint_root", config.CheckpointRoot).
		Int("sinks", len(writers)).
		Msg("Created replication pipeline")
	return p, nil
}

// Stop stops and closes every pipeline and the work loop. It is idempotent.
func (r *Replicator) Stop() {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if !r.running.Swap(false) {
		return
	}

	log.Info().Msg("Stopping log replicator")
	r.cancel()

	r.mu.Lock()
	for name, p := range r.pipelines {
		if err := p.Close(); err != nil {
			log.Warn().Err(err).Str("pipeline", name).Msg("Failed to close replication pipeline")
		}
	}
	r.pipelines = make(map[string]*Pipeline)
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
	r.ticker.Stop()

	log.Info().Msg("Log replicator stopped")
}

// Running reports whether the work loop is active
func (r *Replicator) Running() bool {
	return r.running.Load()
}

// Pipelines returns a status snapshot of every pipeline, sorted by name
func (r *Replicator) Pipelines() []PipelineStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PipelineStatus, 0, len(r.pipelines))
	for _, name := range r.sortedNamesLocked() {
		out = append(out, r.pipelines[name].Status())
	}
	return out
}

// PipelineStats implements telemetry.StatsProvider
func (r *Replicator) PipelineStats() []telemetry.PipelineStat {
	statuses := r.Pipelines()
	out := make([]telemetry.PipelineStat, len(statuses))
	for i, s := range statuses {
		out[i] = telemetry.PipelineStat{Name: s.Name, Consumed: s.ConsumedLogID, Persisted: s.PersistedLogID}
	}
	return out
}

func (r *Replicator) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
