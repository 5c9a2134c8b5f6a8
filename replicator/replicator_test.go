package replicator

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/maxpert/drc/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSinksMu sync.Mutex
	testSinks   = map[string]*fakeSink{}
	testSources []*fakeSource
)

func init() {
	RegisterSource("fake", func(c cfg.SourceConfig) (Source, error) {
		if c.Parameters["fail"] == "true" {
			return nil, errors.New("source unavailable")
		}
		n, _ := strconv.Atoi(c.Parameters["records"])
		entries := make([]fakeEntry, n)
		for i := range entries {
			entries[i] = entry(int64(i))
		}
		src := newFakeSource(entries...)
		testSinksMu.Lock()
		testSources = append(testSources, src)
		testSinksMu.Unlock()
		return src, nil
	})
	RegisterSink("fake", func(c cfg.SinkConfig) (Sink, error) {
		if c.Parameters["fail"] == "true" {
			return nil, errors.New("sink unavailable")
		}
		s := newFakeSink()
		testSinksMu.Lock()
		testSinks[c.Name] = s
		testSinksMu.Unlock()
		return s, nil
	})
	RegisterRewriter("fake", func(c cfg.RewriterConfig) (LogRewriter, error) {
		return &fakeRewriter{}, nil
	})
}

func testSink(name string) *fakeSink {
	testSinksMu.Lock()
	defer testSinksMu.Unlock()
	return testSinks[name]
}

func resetTestSinks() {
	testSinksMu.Lock()
	defer testSinksMu.Unlock()
	testSinks = map[string]*fakeSink{}
	testSources = nil
}

func createdSources() []*fakeSource {
	testSinksMu.Lock()
	defer testSinksMu.Unlock()
	return append([]*fakeSource(nil), testSources...)
}

func testDrcConfig(t *testing.T, shareMode bool, sinks ...cfg.SinkConfig) *cfg.DrcConfig {
	t.Helper()
	resetTestSinks()
	c := cfg.NewDrcConfig()
	c.Enabled = true
	c.CheckpointRoot = t.TempDir()
	c.ShareMode = shareMode
	c.Source = cfg.SourceConfig{Type: "fake", Parameters: map[string]string{"records": "3"}}
	c.Rewriter = cfg.RewriterConfig{Type: "fake"}
	c.Sinks = sinks
	return c
}

func fakeSinkConfig(name string) cfg.SinkConfig {
	return cfg.SinkConfig{
		Name:         name,
		Type:         "fake",
		Distribution: cfg.DistributionConfig{HashFields: []string{"pk"}},
		Parameters:   map[string]string{},
	}
}

func startedReplicator(t *testing.T, c *cfg.DrcConfig) (*Replicator, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	r, err := NewReplicator(ReplicatorConfig{Drc: c, Clock: mock})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)
	return r, mock
}

func TestNewReplicatorValidates(t *testing.T) {
	_, err := NewReplicator(ReplicatorConfig{})
	assert.Error(t, err)

	c := cfg.NewDrcConfig()
	_, err = NewReplicator(ReplicatorConfig{Drc: c})
	assert.Error(t, err)
}

func TestReplicatorStartDisabled(t *testing.T) {
	c := testDrcConfig(t, true, fakeSinkConfig("a"))
	c.Enabled = false
	r, err := NewReplicator(ReplicatorConfig{Drc: c, Clock: clock.NewMock()})
	require.NoError(t, err)
	assert.Error(t, r.Start())
	assert.False(t, r.Running())
}

func TestReplicatorStartTwice(t *testing.T) {
	r, _ := startedReplicator(t, testDrcConfig(t, true, fakeSinkConfig("a")))
	assert.ErrorIs(t, r.Start(), ErrAlreadyRunning)
}

func TestReplicatorSharedPipeline(t *testing.T) {
	c := testDrcConfig(t, true, fakeSinkConfig("a"), fakeSinkConfig("b"))
	r, _ := startedReplicator(t, c)

	r.workLoop(r.ctx)

	statuses := r.Pipelines()
	require.Len(t, statuses, 1)
	assert.Equal(t, SharedPipelineName, statuses[0].Name)
	assert.Equal(t, []string{"a", "b"}, statuses[0].Sinks)
	assert.Equal(t, int64(2), statuses[0].ConsumedLogID)

	assert.Equal(t, []int64{0, 1, 2}, testSink("a").checkpoints())
	assert.Equal(t, []int64{0, 1, 2}, testSink("b").checkpoints())

	data, err := os.ReadFile(filepath.Join(c.CheckpointRoot, CheckpointKey))
	require.NoError(t, err)
	assert.JSONEq(t, `{"persisted_log_id":2}`, string(data))
}

func TestReplicatorSingleSinkUsesSharedPipeline(t *testing.T) {
	r, _ := startedReplicator(t, testDrcConfig(t, false, fakeSinkConfig("only")))
	r.workLoop(r.ctx)

	statuses := r.Pipelines()
	require.Len(t, statuses, 1)
	assert.Equal(t, SharedPipelineName, statuses[0].Name)
}

func TestReplicatorPrivatePipelines(t *testing.T) {
	a := fakeSinkConfig("a")
	b := fakeSinkConfig("b")
	b.SourceStartOffset = 2
	c := testDrcConfig(t, false, a, b)
	r, _ := startedReplicator(t, c)

	r.workLoop(r.ctx)

	statuses := r.Pipelines()
	require.Len(t, statuses, 2)
	assert.Equal(t, "a", statuses[0].Name)
	assert.Equal(t, "b", statuses[1].Name)

	assert.Equal(t, []int64{0, 1, 2}, testSink("a").checkpoints())
	assert.Equal(t, []int64{2}, testSink("b").checkpoints())

	for _, name := range []string{"a", "b"} {
		data, err := os.ReadFile(filepath.Join(c.CheckpointRoot, name, CheckpointKey))
		require.NoError(t, err, name)
		assert.JSONEq(t, `{"persisted_log_id":2}`, string(data))
	}
}

func TestReplicatorCreationFailureIsolated(t *testing.T) {
	broken := fakeSinkConfig("broken")
	broken.Parameters["fail"] = "true"
	noKeys := fakeSinkConfig("nokeys")
	noKeys.Distribution.HashFields = nil
	c := testDrcConfig(t, false, fakeSinkConfig("good"), broken, noKeys)
	r, _ := startedReplicator(t, c)

	r.workLoop(r.ctx)
	statuses := r.Pipelines()
	require.Len(t, statuses, 1)
	assert.Equal(t, "good", statuses[0].Name)

	// creation is retried every tick
	r.workLoop(r.ctx)
	assert.Len(t, r.Pipelines(), 1)
}

func TestReplicatorSharedCreationFailure(t *testing.T) {
	c := testDrcConfig(t, true, fakeSinkConfig("a"))
	c.Source.Parameters["fail"] = "true"
	r, _ := startedReplicator(t, c)

	r.workLoop(r.ctx)
	assert.Empty(t, r.Pipelines())
}

func TestReplicatorTickerDrivesWorkLoop(t *testing.T) {
	c := testDrcConfig(t, true, fakeSinkConfig("a"))
	r, mock := startedReplicator(t, c)

	mock.Add(time.Duration(c.LogLoopIntervalMS) * time.Millisecond)
	assert.Eventually(t, func() bool {
		statuses := r.Pipelines()
		return len(statuses) == 1 && statuses[0].ConsumedLogID == 2
	}, time.Second, 5*time.Millisecond)
}

func TestReplicatorStopClosesPipelines(t *testing.T) {
	c := testDrcConfig(t, false, fakeSinkConfig("a"), fakeSinkConfig("b"))
	mock := clock.NewMock()
	r, err := NewReplicator(ReplicatorConfig{Drc: c, Clock: mock})
	require.NoError(t, err)
	require.NoError(t, r.Start())

	r.workLoop(r.ctx)
	require.Len(t, r.Pipelines(), 2)

	r.Stop()
	assert.False(t, r.Running())
	assert.Empty(t, r.Pipelines())
	assert.True(t, testSink("a").closed)
	assert.True(t, testSink("b").closed)

	// idempotent, and ticks after stop do nothing
	r.Stop()
	r.workLoop(r.ctx)
	assert.Empty(t, r.Pipelines())
}

func TestReplicatorCompactsIndexAndTruncatesSource(t *testing.T) {
	b := fakeSinkConfig("b")
	b.SourceStartOffset = 2
	c := testDrcConfig(t, false, fakeSinkConfig("a"), b)
	c.TruncateSource = true
	c.CompactIntervalMS = 1000
	// keep the ticker quiet while the clock is advanced by hand
	c.LogLoopIntervalMS = time.Hour.Milliseconds()
	index := &fakeIndex{visible: 1, ok: true}
	mock := clock.NewMock()
	r, err := NewReplicator(ReplicatorConfig{Drc: c, Index: index, Clock: mock})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)

	// a starts at 0 and stops at the watermark; b starts past it
	r.workLoop(r.ctx)
	assert.Equal(t, []int64{1}, index.compactions())
	sources := createdSources()
	require.Len(t, sources, 2)
	assert.Equal(t, []int64{2}, sources[0].truncations())

	// paced by the compaction interval
	index.mu.Lock()
	index.visible = 2
	index.mu.Unlock()
	r.workLoop(r.ctx)
	assert.Equal(t, []int64{1}, index.compactions())

	mock.Add(time.Second)
	r.workLoop(r.ctx)
	assert.Equal(t, []int64{1, 2}, index.compactions())
	assert.Equal(t, []int64{2, 3}, sources[0].truncations())
}

func TestReplicatorSkipsCompactionUntilAllPipelinesExist(t *testing.T) {
	broken := fakeSinkConfig("broken")
	broken.Parameters["fail"] = "true"
	c := testDrcConfig(t, false, fakeSinkConfig("good"), broken)
	c.TruncateSource = true
	index := &fakeIndex{visible: 2, ok: true}
	r, err := NewReplicator(ReplicatorConfig{Drc: c, Index: index, Clock: clock.NewMock()})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)

	r.workLoop(r.ctx)
	require.Len(t, r.Pipelines(), 1)
	assert.Empty(t, index.compactions())
	for _, src := range createdSources() {
		assert.Empty(t, src.truncations())
	}
}

func TestReplicatorCompactionDisabled(t *testing.T) {
	c := testDrcConfig(t, true, fakeSinkConfig("a"))
	c.CompactIntervalMS = 0
	c.TruncateSource = true
	index := &fakeIndex{visible: 2, ok: true}
	r, err := NewReplicator(ReplicatorConfig{Drc: c, Index: index, Clock: clock.NewMock()})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)

	r.workLoop(r.ctx)
	assert.Empty(t, index.compactions())
	for _, src := range createdSources() {
		assert.Empty(t, src.truncations())
	}
}

func TestReplicatorPipelineStats(t *testing.T) {
	r, _ := startedReplicator(t, testDrcConfig(t, true, fakeSinkConfig("a")))
	r.workLoop(r.ctx)

	stats := r.PipelineStats()
	require.Len(t, stats, 1)
	assert.Equal(t, SharedPipelineName, stats[0].Name)
	assert.Equal(t, int64(2), stats[0].Consumed)
	assert.Equal(t, int64(2), stats[0].Persisted)
}
