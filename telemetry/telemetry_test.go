package telemetry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoopMetricsWithoutRegistry(t *testing.T) {
	// Without InitializeTelemetry every constructor hands back a noop
	assert.IsType(t, NoopStat{}, NewCounter("c", "help"))
	assert.IsType(t, NoopStat{}, NewGauge("g", "help"))
	assert.IsType(t, NoopStat{}, NewHistogram("h", "help"))
	assert.IsType(t, noopCounterVec{}, NewCounterVec("cv", "help", []string{"a"}))
	assert.Nil(t, GetMetricsHandler())

	// noop metrics accept every call
	RecordsTotal.With("p", "written").Inc()
	ConsumedLogID.With("p").Set(10)
	TickDurationSeconds.Observe(0.1)
}

type countingProvider struct {
	calls atomic.Int32
}

func (c *countingProvider) PipelineStats() []PipelineStat {
	c.calls.Add(1)
	return []PipelineStat{{Name: "share", Consumed: 10, Persisted: 4}}
}

func TestMetricsCollector_CollectsUntilStopped(t *testing.T) {
	provider := &countingProvider{}
	mc := NewMetricsCollector(provider, 5*time.Millisecond)

	mc.Start()
	assert.Eventually(t, func() bool { return provider.calls.Load() >= 2 }, time.Second, time.Millisecond)
	mc.Stop()

	after := provider.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, provider.calls.Load())
}

func TestMetricsCollector_NilProvider(t *testing.T) {
	mc := NewMetricsCollector(nil, time.Millisecond)
	mc.collect()
}
