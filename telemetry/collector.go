package telemetry

import (
	"sync"
	"time"
)

// PipelineStat is a point-in-time view of one pipeline's progress
type PipelineStat struct {
	Name      string
	Consumed  int64
	Persisted int64
}

// StatsProvider lists progress for every live pipeline
type StatsProvider interface {
	PipelineStats() []PipelineStat
}

// MetricsCollector periodically samples pipeline progress into gauges
type MetricsCollector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(provider StatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}

	stats := mc.provider.PipelineStats()
	PipelinesActive.Set(float64(len(stats)))

	for _, s := range stats {
		PersistedLogID.With(s.Name).Set(float64(s.Persisted))
		lag := s.Consumed - s.Persisted
		if lag < 0 {
			lag = 0
		}
		CheckpointLag.With(s.Name).Set(float64(lag))
	}
}
