package replicator

import (
	"fmt"

	"github.com/maxpert/drc/cfg"
	"github.com/puzpuzpuz/xsync/v3"
)

// SourceFactory creates a Source from its configuration
type SourceFactory func(cfg.SourceConfig) (Source, error)

// SinkFactory creates a Sink from its configuration
type SinkFactory func(cfg.SinkConfig) (Sink, error)

// RewriterFactory creates a LogRewriter from its configuration
type RewriterFactory func(cfg.RewriterConfig) (LogRewriter, error)

var (
	sourceFactories   = xsync.NewMapOf[string, SourceFactory]()
	sinkFactories     = xsync.NewMapOf[string, SinkFactory]()
	rewriterFactories = xsync.NewMapOf[string, RewriterFactory]()
)

// RegisterSource registers a source factory for a type
func RegisterSource(sourceType string, factory SourceFactory) {
	sourceFactories.Store(sourceType, factory)
}

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	sinkFactories.Store(sinkType, factory)
}

// RegisterRewriter registers a rewriter factory for a type
func RegisterRewriter(rewriterType string, factory RewriterFactory) {
	rewriterFactories.Store(rewriterType, factory)
}

// NewSource creates a Source of the configured type
func NewSource(config cfg.SourceConfig) (Source, error) {
	factory, ok := sourceFactories.Load(config.Type)
	if !ok {
		return nil, fmt.Errorf("unknown source type: %s", config.Type)
	}
	return factory(config)
}

func createSink(config cfg.SinkConfig) (Sink, error) {
	factory, ok := sinkFactories.Load(config.Type)
	if !ok {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

func createRewriter(config cfg.RewriterConfig) (LogRewriter, error) {
	factory, ok := rewriterFactories.Load(config.Type)
	if !ok {
		return nil, fmt.Errorf("unknown rewriter type: %s", config.Type)
	}
	return factory(config)
}
