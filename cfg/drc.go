package cfg

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Replicator config defaults
const (
	DefaultLogLoopIntervalMS    int64 = 2
	DefaultStartOffset          int64 = -1
	DefaultCheckpointIntervalMS int64 = 1000
	DefaultCompactIntervalMS    int64 = 60000
	DefaultRewriterType               = "passthrough"
)

// DistributionConfig selects the partition hash for a sink
type DistributionConfig struct {
	HashFunction string            `json:"hash_function"`
	HashFields   []string          `json:"hash_fields"`
	HashParams   map[string]string `json:"hash_params"`
}

// SourceConfig describes the log being tailed
type SourceConfig struct {
	Type       string            `json:"type"`
	Parameters map[string]string `json:"parameters"`
}

// SinkConfig describes one replication target
type SinkConfig struct {
	Name              string             `json:"name"`
	Type              string             `json:"type"`
	SourceStartOffset int64              `json:"source_start_offset"`
	Distribution      DistributionConfig `json:"distribution_config"`
	Parameters        map[string]string  `json:"parameters"`
}

// RewriterConfig selects the record rewrite strategy
type RewriterConfig struct {
	Type       string            `json:"type"`
	Parameters map[string]string `json:"parameters"`
}

// IndexConfig enables the in-process index that follows the source and
// bounds replication by what it has made visible
type IndexConfig struct {
	Enabled  bool   `json:"enabled"`
	KeyField string `json:"key_field"`
}

// DrcConfig is the replicator configuration. It is treated as immutable
// once loaded; derived configs are fresh copies.
type DrcConfig struct {
	Enabled              bool           `json:"enabled"`
	CheckpointRoot       string         `json:"checkpoint_root"`
	Source               SourceConfig   `json:"source"`
	Sinks                []SinkConfig   `json:"sinks"`
	LogLoopIntervalMS    int64          `json:"log_loop_interval_ms"`
	StartOffset          int64          `json:"start_offset"`
	ShareMode            bool           `json:"share_mode"`
	CheckpointIntervalMS int64          `json:"checkpoint_save_interval_ms"`
	Rewriter             RewriterConfig `json:"rewriter"`
	Index                IndexConfig    `json:"index"`
	// CompactIntervalMS paces index compaction and source truncation, 0 disables both
	CompactIntervalMS int64 `json:"compact_interval_ms"`
	// TruncateSource deletes source records every pipeline has checkpointed
	TruncateSource bool `json:"truncate_source"`
}

// NewDrcConfig returns a config populated with defaults
func NewDrcConfig() *DrcConfig {
	return &DrcConfig{
		LogLoopIntervalMS:    DefaultLogLoopIntervalMS,
		StartOffset:          DefaultStartOffset,
		ShareMode:            true,
		CheckpointIntervalMS: DefaultCheckpointIntervalMS,
		CompactIntervalMS:    DefaultCompactIntervalMS,
		Rewriter:             RewriterConfig{Type: DefaultRewriterType},
	}
}

// LoadDrcConfig reads and validates a replicator config file
func LoadDrcConfig(path string) (*DrcConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read drc config %s: %w", path, err)
	}
	return ParseDrcConfig(data)
}

// ParseDrcConfig decodes JSON over the defaults and validates the result
func ParseDrcConfig(data []byte) (*DrcConfig, error) {
	c := NewDrcConfig()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to decode drc config: %w", err)
	}
	if c.Rewriter.Type == "" {
		c.Rewriter.Type = DefaultRewriterType
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the replicator config for errors
func (c *DrcConfig) Validate() error {
	if c.CheckpointRoot == "" {
		return fmt.Errorf("checkpoint_root is required")
	}
	if c.Source.Type == "" {
		return fmt.Errorf("source type is required")
	}
	if len(c.Sinks) == 0 {
		return fmt.Errorf("at least one sink is required")
	}
	if c.LogLoopIntervalMS < 1 {
		return fmt.Errorf("log_loop_interval_ms must be >= 1")
	}
	if c.CheckpointIntervalMS < 0 {
		return fmt.Errorf("checkpoint_save_interval_ms must be >= 0")
	}
	if c.CompactIntervalMS < 0 {
		return fmt.Errorf("compact_interval_ms must be >= 0")
	}

	if c.Index.Enabled && c.Index.KeyField == "" {
		return fmt.Errorf("index key_field is required when the index is enabled")
	}

	seen := make(map[string]bool, len(c.Sinks))
	for _, s := range c.Sinks {
		if s.Name == "" {
			return fmt.Errorf("sink name is required")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate sink name: %s", s.Name)
		}
		seen[s.Name] = true
		if s.Type == "" {
			return fmt.Errorf("sink %s: type is required", s.Name)
		}
		if strings.Contains(s.Name, "/") {
			return fmt.Errorf("sink %s: name must not contain '/'", s.Name)
		}
	}
	return nil
}

// DeriveForSingleSink returns a copy scoped to exactly one sink, with its
// own checkpoint root and the sink's start offset when one is set.
func (c *DrcConfig) DeriveForSingleSink(sink SinkConfig) *DrcConfig {
	derived := *c
	derived.Sinks = []SinkConfig{sink}
	derived.CheckpointRoot = strings.TrimRight(c.CheckpointRoot, "/") + "/" + sink.Name
	if sink.SourceStartOffset > 0 {
		derived.StartOffset = sink.SourceStartOffset
	}
	return &derived
}

// UsesSharedPipeline reports whether all sinks share a single pipeline
func (c *DrcConfig) UsesSharedPipeline() bool {
	return c.ShareMode || len(c.Sinks) == 1
}
