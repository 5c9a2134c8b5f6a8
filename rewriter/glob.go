package rewriter

import (
	"context"
	"fmt"

	"github.com/gobwas/glob"
	"github.com/maxpert/drc/cfg"
	"github.com/maxpert/drc/record"
	"github.com/maxpert/drc/replicator"
)

const (
	ModeInclude = "include"
	ModeExclude = "exclude"
)

func init() {
	replicator.RegisterRewriter("glob_filter", func(config cfg.RewriterConfig) (replicator.LogRewriter, error) {
		return NewGlobFilter(
			config.Parameters["field"],
			cfg.ParamList(config.Parameters, "patterns"),
			config.Parameters["mode"],
		)
	})
}

// GlobFilter drops records by matching one field against glob patterns.
// In include mode records whose field matches any pattern are forwarded;
// exclude mode inverts that. A record without the field is dropped in
// include mode and forwarded in exclude mode.
type GlobFilter struct {
	field   string
	globs   []glob.Glob
	exclude bool
}

// NewGlobFilter compiles patterns. Empty patterns match everything.
func NewGlobFilter(field string, patterns []string, mode string) (*GlobFilter, error) {
	if field == "" {
		return nil, fmt.Errorf("glob filter requires field")
	}

	f := &GlobFilter{
		field: field,
		globs: make([]glob.Glob, 0, len(patterns)),
	}
	switch mode {
	case "", ModeInclude:
	case ModeExclude:
		f.exclude = true
	default:
		return nil, fmt.Errorf("invalid glob filter mode %q", mode)
	}

	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		f.globs = append(f.globs, g)
	}

	return f, nil
}

// Match reports whether value matches any configured pattern
func (f *GlobFilter) Match(value string) bool {
	if len(f.globs) == 0 {
		return true
	}
	for _, g := range f.globs {
		if g.Match(value) {
			return true
		}
	}
	return false
}

func (f *GlobFilter) Init(replicator.IndexHandle) error    { return nil }
func (f *GlobFilter) CreateSnapshot(context.Context) error { return nil }
func (f *GlobFilter) ReleaseSnapshot()                     {}

func (f *GlobFilter) Rewrite(rec *record.LogRecord) replicator.RewriteResult {
	value, ok := rec.GetField(f.field)
	matched := ok && f.Match(value)
	if matched != f.exclude {
		return replicator.RewriteOK
	}
	return replicator.RewriteDrop
}
