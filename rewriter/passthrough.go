package rewriter

import (
	"context"

	"github.com/maxpert/drc/cfg"
	"github.com/maxpert/drc/record"
	"github.com/maxpert/drc/replicator"
)

func init() {
	replicator.RegisterRewriter(cfg.DefaultRewriterType, func(cfg.RewriterConfig) (replicator.LogRewriter, error) {
		return Passthrough{}, nil
	})
}

// Passthrough forwards every record unchanged
type Passthrough struct{}

func (Passthrough) Init(replicator.IndexHandle) error                  { return nil }
func (Passthrough) CreateSnapshot(context.Context) error               { return nil }
func (Passthrough) ReleaseSnapshot()                                   {}
func (Passthrough) Rewrite(*record.LogRecord) replicator.RewriteResult { return replicator.RewriteOK }
