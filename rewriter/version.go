package rewriter

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/drc/cfg"
	"github.com/maxpert/drc/record"
	"github.com/maxpert/drc/replicator"
	"github.com/rs/zerolog/log"
)

const DefaultVersionCacheSize = 4096

func init() {
	replicator.RegisterRewriter("index_version", func(config cfg.RewriterConfig) (replicator.LogRewriter, error) {
		size, err := cfg.ParamInt(config.Parameters, "cache_size", DefaultVersionCacheSize)
		if err != nil {
			return nil, err
		}
		return NewIndexVersion(config.Parameters["key_field"], size)
	})
}

type cachedVersion struct {
	logID int64
	found bool
}

// IndexVersion drops records that the downstream index has already
// superseded: when the snapshot holds a write for the record's key at a
// later log id, forwarding the older record would only regress the sink.
// Lookups are cached for the lifetime of one snapshot.
type IndexVersion struct {
	keyField string
	index    replicator.IndexHandle
	snapshot replicator.IndexSnapshot
	cache    *lru.Cache[string, cachedVersion]
}

// NewIndexVersion creates the rewriter; keyField names the indexed key
func NewIndexVersion(keyField string, cacheSize int) (*IndexVersion, error) {
	if keyField == "" {
		return nil, fmt.Errorf("index_version rewriter requires key_field")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultVersionCacheSize
	}
	cache, err := lru.New[string, cachedVersion](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create version cache: %w", err)
	}
	return &IndexVersion{keyField: keyField, cache: cache}, nil
}

func (v *IndexVersion) Init(index replicator.IndexHandle) error {
	if index == nil {
		return fmt.Errorf("index_version rewriter requires an index")
	}
	v.index = index
	return nil
}

func (v *IndexVersion) CreateSnapshot(ctx context.Context) error {
	if v.index == nil {
		return fmt.Errorf("index_version rewriter not initialised")
	}
	v.ReleaseSnapshot()

	snap, err := v.index.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to snapshot index: %w", err)
	}
	v.snapshot = snap
	return nil
}

func (v *IndexVersion) ReleaseSnapshot() {
	if v.snapshot != nil {
		v.snapshot.Release()
		v.snapshot = nil
	}
	v.cache.Purge()
}

func (v *IndexVersion) Rewrite(rec *record.LogRecord) replicator.RewriteResult {
	if v.snapshot == nil {
		return replicator.RewriteError
	}

	key, ok := rec.GetField(v.keyField)
	if !ok {
		log.Debug().Int64("log_id", rec.LogID).Str("key_field", v.keyField).Msg("Record has no index key")
		return replicator.RewriteError
	}

	cached, ok := v.cache.Get(key)
	if !ok {
		cached.logID, cached.found = v.snapshot.Version(key)
		v.cache.Add(key, cached)
	}

	if cached.found && cached.logID > rec.LogID {
		return replicator.RewriteDrop
	}
	return replicator.RewriteOK
}
