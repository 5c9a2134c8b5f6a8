package replicator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/maxpert/drc/statestore"
)

// CheckpointKey is the blob name under a pipeline's checkpoint root
const CheckpointKey = "drc_checkpoint"

type checkpointBlob struct {
	PersistedLogID int64 `json:"persisted_log_id"`
}

// Checkpoint tracks the durable replication position of one pipeline.
// PersistedLogID never decreases once set.
type Checkpoint struct {
	clock          clock.Clock
	persistedLogID int64
	lastSave       time.Time
	saved          bool
	recovered      bool
}

// NewCheckpoint returns a checkpoint at -1. A nil clock means wall time.
func NewCheckpoint(clk clock.Clock) *Checkpoint {
	if clk == nil {
		clk = clock.New()
	}
	return &Checkpoint{clock: clk, persistedLogID: -1}
}

// PersistedLogID returns the current checkpoint
func (c *Checkpoint) PersistedLogID() int64 {
	return c.persistedLogID
}

// Recover loads the checkpoint from store. A missing blob is a fresh start;
// a store error or malformed blob fails. Recovering again keeps the
// in-memory position when the stored one lags behind a rate-limited save.
func (c *Checkpoint) Recover(store statestore.Store) error {
	id := int64(-1)
	data, err := store.Read(CheckpointKey)
	switch {
	case errors.Is(err, statestore.ErrNotFound):
	case err != nil:
		return fmt.Errorf("failed to read checkpoint: %w", err)
	default:
		if id, err = unmarshalCheckpoint(data); err != nil {
			return err
		}
	}

	if !c.recovered || id > c.persistedLogID {
		c.persistedLogID = id
	}
	c.recovered = true
	return nil
}

// Update advances the checkpoint to candidate if it is further ahead
func (c *Checkpoint) Update(candidate int64) {
	if candidate > c.persistedLogID {
		c.persistedLogID = candidate
	}
}

// Save writes the checkpoint unless the last save was less than
// minInterval ago. It reports whether a write was attempted. The save time
// is recorded even when the write fails so retries follow the same cadence.
func (c *Checkpoint) Save(store statestore.Store, minInterval time.Duration) (bool, error) {
	now := c.clock.Now()
	if c.saved && now.Sub(c.lastSave) < minInterval {
		return false, nil
	}
	return true, c.write(store, now)
}

// Flush writes the checkpoint regardless of the save interval
func (c *Checkpoint) Flush(store statestore.Store) error {
	return c.write(store, c.clock.Now())
}

func (c *Checkpoint) write(store statestore.Store, now time.Time) error {
	c.lastSave = now
	c.saved = true

	data, err := marshalCheckpoint(c.persistedLogID)
	if err != nil {
		return err
	}
	if err := store.Write(CheckpointKey, data); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

func marshalCheckpoint(id int64) ([]byte, error) {
	return json.Marshal(checkpointBlob{PersistedLogID: id})
}

func unmarshalCheckpoint(data []byte) (int64, error) {
	var blob struct {
		PersistedLogID *int64 `json:"persisted_log_id"`
	}
	if err := json.Unmarshal(data, &blob); err != nil {
		return 0, fmt.Errorf("malformed checkpoint %q: %w", data, err)
	}
	if blob.PersistedLogID == nil {
		return 0, fmt.Errorf("malformed checkpoint %q: missing persisted_log_id", data)
	}
	return *blob.PersistedLogID, nil
}
