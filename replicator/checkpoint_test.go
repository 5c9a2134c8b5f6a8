package replicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRecover(t *testing.T) {
	t.Run("missing checkpoint starts fresh", func(t *testing.T) {
		c := NewCheckpoint(clock.NewMock())
		require.NoError(t, c.Recover(newFakeStore()))
		assert.Equal(t, int64(-1), c.PersistedLogID())
	})

	t.Run("store error fails", func(t *testing.T) {
		store := newFakeStore()
		store.readErr = errors.New("disk on fire")
		c := NewCheckpoint(clock.NewMock())
		assert.Error(t, c.Recover(store))
	})

	t.Run("malformed checkpoint fails", func(t *testing.T) {
		for _, blob := range []string{"not json", `{"other":1}`, `{"persisted_log_id":"x"}`} {
			store := newFakeStore()
			store.data[CheckpointKey] = []byte(blob)
			c := NewCheckpoint(clock.NewMock())
			assert.Error(t, c.Recover(store), blob)
		}
	})

	t.Run("valid checkpoint", func(t *testing.T) {
		store := newFakeStore()
		store.data[CheckpointKey] = []byte(`{"persisted_log_id":100}`)
		c := NewCheckpoint(clock.NewMock())
		require.NoError(t, c.Recover(store))
		assert.Equal(t, int64(100), c.PersistedLogID())
	})
}

func TestCheckpointRecoverAgainKeepsNewerPosition(t *testing.T) {
	store := newFakeStore()
	store.data[CheckpointKey] = []byte(`{"persisted_log_id":2}`)
	c := NewCheckpoint(clock.NewMock())
	require.NoError(t, c.Recover(store))
	c.Update(4)

	// the stored blob lags behind an unsaved update
	require.NoError(t, c.Recover(store))
	assert.Equal(t, int64(4), c.PersistedLogID())

	store.data[CheckpointKey] = []byte(`{"persisted_log_id":9}`)
	require.NoError(t, c.Recover(store))
	assert.Equal(t, int64(9), c.PersistedLogID())

	delete(store.data, CheckpointKey)
	require.NoError(t, c.Recover(store))
	assert.Equal(t, int64(9), c.PersistedLogID())
}

func TestCheckpointFlushIgnoresInterval(t *testing.T) {
	mock := clock.NewMock()
	store := newFakeStore()
	c := NewCheckpoint(mock)

	c.Update(1)
	wrote, err := c.Save(store, time.Hour)
	require.NoError(t, err)
	require.True(t, wrote)

	c.Update(5)
	wrote, err = c.Save(store, time.Hour)
	require.NoError(t, err)
	assert.False(t, wrote)

	require.NoError(t, c.Flush(store))
	assert.Equal(t, 2, store.writeCount())
	assert.JSONEq(t, `{"persisted_log_id":5}`, string(store.data[CheckpointKey]))

	store.writeErr = errors.New("read-only")
	assert.Error(t, c.Flush(store))
}

func TestCheckpointUpdateIsMonotonic(t *testing.T) {
	c := NewCheckpoint(clock.NewMock())
	c.Update(1)
	c.Update(4)
	c.Update(2)
	assert.Equal(t, int64(4), c.PersistedLogID())

	c.Update(-1)
	assert.Equal(t, int64(4), c.PersistedLogID())
}

func TestCheckpointSaveRateLimited(t *testing.T) {
	mock := clock.NewMock()
	store := newFakeStore()
	c := NewCheckpoint(mock)
	c.Update(5)

	wrote, err := c.Save(store, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, 1, store.writeCount())

	mock.Add(time.Second)
	c.Update(6)
	wrote, err = c.Save(store, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, 1, store.writeCount())

	mock.Add(time.Second)
	wrote, err = c.Save(store, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, 2, store.writeCount())
	assert.JSONEq(t, `{"persisted_log_id":6}`, string(store.data[CheckpointKey]))
}

func TestCheckpointSaveFailureKeepsCadence(t *testing.T) {
	mock := clock.NewMock()
	store := newFakeStore()
	store.writeErr = errors.New("read only")
	c := NewCheckpoint(mock)

	wrote, err := c.Save(store, time.Second)
	assert.True(t, wrote)
	assert.Error(t, err)

	// the failed attempt still counts toward the interval
	wrote, err = c.Save(store, time.Second)
	assert.False(t, wrote)
	assert.NoError(t, err)

	store.writeErr = nil
	mock.Add(time.Second)
	wrote, err = c.Save(store, time.Second)
	assert.True(t, wrote)
	assert.NoError(t, err)
}

func TestCheckpointZeroIntervalAlwaysSaves(t *testing.T) {
	store := newFakeStore()
	c := NewCheckpoint(clock.NewMock())
	for i := 0; i < 3; i++ {
		wrote, err := c.Save(store, 0)
		require.NoError(t, err)
		assert.True(t, wrote)
	}
	assert.Equal(t, 3, store.writeCount())
}

func TestCheckpointRoundTrip(t *testing.T) {
	for _, id := range []int64{-1, 0, 1, 100, math.MaxInt64} {
		store := newFakeStore()
		c := NewCheckpoint(clock.NewMock())
		c.Update(id)
		_, err := c.Save(store, 0)
		require.NoError(t, err)

		recovered := NewCheckpoint(clock.NewMock())
		require.NoError(t, recovered.Recover(store))
		assert.Equal(t, id, recovered.PersistedLogID())
	}
}
