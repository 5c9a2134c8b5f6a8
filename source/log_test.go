package source

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log")
	l, err := OpenLog(path)
	require.NoError(t, err)
	return l, path
}

func TestLogAppendAndRead(t *testing.T) {
	l, _ := openTestLog(t)
	defer l.Close()

	assert.Equal(t, int64(-1), l.LastLogID())

	first, err := l.Append([]byte("a"), []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), first)

	first, err = l.Append([]byte("c"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), first)
	assert.Equal(t, int64(2), l.LastLogID())

	entries, err := l.ReadFrom(0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, int64(i), entries[i].LogID)
		assert.Equal(t, want, string(entries[i].Data))
	}

	entries, err = l.ReadFrom(1, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].LogID)

	entries, err = l.ReadFrom(3, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLogIdsSortNumerically(t *testing.T) {
	l, _ := openTestLog(t)
	defer l.Close()

	payloads := make([][]byte, 300)
	for i := range payloads {
		payloads[i] = []byte(fmt.Sprintf("p%d", i))
	}
	_, err := l.Append(payloads...)
	require.NoError(t, err)

	entries, err := l.ReadFrom(255, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []int64{255, 256, 257}, []int64{entries[0].LogID, entries[1].LogID, entries[2].LogID})
	assert.Equal(t, "p256", string(entries[1].Data))
}

func TestLogReopenKeepsNextID(t *testing.T) {
	l, path := openTestLog(t)
	_, err := l.Append([]byte("a"), []byte("b"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := OpenLog(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, int64(1), reopened.LastLogID())
	first, err := reopened.Append([]byte("c"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), first)
}

func TestLogSharedOpen(t *testing.T) {
	l, path := openTestLog(t)

	shared, err := OpenLog(path)
	require.NoError(t, err)
	assert.Same(t, l, shared)

	require.NoError(t, shared.Close())
	// still open for the first holder
	_, err = l.Append([]byte("a"))
	require.NoError(t, err)

	require.NoError(t, l.Close())
	_, err = l.Append([]byte("b"))
	assert.Error(t, err)
	assert.Error(t, l.Close())
}

func TestLogTruncateBefore(t *testing.T) {
	l, _ := openTestLog(t)
	defer l.Close()

	_, err := l.Append([]byte("a"), []byte("b"), []byte("c"))
	require.NoError(t, err)
	require.NoError(t, l.TruncateBefore(2))

	entries, err := l.ReadFrom(0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].LogID)
	assert.Equal(t, int64(2), l.LastLogID())
}
