package encoding

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFields_Deterministic(t *testing.T) {
	fields := map[string]string{"CMD": "add", "pk": "1", "title": "hello"}

	a, err := EncodeFields(fields)
	require.NoError(t, err)
	b, err := EncodeFields(map[string]string{"title": "hello", "pk": "1", "CMD": "add"})
	require.NoError(t, err)

	assert.Equal(t, a, b, "equal field groups must encode to equal bytes")
}

func TestDecodeFields_RoundTrip(t *testing.T) {
	fields := map[string]string{"CMD": "update", "pk": "42", "empty": ""}

	data, err := EncodeFields(fields)
	require.NoError(t, err)

	got, err := DecodeFields(data)
	require.NoError(t, err)
	assert.Equal(t, fields, got)
}

func TestDecodeFields_ScalarValues(t *testing.T) {
	data, err := Marshal(map[string]interface{}{
		"int":   int64(-7),
		"uint":  uint64(9),
		"bool":  true,
		"float": 1.5,
		"nil":   nil,
		"bin":   []byte("raw"),
	})
	require.NoError(t, err)

	got, err := DecodeFields(data)
	require.NoError(t, err)
	assert.Equal(t, "-7", got["int"])
	assert.Equal(t, "9", got["uint"])
	assert.Equal(t, "true", got["bool"])
	assert.Equal(t, "1.5", got["float"])
	assert.Equal(t, "", got["nil"])
	assert.Equal(t, "raw", got["bin"])
}

func TestDecodeFields_RejectsNested(t *testing.T) {
	data, err := Marshal(map[string]interface{}{"nested": []int{1, 2}})
	require.NoError(t, err)

	_, err = DecodeFields(data)
	assert.Error(t, err)
}

func TestDecodeFields_Garbage(t *testing.T) {
	_, err := DecodeFields([]byte{0xc1})
	assert.Error(t, err)
}

func TestCompressedFields(t *testing.T) {
	fields := map[string]string{"CMD": "delete", "pk": "abc"}

	data, err := EncodeFieldsCompressed(fields)
	require.NoError(t, err)
	require.True(t, IsCompressed(data))

	got, err := DecodeFields(data)
	require.NoError(t, err)
	assert.Equal(t, fields, got)
}

func TestCompress_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := Compress([]byte("payload payload payload"))
			if err != nil {
				t.Errorf("compress: %v", err)
				return
			}
			plain, err := Decompress(data)
			if err != nil {
				t.Errorf("decompress: %v", err)
				return
			}
			if string(plain) != "payload payload payload" {
				t.Errorf("unexpected payload %q", plain)
			}
		}()
	}
	wg.Wait()
}
