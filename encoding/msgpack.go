// Package encoding provides centralized serialization for replicated log
// payloads. A payload is a field group: a msgpack map of field name to value.
// Payloads may be wrapped in a zstd frame; DecodeFields detects that itself.
//
// Thread Safety: all functions are safe for concurrent use.
package encoding

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data using loose interface decoding, so binary
// values decoded into interface{} come back as Go strings.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}

// EncodeFields encodes a field group. Keys are written in sorted order so
// equal groups always produce equal bytes.
func EncodeFields(fields map[string]string) ([]byte, error) {
	return Marshal(fields)
}

// DecodeFields decodes a field group, transparently unwrapping zstd frames.
// Non-string scalar values are rendered in their canonical text form.
func DecodeFields(data []byte) (map[string]string, error) {
	if IsCompressed(data) {
		plain, err := Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress field group: %w", err)
		}
		data = plain
	}

	var raw map[string]interface{}
	if err := Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode field group: %w", err)
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		s, err := fieldString(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		fields[k] = s
	}
	return fields, nil
}

func fieldString(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int8:
		return strconv.FormatInt(int64(val), 10), nil
	case int16:
		return strconv.FormatInt(int64(val), 10), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint8:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
