// Package hashing maps partition-key values to partition ids.
package hashing

import (
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultFunction is used when a sink does not name a hash function
	DefaultFunction = "xxhash"
	// DefaultRange is the size of the partition id space
	DefaultRange = 65536

	paramRange = "range"
)

// tupleSeparator joins multi-field keys; unit separator never appears in ids.
const tupleSeparator = '\x1f'

// Func maps an ordered list of key values to a partition id in [0, Range()).
type Func interface {
	Partition(values []string) uint32
	Range() uint32
}

// New builds the named hash function. params may carry "range".
func New(name string, params map[string]string) (Func, error) {
	if name == "" {
		name = DefaultFunction
	}

	rng := uint64(DefaultRange)
	if v, ok := params[paramRange]; ok {
		parsed, err := strconv.ParseUint(v, 10, 32)
		if err != nil || parsed == 0 {
			return nil, fmt.Errorf("invalid hash range %q", v)
		}
		rng = parsed
	}

	switch name {
	case "xxhash":
		return &hashFunc{sum: xxhash.Sum64, rng: uint32(rng)}, nil
	case "fnv1a":
		return &hashFunc{sum: fnvSum64, rng: uint32(rng)}, nil
	default:
		return nil, fmt.Errorf("unknown hash function: %s", name)
	}
}

type hashFunc struct {
	sum func([]byte) uint64
	rng uint32
}

// Partition hashes a single value directly, several values as their tuple.
func (h *hashFunc) Partition(values []string) uint32 {
	var key []byte
	if len(values) == 1 {
		key = []byte(values[0])
	} else {
		for i, v := range values {
			if i > 0 {
				key = append(key, tupleSeparator)
			}
			key = append(key, v...)
		}
	}
	return uint32(h.sum(key) % uint64(h.rng))
}

func (h *hashFunc) Range() uint32 {
	return h.rng
}

func fnvSum64(b []byte) uint64 {
	f := fnv.New64a()
	f.Write(b)
	return f.Sum64()
}
