// Package statestore persists small named blobs such as replication
// checkpoints. The backend is picked from the root's scheme:
//
//	zk://host1:2181,host2:2181/drc/ckpt   ZooKeeper znodes
//	pebble:///var/lib/drc/ckpt            local Pebble database
//	/var/lib/drc/ckpt                     plain files in a local directory
package statestore

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Read when the key has never been written
var ErrNotFound = errors.New("state not found")

const (
	schemeZK     = "zk"
	schemePebble = "pebble"
)

// Store reads and writes blobs under a fixed root
type Store interface {
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
	Close() error
}

// Open returns the store for root, dispatching on its scheme
func Open(root string) (Store, error) {
	if root == "" {
		return nil, fmt.Errorf("state store root is required")
	}

	scheme, rest, hasScheme := strings.Cut(root, "://")
	if !hasScheme {
		return NewFileStore(root)
	}

	switch scheme {
	case schemeZK:
		servers, path, err := parseZKRoot(rest)
		if err != nil {
			return nil, err
		}
		return NewZKStore(servers, path)
	case schemePebble:
		if rest == "" {
			return nil, fmt.Errorf("pebble state store requires a path")
		}
		return NewPebbleStore(rest)
	default:
		return nil, fmt.Errorf("unsupported state store scheme: %s", scheme)
	}
}

// parseZKRoot splits "h1:2181,h2:2181/some/path" into servers and path.
func parseZKRoot(rest string) ([]string, string, error) {
	hosts, path, _ := strings.Cut(rest, "/")
	if hosts == "" {
		return nil, "", fmt.Errorf("zk state store requires at least one server")
	}

	servers := strings.Split(hosts, ",")
	for _, s := range servers {
		if s == "" {
			return nil, "", fmt.Errorf("empty server in zk root %q", rest)
		}
	}

	path = "/" + strings.Trim(path, "/")
	if path == "/" {
		return nil, "", fmt.Errorf("zk state store requires a path")
	}
	return servers, path, nil
}
