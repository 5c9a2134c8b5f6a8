package statestore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog/log"
)

const (
	zkSessionTimeout = 5 * time.Second
	zkConnectWait    = 10 * time.Second
)

// ZKStore keeps one znode per key under a root path
type ZKStore struct {
	conn *zk.Conn
	root string
}

// NewZKStore connects to the ensemble and waits for a session
func NewZKStore(servers []string, root string) (*ZKStore, error) {
	conn, _, err := zk.Connect(servers, zkSessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}

	s := &ZKStore{conn: conn, root: root}
	if err := s.waitConnected(zkConnectWait); err != nil {
		conn.Close()
		return nil, err
	}

	log.Debug().Strs("servers", servers).Str("root", root).Msg("Connected ZooKeeper state store")
	return s, nil
}

func (s *ZKStore) nodePath(key string) string {
	return s.root + "/" + key
}

func (s *ZKStore) Read(key string) ([]byte, error) {
	data, _, err := s.conn.Get(s.nodePath(key))
	if errors.Is(err, zk.ErrNoNode) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("zk get %s: %w", s.nodePath(key), err)
	}
	return data, nil
}

func (s *ZKStore) Write(key string, data []byte) error {
	path := s.nodePath(key)

	_, err := s.conn.Set(path, data, -1)
	if err == nil {
		return nil
	}
	if !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("zk set %s: %w", path, err)
	}

	if err := s.ensurePath(s.root); err != nil {
		return fmt.Errorf("ensure %s: %w", s.root, err)
	}
	_, err = s.conn.Create(path, data, 0, zk.WorldACL(zk.PermAll))
	if errors.Is(err, zk.ErrNodeExists) {
		// lost a create race with another writer of the same key
		_, err = s.conn.Set(path, data, -1)
	}
	if err != nil {
		return fmt.Errorf("zk create %s: %w", path, err)
	}
	return nil
}

func (s *ZKStore) Close() error {
	s.conn.Close()
	return nil
}

func (s *ZKStore) ensurePath(path string) error {
	cur := ""
	for _, p := range strings.Split(path, "/") {
		if p == "" {
			continue
		}
		cur = cur + "/" + p
		exists, _, err := s.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = s.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && !errors.Is(err, zk.ErrNodeExists) {
				return err
			}
		}
	}
	return nil
}

func (s *ZKStore) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := s.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("zk: not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
