package source

import (
	"context"
	"fmt"

	"github.com/maxpert/drc/cfg"
	"github.com/maxpert/drc/replicator"
)

func init() {
	replicator.RegisterSource("pebble", NewPebbleSourceFromConfig)
}

// PebbleSource reads a local Log
type PebbleSource struct {
	log  *Log
	next int64
	buf  []Entry
}

// NewPebbleSourceFromConfig opens the log named by the "path" parameter
func NewPebbleSourceFromConfig(config cfg.SourceConfig) (replicator.Source, error) {
	path := config.Parameters["path"]
	if path == "" {
		return nil, fmt.Errorf("pebble source requires path parameter")
	}
	l, err := OpenLog(path)
	if err != nil {
		return nil, err
	}
	return NewPebbleSource(l), nil
}

// NewPebbleSource reads from l and takes over one reference to it
func NewPebbleSource(l *Log) *PebbleSource {
	return &PebbleSource{log: l}
}

func (s *PebbleSource) Seek(ctx context.Context, logID int64) error {
	s.next = logID
	s.buf = s.buf[:0]
	return nil
}

func (s *PebbleSource) Read(ctx context.Context) ([]byte, int64, error) {
	if len(s.buf) == 0 {
		entries, err := s.log.ReadFrom(s.next, defaultReadLimit)
		if err != nil {
			return nil, 0, err
		}
		if len(entries) == 0 {
			return nil, 0, replicator.ErrSourceExhausted
		}
		s.buf = entries
	}

	e := s.buf[0]
	s.buf = s.buf[1:]
	s.next = e.LogID + 1
	return e.Data, e.LogID, nil
}

func (s *PebbleSource) LatestLogID(ctx context.Context) (int64, error) {
	return s.log.LastLogID(), nil
}

// TruncateBefore implements replicator.SourceTruncator
func (s *PebbleSource) TruncateBefore(logID int64) error {
	return s.log.TruncateBefore(logID)
}

func (s *PebbleSource) Close() error {
	return s.log.Close()
}
