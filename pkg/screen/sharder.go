package screen

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/curatorlabs/datacollector/pkg/checkpoint"
)

// ShardConfig shapes the output shard stream for one pool.
type ShardConfig struct {
	MaxRecordsPerShard int
	Compression        string // "", "gz", "zst"
	Prefix             string
}

func (c ShardConfig) withDefaults() ShardConfig {
	if c.MaxRecordsPerShard <= 0 {
		c.MaxRecordsPerShard = 50_000
	}
	if c.Prefix == "" {
		c.Prefix = "yellow_shard"
	}
	return c
}

// Sharder appends records to numbered JSONL shards. A shard is written as a
// .tmp sibling and becomes visible only through fsync, rename, and a
// completion marker, so a reader never observes a half-written shard.
type Sharder struct {
	dir string
	cfg ShardConfig

	seq     int
	count   int
	file    *os.File
	writer  io.Writer
	closers []io.Closer

	RecordsTotal  int64
	ShardsFlushed int
}

// NewSharder creates a sharder writing under dir.
func NewSharder(dir string, cfg ShardConfig) (*Sharder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Sharder{dir: dir, cfg: cfg.withDefaults()}, nil
}

// Append writes one record, rotating the shard when it reaches the cap.
func (s *Sharder) Append(record any) error {
	if s.file == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := s.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	s.count++
	s.RecordsTotal++
	if s.count >= s.cfg.MaxRecordsPerShard {
		return s.flush()
	}
	return nil
}

// Close flushes any in-progress shard.
func (s *Sharder) Close() error {
	if s.file == nil {
		return nil
	}
	return s.flush()
}

func (s *Sharder) shardName() string {
	name := fmt.Sprintf("%s_%05d.jsonl", s.cfg.Prefix, s.seq)
	if s.cfg.Compression != "" {
		name += "." + s.cfg.Compression
	}
	return name
}

func (s *Sharder) open() error {
	final := filepath.Join(s.dir, s.shardName())
	f, err := os.Create(final + ".tmp")
	if err != nil {
		return err
	}
	s.file = f
	s.writer = f
	s.closers = nil
	switch s.cfg.Compression {
	case "gz":
		gw := gzip.NewWriter(f)
		s.writer = gw
		s.closers = []io.Closer{gw}
	case "zst":
		zw, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			s.file = nil
			return err
		}
		s.writer = zw
		s.closers = []io.Closer{zw}
	}
	s.count = 0
	return nil
}

func (s *Sharder) flush() error {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			return err
		}
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	if err := s.file.Close(); err != nil {
		return err
	}
	final := filepath.Join(s.dir, s.shardName())
	if err := os.Rename(final+".tmp", final); err != nil {
		return err
	}
	if err := checkpoint.WriteMarker(final, map[string]any{
		"records": s.count,
	}); err != nil {
		return err
	}
	s.file = nil
	s.writer = nil
	s.closers = nil
	s.seq++
	s.ShardsFlushed++
	return nil
}
