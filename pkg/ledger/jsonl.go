// Package ledger provides the durable I/O substrate the pipeline stages share:
// append-only JSONL ledgers, write-once JSON manifests via temp-rename, and
// advisory file locks serializing concurrent appenders.
//
// Every artifact is one of:
//   - ledger: append-only JSONL, possibly gzip (.jsonl.gz) or zstd (.jsonl.zst)
//   - manifest/bundle: single JSON document, written atomically exactly once
//
// Nothing here rewrites in place; the in-progress form of any file is its
// .tmp sibling until the final rename.
package ledger

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// AppendJSONL appends one record to a JSONL ledger under an advisory lock,
// creating the file and parent directories as needed. The lock makes appends
// from concurrent workers atomic at record granularity.
func AppendJSONL(path string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal ledger record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	lock := NewFileLock(path + ".lock")
	if err := lock.Acquire(DefaultLockTimeout); err != nil {
		return fmt.Errorf("lock ledger %s: %w", path, err)
	}
	defer func() { _ = lock.Release() }()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append ledger %s: %w", path, err)
	}
	return f.Sync()
}

// ReadJSONL reads every record from a JSONL file, transparently decompressing
// .jsonl.gz and .jsonl.zst. Order is preserved. A missing file is an error;
// an empty file yields an empty slice.
func ReadJSONL(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r, closer, err := decompressor(path, f)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		defer closer()
	}

	var out []map[string]any
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// DecodeJSONL streams records into fn, stopping on the first error.
func DecodeJSONL(path string, fn func(raw json.RawMessage) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	r, closer, err := decompressor(path, f)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := fn(json.RawMessage(text)); err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
	}
	return scanner.Err()
}

// WriteJSONL writes a whole record list as a new JSONL file via temp-rename,
// compressing per the filename suffix.
func WriteJSONL[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	var w io.Writer = f
	var finishers []func() error
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz := gzip.NewWriter(f)
		w = gz
		finishers = append(finishers, gz.Close)
	case strings.HasSuffix(path, ".zst"):
		zw, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return err
		}
		w = zw
		finishers = append(finishers, zw.Close)
	}

	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("encode record: %w", err)
		}
	}
	for _, fin := range finishers {
		if err := fin(); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func decompressor(path string, f *os.File) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		return gz, func() { _ = gz.Close() }, nil
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd %s: %w", path, err)
		}
		return zr, zr.Close, nil
	default:
		return f, nil, nil
	}
}
