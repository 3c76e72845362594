package state

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"ssh-sentry/internal/logging"
)

// FileStore keeps the table as line-oriented "key:timestamp" records.
// Writes go to a temp file in the same directory which is then renamed over
// the table, so readers never observe a partial table.
type FileStore struct {
	fs   afero.Fs
	path string
}

// NewFileStore creates a store backed by path on fs
func NewFileStore(fs afero.Fs, path string) (*FileStore, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &FileStore{fs: fs, path: path}, nil
}

// Load reads the table. A missing file is an empty table; malformed lines are skipped.
func (s *FileStore) Load() (map[string]int64, error) {
	entries := make(map[string]int64)

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return entries, nil
		}
		return nil, fmt.Errorf("failed to read rate limit table: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Keys may contain ':' (IPv6), the timestamp never does.
		idx := strings.LastIndexByte(line, ':')
		if idx <= 0 {
			logging.Debug().Str("line", line).Msg("[STATE] Skipping malformed record")
			continue
		}
		ts, err := strconv.ParseInt(line[idx+1:], 10, 64)
		if err != nil {
			logging.Debug().Str("line", line).Msg("[STATE] Skipping malformed record")
			continue
		}
		entries[line[:idx]] = ts
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan rate limit table: %w", err)
	}

	return entries, nil
}

// Save writes the full table through a temp file and rename
func (s *FileStore) Save(entries map[string]int64) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s:%d\n", k, entries[k])
	}

	tmp, err := afero.TempFile(s.fs, filepath.Dir(s.path), filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp table: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to write temp table: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to sync temp table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to close temp table: %w", err)
	}

	if err := s.fs.Rename(tmpName, s.path); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to replace rate limit table: %w", err)
	}
	return nil
}

// Close is a no-op; the file is only open during Load/Save
func (s *FileStore) Close() error {
	return nil
}
