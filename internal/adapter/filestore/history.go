package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Strob0t/CodeHive/internal/domain/task"
)

// maxHistoryLine bounds a single history line when reading the log back.
const maxHistoryLine = 1 << 20

// History implements historylog.Log as a JSON Lines file.
type History struct {
	mu   sync.Mutex
	path string
}

// NewHistory returns a history log stored in dir, creating dir if needed.
func NewHistory(dir string) (*History, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &History{path: filepath.Join(dir, HistoryFile)}, nil
}

// Append writes entry as one line at the end of the log.
func (h *History) Append(_ context.Context, entry task.HistoryEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	line = append(line, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // G304: path is fixed under the data dir
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append history: %w", err)
	}
	return f.Close()
}

// Recent returns up to limit of the newest decodable entries, oldest first.
func (h *History) Recent(_ context.Context, limit int) ([]task.HistoryEntry, error) {
	if limit <= 0 {
		return []task.HistoryEntry{}, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []task.HistoryEntry{}, nil
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Keep a ring of the last limit raw lines, then decode only those.
	ring := make([][]byte, 0, limit)
	br := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := readHistoryLine(br)
		if len(line) > 0 {
			if len(ring) == limit {
				ring = append(ring[1:], line)
			} else {
				ring = append(ring, line)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read history: %w", err)
		}
	}

	out := make([]task.HistoryEntry, 0, len(ring))
	for _, line := range ring {
		var e task.HistoryEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// readHistoryLine returns the next line without its newline. A line longer
// than maxHistoryLine is consumed and returned empty so callers skip it.
func readHistoryLine(br *bufio.Reader) ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > maxHistoryLine+1 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			return nil, err
		}
		return bytes.TrimRight(line, "\r\n"), err
	}
}
