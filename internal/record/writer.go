package record

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/simrecorder/recorder/internal/lifecycle"
	"github.com/simrecorder/recorder/internal/pathlock"
	"github.com/simrecorder/recorder/internal/sample"
)

// Document is the root JSON structure of a record file.
type Document struct {
	SessionID       string          `json:"sessionId"`
	RecorderVersion string          `json:"recorderVersion"`
	File            string          `json:"file"`
	Samples         []sample.Sample `json:"samples"`
}

type writer struct {
	locks    *pathlock.Map
	compress bool

	mu      sync.Mutex
	written map[string]int
}

// write replaces path with doc under the per-file lock. Buffers only grow,
// so a snapshot no longer than the last one written to the same file is
// stale and skipped.
func (w *writer) write(path string, doc Document) (lifecycle.Report, error) {
	unlock := w.locks.Lock(path)
	defer unlock()

	n := len(doc.Samples)
	if n <= w.lastWritten(path) {
		return lifecycle.Report{}, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return lifecycle.Report{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return lifecycle.Report{}, fmt.Errorf("failed to create file: %w", err)
	}
	tmpName := tmp.Name()

	size, err := w.encode(tmp, doc)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close file: %w", closeErr)
	}
	if err != nil {
		os.Remove(tmpName)
		return lifecycle.Report{}, err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return lifecycle.Report{}, fmt.Errorf("failed to move file into place: %w", err)
	}

	w.mu.Lock()
	w.written[path] = n
	w.mu.Unlock()

	return lifecycle.Report{Items: n, Bytes: size}, nil
}

func (w *writer) lastWritten(path string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written[path]
}

func (w *writer) encode(f io.Writer, doc Document) (int64, error) {
	cw := &countingWriter{w: f}

	if !w.compress {
		if err := json.NewEncoder(cw).Encode(doc); err != nil {
			return 0, fmt.Errorf("failed to encode record: %w", err)
		}
		return cw.n, nil
	}

	gzWriter := gzip.NewWriter(cw)
	if err := json.NewEncoder(gzWriter).Encode(doc); err != nil {
		gzWriter.Close()
		return 0, fmt.Errorf("failed to encode record: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
