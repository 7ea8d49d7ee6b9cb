package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"interp-crawler/models"
)

// Backup writes a local copy of a run: one publication per line in an
// NDJSON file, and the organized index next to it as <name>.index.json.
// WritePublication is safe for concurrent use.
type Backup struct {
	path string

	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
	n   int
}

func NewBackup(path string) (*Backup, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create backup directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create backup file: %w", err)
	}
	buf := bufio.NewWriter(f)
	return &Backup{path: path, f: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (b *Backup) WritePublication(p models.Publication) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enc.Encode(p); err != nil {
		return err
	}
	b.n++
	return nil
}

// Count is the number of publications written so far.
func (b *Backup) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// IndexPath is where WriteIndex puts the organized index.
func (b *Backup) IndexPath() string {
	return strings.TrimSuffix(b.path, filepath.Ext(b.path)) + ".index.json"
}

func (b *Backup) WriteIndex(idx models.OrganizedIndex) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err := os.WriteFile(b.IndexPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write index backup: %w", err)
	}
	return nil
}

// Close flushes buffered publications and closes the file.
func (b *Backup) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.buf.Flush(); err != nil {
		b.f.Close()
		return fmt.Errorf("failed to flush backup: %w", err)
	}
	return b.f.Close()
}
