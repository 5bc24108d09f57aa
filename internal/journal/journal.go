// Package journal records broadcast snapshots as gzip-compressed JSON
// lines for offline inspection. It is write-only tooling: nothing is read
// back into a live session.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/klauspost/compress/gzip"

	"joyride/server/internal/sim"
)

// Recorder appends snapshots to a compressed journal file. Safe for use
// from the broadcast goroutine while the tick loop keeps running.
type Recorder struct {
	mu      sync.Mutex
	file    *os.File
	gz      *gzip.Writer
	encoder *json.Encoder
	closed  bool
}

// Open creates (or truncates) a journal file at path.
func Open(path string) (*Recorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	gz := gzip.NewWriter(file)
	return &Recorder{
		file:    file,
		gz:      gz,
		encoder: json.NewEncoder(gz),
	}, nil
}

// Append writes one snapshot record.
func (r *Recorder) Append(snapshot sim.Snapshot) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("journal closed")
	}
	if err := r.encoder.Encode(snapshot); err != nil {
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

// Close flushes the compressor and closes the file.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.gz.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("close journal compressor: %w", err)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close journal file: %w", err)
	}
	return nil
}
