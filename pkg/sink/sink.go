// Package sink persists crawl records as an append-only stream of
// newline-delimited JSON.
package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ruvinda/webharvest/internal/models"
)

// Sink writes one JSON line per crawl record. Every Append is flushed to
// disk before returning, so an interrupted crawl loses at most the record
// in flight. Records are never updated or deleted. Safe for concurrent use.
type Sink struct {
	mu   sync.Mutex
	file *os.File
}

// Open creates (or truncates) the output file, creating parent directories
// as needed.
func Open(path string) (*Sink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open record sink: %w", err)
	}
	return &Sink{file: f}, nil
}

// Append durably writes one record. Any error here is fatal to the crawl:
// the sink cannot guarantee durability once a write has failed.
func (s *Sink) Append(record models.CrawlRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record for %s: %w", record.URL, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("write record for %s: %w", record.URL, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync record sink: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
