// Package store persists per-post processing records, aggregate counters and
// the rate-limit ledger in a single JSON file. Every mutation reads the whole
// file, applies the change in memory and rewrites the file; the store assumes
// a single writer process.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Store is a flat-file record store. It holds no state between calls besides
// the file path, so readers always observe the latest written document.
type Store struct {
	path string
	now  func() time.Time
}

// Open creates a Store backed by the JSON file at path. The file is created
// lazily on the first write; its parent directory is created here.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &Store{path: path, now: time.Now}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() *document {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("Error reading store file %s: %v (starting empty)", s.path, err)
		}
		return emptyDocument()
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Printf("Error parsing store file %s: %v (starting empty)", s.path, err)
		return emptyDocument()
	}

	if doc.Processed == nil {
		doc.Processed = map[string]Record{}
	}
	if doc.RateLimits.History == nil {
		doc.RateLimits.History = []RateLimitEvent{}
	}
	doc.SchemaVersion = schemaVersion
	return &doc
}

func (s *Store) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing store file: %w", err)
	}
	return nil
}

// Exists reports whether a record for id is present. Presence of an id is the
// sole de-duplication signal.
func (s *Store) Exists(id string) bool {
	_, ok := s.load().Processed[id]
	return ok
}

// Get returns the record for id, or nil if none exists.
func (s *Store) Get(id string) *Item {
	rec, ok := s.load().Processed[id]
	if !ok {
		return nil
	}
	return &Item{ID: id, Record: rec}
}

// Upsert creates or overwrites the record for id.
//
// Counter rules: total_processed increments only when the id is new, and
// total_responded increments only when the record transitions from having no
// response text to having one. Neither counter ever decrements. The first
// processed_at timestamp is preserved across overwrites.
func (s *Store) Upsert(id string, rec Record) error {
	doc := s.load()

	prev, existed := doc.Processed[id]

	if existed {
		rec.ProcessedAt = prev.ProcessedAt
	} else if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = s.now()
	}
	doc.Processed[id] = rec

	if !existed {
		doc.Stats.TotalProcessed++
	}
	if rec.ResponseText != nil && (!existed || prev.ResponseText == nil) {
		doc.Stats.TotalResponded++
	}

	return s.save(doc)
}

// Stats returns the maintained aggregate counters.
func (s *Store) Stats() Stats {
	return s.load().Stats
}

// Recent returns up to limit records, most recently processed first.
func (s *Store) Recent(limit int) []Item {
	doc := s.load()

	items := make([]Item, 0, len(doc.Processed))
	for id, rec := range doc.Processed {
		items = append(items, Item{ID: id, Record: rec})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ProcessedAt.After(items[j].ProcessedAt)
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// RecordRateLimit appends a throttling event to the ledger, trimming history
// to the last few entries.
func (s *Store) RecordRateLimit(waitSeconds int, endpoint string) error {
	doc := s.load()

	now := s.now()
	doc.RateLimits.LastEncounter = &now
	doc.RateLimits.WaitSeconds = waitSeconds
	doc.RateLimits.History = append(doc.RateLimits.History, RateLimitEvent{
		Timestamp:   now,
		WaitSeconds: waitSeconds,
		Endpoint:    endpoint,
	})
	if n := len(doc.RateLimits.History); n > historyLimit {
		doc.RateLimits.History = doc.RateLimits.History[n-historyLimit:]
	}

	if err := s.save(doc); err != nil {
		return err
	}
	log.Printf("Rate limit recorded: %ds on %s", waitSeconds, endpoint)
	return nil
}

// RateLimitInfo returns a snapshot of the rate-limit ledger.
func (s *Store) RateLimitInfo() RateLimitInfo {
	return s.load().RateLimits
}

// ComputeStats recomputes the counters by a full scan of the stored records:
// total_processed is the number of records, total_responded the number with
// a non-null response text.
func (s *Store) ComputeStats() Stats {
	doc := s.load()

	computed := Stats{TotalProcessed: len(doc.Processed)}
	for _, rec := range doc.Processed {
		if rec.ResponseText != nil {
			computed.TotalResponded++
		}
	}
	return computed
}

// Repair overwrites the maintained counters with freshly computed ones and
// returns the result.
func (s *Store) Repair() (Stats, error) {
	doc := s.load()

	computed := Stats{TotalProcessed: len(doc.Processed)}
	for _, rec := range doc.Processed {
		if rec.ResponseText != nil {
			computed.TotalResponded++
		}
	}
	doc.Stats = computed

	if err := s.save(doc); err != nil {
		return Stats{}, err
	}
	return computed, nil
}
