// Package history implements the transfer subsystem's terminal-session
// record store: a capped ring with filter/export/import.
package history

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"relaydrop/internal/transfer"
)

// DefaultMaxRecords is the default ring capacity.
const DefaultMaxRecords = 1000

// Store is an append-only ring of terminal SessionRecords bounded by Max.
// When exceeded, the oldest records by EndedAt are evicted.
type Store struct {
	mu      sync.RWMutex
	max     int
	records map[string]transfer.Record
}

// NewStore creates a Store with the given capacity; max<=0 uses DefaultMaxRecords.
func NewStore(max int) *Store {
	if max <= 0 {
		max = DefaultMaxRecords
	}
	return &Store{max: max, records: make(map[string]transfer.Record)}
}

// Append adds a terminal record, evicting the oldest-by-EndedAt record(s) if
// the ring is over capacity.
func (s *Store) Append(r transfer.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = r
	if len(s.records) <= s.max {
		return
	}

	all := make([]transfer.Record, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].EndedAt.Before(all[j].EndedAt) })
	toEvict := len(all) - s.max
	for i := 0; i < toEvict; i++ {
		delete(s.records, all[i].ID)
	}
}

// Filter composes (status?, protocol?, mode?, date-range?, text-substring?)
// over the stored records, newest first.
type Filter struct {
	Status     *transfer.Status
	Protocol   *transfer.Protocol
	Mode       *transfer.Mode
	After      *time.Time
	Before     *time.Time
	Substring  string
}

func (f Filter) matches(r transfer.Record) bool {
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.Protocol != nil && r.Protocol != *f.Protocol {
		return false
	}
	if f.Mode != nil && r.Mode != *f.Mode {
		return false
	}
	if f.After != nil && r.EndedAt.Before(*f.After) {
		return false
	}
	if f.Before != nil && r.EndedAt.After(*f.Before) {
		return false
	}
	if f.Substring != "" {
		needle := strings.ToLower(f.Substring)
		haystack := strings.ToLower(r.Peer + " " + r.Checksum + " " + r.ErrorMessage)
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}

// Query returns records matching f, newest first.
func (s *Store) Query(f Filter) []transfer.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]transfer.Record, 0, len(s.records))
	for _, r := range s.records {
		if f.matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	return out
}

// All returns every stored record, newest first.
func (s *Store) All() []transfer.Record {
	return s.Query(Filter{})
}

// document is the schema of the portable history file: an
// ordered list of SessionRecords. Unknown fields on import are ignored by
// yaml.v3's default unmarshal behavior.
type document struct {
	Records []transfer.Record `yaml:"records"`
}

// Export serializes the full current view as a YAML document.
func (s *Store) Export() ([]byte, error) {
	doc := document{Records: s.All()}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("export history: %w", err)
	}
	return data, nil
}

// Import merges a YAML document into the store, deduping by record id —
// an imported record with an ID already present overwrites the existing one.
func (s *Store) Import(data []byte) (int, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("import history: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range doc.Records {
		s.records[r.ID] = r
	}
	if len(s.records) > s.max {
		s.mu.Unlock()
		s.evictOverflow()
		s.mu.Lock()
	}
	return len(doc.Records), nil
}

func (s *Store) evictOverflow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) <= s.max {
		return
	}
	all := make([]transfer.Record, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].EndedAt.Before(all[j].EndedAt) })
	toEvict := len(all) - s.max
	for i := 0; i < toEvict; i++ {
		delete(s.records, all[i].ID)
	}
}

// Len returns the number of retained records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
