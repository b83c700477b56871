// Package ledger keeps the latest failure per (file, language) pair across
// runs so failed pairs can be retried selectively.
package ledger

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
)

type Ledger struct {
	mu      sync.RWMutex
	records map[jobs.Pair]Record
	order   []jobs.Pair
	now     func() time.Time
}

func New() *Ledger {
	return &Ledger{
		records: make(map[jobs.Pair]Record),
		now:     time.Now,
	}
}

// Record stores r for its pair, replacing any earlier record. The pair keeps
// its original position in ListFailed.
func (l *Ledger) Record(r Record) {
	if r.Timestamp.IsZero() {
		r.Timestamp = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pair := r.Pair()
	if _, exists := l.records[pair]; !exists {
		l.order = append(l.order, pair)
	}
	l.records[pair] = r
}

// ListFailed returns the pairs holding a record, oldest first.
func (l *Ledger) ListFailed() []jobs.Pair {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]jobs.Pair, len(l.order))
	copy(out, l.order)
	return out
}

func (l *Ledger) Get(pair jobs.Pair) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.records[pair]
	return r, ok
}

func (l *Ledger) Has(pair jobs.Pair) bool {
	_, ok := l.Get(pair)
	return ok
}

// Remove drops the record of pair. It reports whether one existed.
func (l *Ledger) Remove(pair jobs.Pair) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[pair]; !ok {
		return false
	}
	delete(l.records, pair)
	for i, p := range l.order {
		if p == pair {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = make(map[jobs.Pair]Record)
	l.order = nil
}

// Records returns a snapshot of all records in ListFailed order.
func (l *Ledger) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, 0, len(l.order))
	for _, p := range l.order {
		out = append(out, l.records[p])
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

type Summary struct {
	Total       int              `json:"total"`
	Recoverable int              `json:"recoverable"`
	ByKind      map[Kind]int     `json:"byKind"`
	BySeverity  map[Severity]int `json:"bySeverity"`
}

func (l *Ledger) Summary() Summary {
	s := Summary{
		ByKind:     make(map[Kind]int),
		BySeverity: make(map[Severity]int),
	}
	for _, r := range l.Records() {
		s.Total++
		if r.Recoverable {
			s.Recoverable++
		}
		s.ByKind[r.Kind]++
		s.BySeverity[r.Severity]++
	}
	return s
}

type export struct {
	ExportedAt time.Time `json:"exportedAt"`
	Summary    Summary   `json:"summary"`
	Errors     []Record  `json:"errors"`
}

// ExportJSON writes the summary and every record as indented JSON.
func (l *Ledger) ExportJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(export{
		ExportedAt: l.now(),
		Summary:    l.Summary(),
		Errors:     l.Records(),
	})
}
