// Package dedupe provides near-duplicate detection over screened text.
// Two backends share one result shape: a MinHash-LSH index for real corpora
// and a plain Jaccard scan for tests and small runs. Signatures can be
// persisted to a sqlite database so separate screening runs share one
// combined index.
package dedupe

import (
	"time"
)

// Config tunes the detector. Zero values take the defaults below.
type Config struct {
	Permutations  int     // MinHash permutations (default 128)
	Threshold     float64 // Jaccard similarity threshold (default 0.85)
	ShingleSize   int     // token shingle width (default 3)
	MaxCandidates int     // LSH candidates examined per query (default 50)
	MaxTokens     int     // tokens considered per document (default 2000)
}

func (c Config) withDefaults() Config {
	if c.Permutations <= 0 {
		c.Permutations = 128
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.85
	}
	if c.ShingleSize <= 0 {
		c.ShingleSize = 3
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 50
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2000
	}
	return c
}

// Result is the backend-independent answer to a query.
type Result struct {
	IsDuplicate       bool    `json:"is_duplicate"`
	Score             float64 `json:"score"`
	MatchID           string  `json:"match_id,omitempty"`
	Backend           string  `json:"backend"`
	ElapsedMS         float64 `json:"elapsed_ms"`
	CandidatesChecked int     `json:"candidates_checked"`
}

// backend is the common surface of the two index implementations.
type backend interface {
	add(docID, text string)
	query(text string) Result
	name() string
}

// Detector indexes documents and answers near-duplicate queries.
type Detector struct {
	cfg   Config
	index backend
	store *Store // optional persistence
}

// Option configures a Detector.
type Option func(*Detector)

// WithJaccardBackend forces the exact in-memory backend.
func WithJaccardBackend() Option {
	return func(d *Detector) { d.index = newJaccardIndex(d.cfg) }
}

// WithStore persists added documents to a sqlite-backed store.
func WithStore(s *Store) Option {
	return func(d *Detector) { d.store = s }
}

// NewDetector creates a detector. The LSH backend is the default.
func NewDetector(cfg Config, opts ...Option) *Detector {
	d := &Detector{cfg: cfg.withDefaults()}
	d.index = newLSHIndex(d.cfg)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Add indexes a document under docID.
func (d *Detector) Add(docID, text string) error {
	d.index.add(docID, text)
	if d.store != nil {
		return d.store.Put(docID, text)
	}
	return nil
}

// Query reports whether text near-duplicates an indexed document.
func (d *Detector) Query(text string) Result {
	start := time.Now()
	res := d.index.query(text)
	res.Backend = d.index.name()
	res.ElapsedMS = float64(time.Since(start).Microseconds()) / 1000.0
	return res
}

// LoadStore replays every persisted document into the index.
func (d *Detector) LoadStore() error {
	if d.store == nil {
		return nil
	}
	return d.store.Each(func(docID, text string) {
		d.index.add(docID, text)
	})
}
