package dedupe

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
)

// tokenize lower-cases and splits on whitespace, truncating to maxTokens.
func tokenize(text string, maxTokens int) []string {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) > maxTokens {
		tokens = tokens[:maxTokens]
	}
	return tokens
}

// shingleSet builds the set of hashed token shingles of the given width.
func shingleSet(tokens []string, width int) map[uint64]bool {
	set := map[uint64]bool{}
	if len(tokens) < width {
		if len(tokens) > 0 {
			set[hashShingle(tokens)] = true
		}
		return set
	}
	for i := 0; i+width <= len(tokens); i++ {
		set[hashShingle(tokens[i:i+width])] = true
	}
	return set
}

func hashShingle(tokens []string) uint64 {
	h := fnv.New64a()
	for _, t := range tokens {
		_, _ = h.Write([]byte(t))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

const mersennePrime = (1 << 61) - 1

// minhashParams are the fixed (a, b) coefficients for each permutation,
// derived from a deterministic seed so signatures are comparable across runs
// and processes.
func minhashParams(n int) (a, b []uint64) {
	a = make([]uint64, n)
	b = make([]uint64, n)
	state := uint64(0x9E3779B97F4A7C15)
	next := func() uint64 {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		return state
	}
	for i := 0; i < n; i++ {
		a[i] = next()%(mersennePrime-1) + 1
		b[i] = next() % mersennePrime
	}
	return a, b
}

// signature computes the MinHash signature of a shingle set.
func signature(shingles map[uint64]bool, a, b []uint64) []uint64 {
	sig := make([]uint64, len(a))
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	for sh := range shingles {
		x := sh % mersennePrime
		for i := range a {
			v := (a[i]*x + b[i]) % mersennePrime
			if v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

func signatureSimilarity(x, y []uint64) float64 {
	if len(x) == 0 || len(x) != len(y) {
		return 0
	}
	equal := 0
	for i := range x {
		if x[i] == y[i] {
			equal++
		}
	}
	return float64(equal) / float64(len(x))
}

// lshIndex is the banded MinHash index.
type lshIndex struct {
	mu    sync.RWMutex
	cfg   Config
	a, b  []uint64
	bands int
	rows  int
	// band key -> doc ids sharing that band
	buckets map[string][]string
	sigs    map[string][]uint64
}

func newLSHIndex(cfg Config) *lshIndex {
	a, b := minhashParams(cfg.Permutations)
	rows := 8
	bands := cfg.Permutations / rows
	if bands < 1 {
		bands = 1
		rows = cfg.Permutations
	}
	return &lshIndex{
		cfg:     cfg,
		a:       a,
		b:       b,
		bands:   bands,
		rows:    rows,
		buckets: map[string][]string{},
		sigs:    map[string][]uint64{},
	}
}

func (l *lshIndex) name() string { return "minhash_lsh" }

func (l *lshIndex) sig(text string) []uint64 {
	shingles := shingleSet(tokenize(text, l.cfg.MaxTokens), l.cfg.ShingleSize)
	return signature(shingles, l.a, l.b)
}

func (l *lshIndex) bandKeys(sig []uint64) []string {
	keys := make([]string, 0, l.bands)
	for band := 0; band < l.bands; band++ {
		h := fnv.New64a()
		for r := 0; r < l.rows; r++ {
			v := sig[band*l.rows+r]
			var buf [8]byte
			for i := 0; i < 8; i++ {
				buf[i] = byte(v >> (8 * i))
			}
			_, _ = h.Write(buf[:])
		}
		keys = append(keys, fmt.Sprintf("%d:%x", band, h.Sum64()))
	}
	return keys
}

func (l *lshIndex) add(docID, text string) {
	sig := l.sig(text)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sigs[docID] = sig
	for _, key := range l.bandKeys(sig) {
		l.buckets[key] = append(l.buckets[key], docID)
	}
}

func (l *lshIndex) query(text string) Result {
	sig := l.sig(text)
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := map[string]bool{}
	checked := 0
	best := Result{}
	for _, key := range l.bandKeys(sig) {
		for _, docID := range l.buckets[key] {
			if seen[docID] {
				continue
			}
			seen[docID] = true
			checked++
			score := signatureSimilarity(sig, l.sigs[docID])
			if score > best.Score {
				best.Score = score
				best.MatchID = docID
			}
			if checked >= l.cfg.MaxCandidates {
				break
			}
		}
		if checked >= l.cfg.MaxCandidates {
			break
		}
	}
	best.CandidatesChecked = checked
	if best.Score >= l.cfg.Threshold {
		best.IsDuplicate = true
	} else {
		best.MatchID = ""
	}
	return best
}
