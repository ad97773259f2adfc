package dedupe

import "sync"

// jaccardIndex is the exact backend: token-set Jaccard over every indexed
// document. Quadratic, but precise — used in tests and for small corpora.
type jaccardIndex struct {
	mu   sync.RWMutex
	cfg  Config
	docs map[string]map[string]bool
}

func newJaccardIndex(cfg Config) *jaccardIndex {
	return &jaccardIndex{cfg: cfg, docs: map[string]map[string]bool{}}
}

func (j *jaccardIndex) name() string { return "jaccard" }

func (j *jaccardIndex) tokenSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, t := range tokenize(text, j.cfg.MaxTokens) {
		set[t] = true
	}
	return set
}

func (j *jaccardIndex) add(docID, text string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.docs[docID] = j.tokenSet(text)
}

func (j *jaccardIndex) query(text string) Result {
	set := j.tokenSet(text)
	j.mu.RLock()
	defer j.mu.RUnlock()

	best := Result{}
	checked := 0
	for docID, other := range j.docs {
		checked++
		score := jaccard(set, other)
		if score > best.Score {
			best.Score = score
			best.MatchID = docID
		}
	}
	best.CandidatesChecked = checked
	if best.Score >= j.cfg.Threshold {
		best.IsDuplicate = true
	} else {
		best.MatchID = ""
	}
	return best
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
