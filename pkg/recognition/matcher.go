package recognition

// Candidate is one enrolled embedding in the gallery.
type Candidate struct {
	UserID    int64
	Name      string
	Embedding Embedding
}

// Match is the accepted candidate and its similarity to the probe.
type Match struct {
	Candidate
	Similarity float64
}

// Matcher picks the most similar gallery entry above a threshold.
//
// The gallery is scanned in full on every call, so cost grows linearly with
// the number of enrolled users.
type Matcher struct {
	threshold float64
}

// NewMatcher creates a matcher that accepts similarities strictly above threshold.
func NewMatcher(threshold float64) *Matcher {
	return &Matcher{threshold: threshold}
}

// Threshold returns the configured acceptance threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// BestMatch returns the candidate with the highest cosine similarity to probe,
// provided that similarity exceeds the threshold. The result does not depend
// on gallery order except for exact ties, where the earlier entry wins.
func (m *Matcher) BestMatch(probe Embedding, gallery []Candidate) (Match, bool) {
	var best Match
	found := false

	for _, c := range gallery {
		sim := CosineSimilarity(probe, c.Embedding)
		if sim <= m.threshold {
			continue
		}
		if !found || sim > best.Similarity {
			best = Match{Candidate: c, Similarity: sim}
			found = true
		}
	}

	return best, found
}
