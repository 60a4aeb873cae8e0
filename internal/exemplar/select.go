package exemplar

import (
	"sort"
	"strings"
	"unicode"

	"flowsmith/internal/types"
)

// Selector scores a corpus against requests. The zero value is unusable;
// use NewSelector.
type Selector struct {
	corpus []Exemplar
}

// NewSelector returns a selector over the given corpus. A nil corpus means
// the built-in DefaultCorpus.
func NewSelector(corpus []Exemplar) *Selector {
	if corpus == nil {
		corpus = DefaultCorpus
	}
	return &Selector{corpus: corpus}
}

// Select returns up to k exemplars for the request, most relevant first.
// bucket is the request's complexity class (1..3) from admission.
//
// Scoring: keyword overlap with exemplar tags, a category-match bonus when a
// hint names the category, and proximity of complexity buckets. A diversity
// constraint forbids two picks from sharing a category unless fewer than k
// categories exist in the corpus. Ties break by corpus order. Never fails:
// an empty corpus yields an empty selection.
func (s *Selector) Select(req types.GenerationRequest, bucket, k int) []Exemplar {
	if s == nil || len(s.corpus) == 0 || k <= 0 {
		return nil
	}

	words := tokenSet(req.Prompt)
	for _, h := range req.Hints {
		for w := range tokenSet(h) {
			words[w] = struct{}{}
		}
	}

	type scored struct {
		idx   int
		score int
	}
	ranked := make([]scored, 0, len(s.corpus))
	for i, ex := range s.corpus {
		sc := 0
		for _, tag := range ex.Tags {
			if _, ok := words[strings.ToLower(tag)]; ok {
				sc += 3
			}
		}
		if _, ok := words[strings.ToLower(ex.Category)]; ok {
			sc += 2
		}
		switch d := abs(ex.Bucket - bucket); d {
		case 0:
			sc += 2
		case 1:
			sc++
		}
		ranked = append(ranked, scored{idx: i, score: sc})
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return ranked[a].idx < ranked[b].idx
	})

	distinct := map[string]struct{}{}
	for _, ex := range s.corpus {
		distinct[ex.Category] = struct{}{}
	}
	// With fewer categories than k the diversity constraint cannot be
	// satisfied and is relaxed.
	enforceDiversity := len(distinct) >= k

	out := make([]Exemplar, 0, k)
	seen := map[string]struct{}{}
	for _, r := range ranked {
		ex := s.corpus[r.idx]
		if enforceDiversity {
			if _, dup := seen[ex.Category]; dup {
				continue
			}
		}
		out = append(out, ex)
		seen[ex.Category] = struct{}{}
		if len(out) == k {
			break
		}
	}
	return out
}

// tokenSet extracts lowercase ident-like words: start with a letter or '_',
// continue with letter/digit/'_'. Numbers and symbols are delimiters.
func tokenSet(text string) map[string]struct{} {
	out := map[string]struct{}{}
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out[strings.ToLower(cur.String())] = struct{}{}
			cur.Reset()
		}
	}
	for _, r := range text {
		isStart := r == '_' || unicode.IsLetter(r)
		isCont := isStart || unicode.IsDigit(r)
		if cur.Len() == 0 {
			if isStart {
				cur.WriteRune(r)
			}
			continue
		}
		if isCont {
			cur.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
