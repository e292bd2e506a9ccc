// Package identity resolves between the two naming schemes of the
// dataset: numeric study ids as published in the summary tables and
// canonical trait keys as used by the graph. Free-text trait names
// from callers are resolved case-insensitively first and by trigram
// similarity second.
package identity

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/phenoproxy/traitgraph/pkg/common"
)

// DefaultSimilarityFloor is the minimum trigram-Jaccard similarity a
// fuzzy match must reach before a name resolves at all.
const DefaultSimilarityFloor = 0.5

// tieEpsilon bounds how close two fuzzy scores may be before the
// match counts as ambiguous rather than won.
const tieEpsilon = 1e-9

// UnknownStudyError reports a study id that appears nowhere in the
// heritability table.
type UnknownStudyError struct {
	StudyID int64
}

func (e *UnknownStudyError) Error() string {
	return fmt.Sprintf("unknown study id %d", e.StudyID)
}

// TraitNotFoundError reports a trait name that matches nothing, not
// even fuzzily.
type TraitNotFoundError struct {
	Name string
}

func (e *TraitNotFoundError) Error() string {
	return fmt.Sprintf("no trait matches %q", e.Name)
}

// AmbiguousTraitNameError reports a fuzzy lookup that several traits
// tie for. Candidates is sorted; the caller decides which one was
// meant.
type AmbiguousTraitNameError struct {
	Name       string
	Candidates []string
}

func (e *AmbiguousTraitNameError) Error() string {
	return fmt.Sprintf("trait name %q is ambiguous between: %s", e.Name, strings.Join(e.Candidates, ", "))
}

// Params configures an Index.
type Params struct {
	// SimilarityFloor overrides DefaultSimilarityFloor when positive.
	SimilarityFloor float64
}

// Index maps study ids to canonical trait keys and resolves free-text
// trait names to keys. It is immutable after construction and safe
// for concurrent use; the reverse name index is built lazily on the
// first resolution since most queries arrive with a known key.
type Index struct {
	keyByStudy map[int64]string
	keys       []string
	floor      float64

	reverseOnce sync.Once
	fold        map[string]string
	candidates  []candidate
}

type candidate struct {
	key        string
	normalized string
}

// NewIndex builds an Index over the loaded heritability records.
func NewIndex(records []common.StudyHeritability, params Params) *Index {
	floor := params.SimilarityFloor
	if floor <= 0 {
		floor = DefaultSimilarityFloor
	}

	keyByStudy := make(map[int64]string, len(records))
	distinct := make(map[string]bool)
	for i := range records {
		keyByStudy[records[i].StudyID] = records[i].TraitKey
		distinct[records[i].TraitKey] = true
	}

	keys := make([]string, 0, len(distinct))
	for key := range distinct {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return &Index{
		keyByStudy: keyByStudy,
		keys:       keys,
		floor:      floor,
	}
}

// TraitNameForStudy returns the canonical trait key the given study
// measured.
func (idx *Index) TraitNameForStudy(id int64) (string, error) {
	key, ok := idx.keyByStudy[id]
	if !ok {
		return "", &UnknownStudyError{StudyID: id}
	}
	return key, nil
}

// Keys returns all canonical trait keys in sorted order. The slice is
// shared and must not be modified.
func (idx *Index) Keys() []string {
	return idx.keys
}

// Size returns the number of distinct traits.
func (idx *Index) Size() int {
	return len(idx.keys)
}

// ResolveTraitKey resolves a free-text trait name to a canonical key.
// A case-insensitive exact match wins immediately; otherwise every
// key is scored by trigram-Jaccard similarity over punctuation-free
// lowercase forms and the best score at or above the floor wins.
// Several keys tying for the best score is an AmbiguousTraitNameError;
// nothing reaching the floor is a TraitNotFoundError.
func (idx *Index) ResolveTraitKey(name string) (string, error) {
	canonical := common.CanonicalTrait(name)
	if canonical == "" {
		return "", &TraitNotFoundError{Name: name}
	}

	idx.ensureReverse()

	if key, ok := idx.fold[strings.ToLower(canonical)]; ok {
		return key, nil
	}

	needle := normalizeForMatch(canonical)
	if needle == "" {
		return "", &TraitNotFoundError{Name: name}
	}

	jaccard := metrics.NewJaccard()
	jaccard.CaseSensitive = false
	jaccard.NgramSize = 3

	best := 0.0
	var matches []string
	for _, cand := range idx.candidates {
		score := strutil.Similarity(needle, cand.normalized, jaccard)
		if score < idx.floor {
			continue
		}
		switch {
		case score > best+tieEpsilon:
			best = score
			matches = append(matches[:0], cand.key)
		case score >= best-tieEpsilon:
			matches = append(matches, cand.key)
		}
	}

	switch len(matches) {
	case 0:
		return "", &TraitNotFoundError{Name: name}
	case 1:
		return matches[0], nil
	}

	sort.Strings(matches)
	return "", &AmbiguousTraitNameError{Name: name, Candidates: matches}
}

func (idx *Index) ensureReverse() {
	idx.reverseOnce.Do(func() {
		fold := make(map[string]string, len(idx.keys))
		candidates := make([]candidate, 0, len(idx.keys))
		for _, key := range idx.keys {
			fold[strings.ToLower(key)] = key
			candidates = append(candidates, candidate{
				key:        key,
				normalized: normalizeForMatch(key),
			})
		}
		idx.fold = fold
		idx.candidates = candidates
	})
}

// normalizeForMatch lowers a name and strips everything that is not a
// letter or digit so fuzzy scores ignore punctuation and spacing.
func normalizeForMatch(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
