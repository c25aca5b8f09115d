package similarity

import "strings"

// NormalizeKeyword lowercases s, trims it and collapses internal whitespace.
func NormalizeKeyword(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeKeywords normalizes every keyword and drops the blank ones.
// Order is preserved; duplicates are kept.
func NormalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if n := NormalizeKeyword(k); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// KeywordSet builds a normalized set from keywords.
func KeywordSet(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		if n := NormalizeKeyword(k); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Jaccard computes |A ∩ B| / |A ∪ B| over the normalized keyword sets.
// Two empty sets are treated as identical (1); exactly one empty set yields 0.
func Jaccard(a, b []string) float64 {
	return JaccardSets(KeywordSet(a), KeywordSet(b))
}

// JaccardSets is Jaccard over prebuilt sets.
func JaccardSets(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}

	var intersection int
	for k := range small {
		if _, ok := large[k]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
