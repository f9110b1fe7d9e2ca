package clustering

import (
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
	"github.com/xrash/smetrics"
)

// ratio converts an edit distance into a fuzzywuzzy-style similarity
// score in [0,100], the base primitive for TokenSetRatio/PartialRatio.
func ratio(a, b string) float64 {
	if a == b {
		return 100
	}
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 100
	}
	dist := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptions)
	r := (1 - float64(dist)/float64(maxLen)) * 100
	if r < 0 {
		return 0
	}
	return r
}

func uniqueSortedTokens(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// TokenSetRatio implements the fuzzywuzzy token_set_ratio primitive:
// tokenise both strings, take the sorted intersection and the
// per-side remainder, and return the best ratio among
// (intersection, intersection+remainderA), (intersection,
// intersection+remainderB) and (combinedA, combinedB). Robust to
// reordering and to one side containing extra words the other lacks.
func TokenSetRatio(a, b string) float64 {
	tokensA := uniqueSortedTokens(a)
	tokensB := uniqueSortedTokens(b)
	setB := toSet(tokensB)
	setA := toSet(tokensA)

	var inter, onlyA, onlyB []string
	for _, t := range tokensA {
		if setB[t] {
			inter = append(inter, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for _, t := range tokensB {
		if !setA[t] {
			onlyB = append(onlyB, t)
		}
	}

	interStr := strings.Join(inter, " ")
	combinedA := strings.TrimSpace(strings.Join(append(append([]string{}, inter...), onlyA...), " "))
	combinedB := strings.TrimSpace(strings.Join(append(append([]string{}, inter...), onlyB...), " "))

	best := ratio(interStr, combinedA)
	if r := ratio(interStr, combinedB); r > best {
		best = r
	}
	if r := ratio(combinedA, combinedB); r > best {
		best = r
	}
	return best
}

// PartialRatio slides the shorter string across the longer one and
// returns the best windowed ratio — near-100 when one is a substring
// (or near-substring) of the other, as happens with reposts and
// headline truncation.
func PartialRatio(a, b string) float64 {
	shorter, longer := []rune(a), []rune(b)
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) == 0 {
		if len(longer) == 0 {
			return 100
		}
		return 0
	}
	if len(longer) == len(shorter) {
		return ratio(string(shorter), string(longer))
	}

	best := 0.0
	for i := 0; i+len(shorter) <= len(longer); i++ {
		window := string(longer[i : i+len(shorter)])
		if r := ratio(string(shorter), window); r > best {
			best = r
		}
	}
	return best
}

// fuzzyRescueScore is the secondary signal used by step 3's fuzzy
// entity rescue: the better of token_set_ratio and Jaro-Winkler (the
// latter rewards shared prefixes, useful for transliteration
// variants of the same proper noun).
func fuzzyRescueScore(a, b string) float64 {
	best := TokenSetRatio(a, b)
	jw := smetrics.JaroWinkler(a, b, 0.7, 4) * 100
	if jw > best {
		best = jw
	}
	return best
}
