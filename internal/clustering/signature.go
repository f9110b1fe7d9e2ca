package clustering

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Signature maps entity label -> sorted, unique, normalised surface
// values.
type Signature map[string][]string

// normaliseEntity NFKC-normalises, collapses whitespace and casefolds
// an entity surface string, dropping anything <=2 characters long.
func normaliseEntity(raw string) (string, bool) {
	v := norm.NFKC.String(raw)
	v = strings.ToLower(strings.Join(strings.Fields(v), " "))
	if len([]rune(v)) <= 2 {
		return "", false
	}
	return v, true
}

// BuildSignature runs extractor over text and normalises every
// resulting surface value, deduplicating and sorting per label.
func BuildSignature(extractor EntityExtractor, text string) Signature {
	raw := extractor.Extract(text)
	sig := make(Signature, len(raw))

	for label, values := range raw {
		seen := make(map[string]bool, len(values))
		var normed []string
		for _, v := range values {
			n, ok := normaliseEntity(v)
			if !ok || seen[n] {
				continue
			}
			seen[n] = true
			normed = append(normed, n)
		}
		if len(normed) == 0 {
			continue
		}
		sort.Strings(normed)
		sig[label] = normed
	}
	return sig
}

// FlattenedFeatures returns the `{label=value}` string set used for
// fast prefilter intersection.
func FlattenedFeatures(sig Signature) map[string]bool {
	out := make(map[string]bool)
	for label, values := range sig {
		for _, v := range values {
			out[label+"="+v] = true
		}
	}
	return out
}

// sigWeights assigns per-label Jaccard weights for step 3's sig_sc:
// topical-identity labels outweigh generic anchors.
var sigWeights = map[string]float64{
	LabelEvent:  2.8,
	LabelOrg:    2.2,
	LabelPerson: 2.0,
	"LOC":       1.6,
	LabelLaw:    1.8,
	LabelGPE:    0.9,
	"DATE":      1.2,
	"CARDINAL":  0.4,
}

const defaultSigWeight = 1.0

func weightOf(label string) float64 {
	if w, ok := sigWeights[label]; ok {
		return w
	}
	return defaultSigWeight
}

// WeightedJaccard computes sig_sc = Σ w_label·|A∩B| / Σ w_label·|A∪B|
// across all labels present in either signature.
func WeightedJaccard(a, b Signature) float64 {
	labels := make(map[string]bool, len(a)+len(b))
	for l := range a {
		labels[l] = true
	}
	for l := range b {
		labels[l] = true
	}

	var num, den float64
	for label := range labels {
		w := weightOf(label)
		setA := toSet(a[label])
		setB := toSet(b[label])
		inter := len(intersectSet(setA, setB))
		union := len(setA) + len(setB) - inter
		num += w * float64(inter)
		den += w * float64(union)
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func intersectSet(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for v := range a {
		if b[v] {
			out[v] = true
		}
	}
	return out
}

// overlapsOnAnyKeyLabel reports whether a and b share at least one
// value on any label in KeyLabels (step 4, gate b).
func overlapsOnAnyKeyLabel(a, b Signature) bool {
	for _, label := range KeyLabels {
		setB := toSet(b[label])
		for _, v := range a[label] {
			if setB[v] {
				return true
			}
		}
	}
	return false
}

// disjointISODates reports whether both signatures carry ISO_DATE
// values and the sets are entirely disjoint (step 6's date-boundary
// penalty condition).
func disjointISODates(a, b Signature) bool {
	da, db := a[LabelISODate], b[LabelISODate]
	if len(da) == 0 || len(db) == 0 {
		return false
	}
	setB := toSet(db)
	for _, v := range da {
		if setB[v] {
			return false
		}
	}
	return true
}

// hasSemanticEventIndicator reports whether sig's SEMANTIC bucket
// carries any value at all — used by step 4's gate (c).
func hasSemanticEventIndicator(sig Signature) bool {
	return len(sig[LabelSemantic]) > 0
}
