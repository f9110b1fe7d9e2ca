package clustering

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mihasm/news-globe/internal/store"
)

// Matcher thresholds.
const (
	tokenSetRatioThreshold = 85.0
	partialRatioThreshold  = 88.0

	ngramSkipThreshold = 0.28

	minSigScore          = 0.18
	rescueLowerFrac      = 0.75
	rescueUpperFrac      = 1.00
	rescueMaxPairs       = 30
	rescueRatioThreshold = 88.0
	rescueMaxBonus       = 0.10

	gateStrongNgram   = 0.60
	gateSemanticNgram = 0.45
	gateFuzzyNgram    = 0.42
	gateFuzzyRatio    = 88.0

	combinedNgramWeight = 0.55
	combinedSigWeight   = 0.35

	dateBoundaryPenalty = 0.08

	scriptGuardThreshold = 0.72

	timeDecayWeight   = 0.10
	timeDecayHalfLife = 72.0 // hours

	acceptThreshold = 0.36
)

// Match reasons, returned alongside a successful match.
const (
	ReasonNearDuplicate = "near_duplicate"
	ReasonSemantic      = "ngram+ner_signature"
)

// MatchResult is the outcome of matching one item against the index.
type MatchResult struct {
	ClusterID uuid.UUID
	Created   bool
	Score     float64
	Reason    string
}

// Matcher assigns NormalizedItems to clusters using the in-memory
// Index. Matching runs in fixed order: hard links (step 1, reserved —
// always falls through), lexical near-duplicate (step 2), combined
// semantic + signature scoring behind the key-identity gate (step 3),
// and new-cluster creation (step 4).
type Matcher struct {
	index     *Index
	extractor EntityExtractor
	now       func() time.Time
}

// NewMatcher builds a Matcher over idx.
func NewMatcher(idx *Index, extractor EntityExtractor, now func() time.Time) *Matcher {
	if now == nil {
		now = time.Now
	}
	return &Matcher{index: idx, extractor: extractor, now: now}
}

// representativeText returns the text used to build an item's
// features: title and body concatenated, so the matcher sees the full
// semantic signal even when both are present.
func representativeText(item store.NormalizedItem) string {
	return strings.TrimSpace(item.Title + " " + item.Text)
}

// MatchOrCreate finds the best existing cluster for item, or creates a
// new one if none qualifies, persisting the assignment either way.
func (m *Matcher) MatchOrCreate(ctx context.Context, item store.NormalizedItem, clusters *store.ClusterStore, items *store.ItemStore) (MatchResult, error) {
	text := representativeText(item)
	features := BuildFeatures(m.extractor, text)

	candidates := m.index.Candidates(features.Flat)

	if best, ok := m.lexicalNearDuplicate(features, candidates); ok {
		return m.assign(ctx, item, best, ReasonNearDuplicate, 100, clusters, items)
	}

	if best, score, ok := m.semanticMatch(features, candidates); ok {
		return m.assign(ctx, item, best, ReasonSemantic, score, clusters, items)
	}

	return m.createCluster(ctx, item, text, features, clusters, items)
}

// lexicalNearDuplicate implements step 2.
func (m *Matcher) lexicalNearDuplicate(item Features, candidates []*IndexEntry) (*IndexEntry, bool) {
	var best *IndexEntry
	bestScore := -1.0
	for _, c := range candidates {
		tsr := TokenSetRatio(item.Canon, c.Features.Canon)
		pr := PartialRatio(item.Canon, c.Features.Canon)
		if tsr >= tokenSetRatioThreshold || pr >= partialRatioThreshold {
			score := math.Max(tsr, pr)
			if score > bestScore {
				best, bestScore = c, score
			}
		}
	}
	return best, best != nil
}

// semanticMatch implements step 3 across all candidates, returning the
// best accepted one.
func (m *Matcher) semanticMatch(item Features, candidates []*IndexEntry) (*IndexEntry, float64, bool) {
	var best *IndexEntry
	bestScore := math.Inf(-1)

	for _, c := range candidates {
		score, ok := m.scoreCandidate(item, c)
		if ok && score > bestScore {
			best, bestScore = c, score
		}
	}
	if best == nil {
		return nil, 0, false
	}
	return best, bestScore, true
}

// scoreCandidate runs step 3's sub-steps 1-8 for a single candidate,
// returning (final score, accepted).
func (m *Matcher) scoreCandidate(item Features, cand *IndexEntry) (float64, bool) {
	ngSc := Cosine(item.NGram, cand.Features.NGram)
	if ngSc < ngramSkipThreshold {
		return 0, false
	}

	sigSc := WeightedJaccard(item.Signature, cand.Features.Signature)

	if ngSc >= 0.33 && sigSc >= minSigScore*rescueLowerFrac && sigSc <= minSigScore*rescueUpperFrac {
		sigSc += fuzzyRescueBonus(item.Signature, cand.Features.Signature)
	}

	fuzzyKeyOverlap := fuzzyKeyOverlapExists(item.Signature, cand.Features.Signature)

	gated := ngSc >= gateStrongNgram ||
		overlapsOnAnyKeyLabel(item.Signature, cand.Features.Signature) ||
		(hasSemanticEventIndicator(item.Signature) && hasSemanticEventIndicator(cand.Features.Signature) && ngSc >= gateSemanticNgram) ||
		(ngSc >= gateFuzzyNgram && fuzzyKeyOverlap)
	if !gated {
		return 0, false
	}

	final := combinedNgramWeight*ngSc + combinedSigWeight*sigSc

	if disjointISODates(item.Signature, cand.Features.Signature) {
		final -= dateBoundaryPenalty
	}

	if item.Script != ScriptOther && cand.Features.Script != ScriptOther && item.Script != cand.Features.Script {
		if final < scriptGuardThreshold {
			return 0, false
		}
	}

	if !cand.LastSeenAt.IsZero() {
		ageH := m.now().Sub(cand.LastSeenAt).Hours()
		if ageH < 0 {
			ageH = 0
		}
		final += timeDecayWeight * (math.Pow(2, -ageH/timeDecayHalfLife) - 1)
	}

	if final < acceptThreshold {
		return 0, false
	}
	return final, true
}

// fuzzyRescueBonus implements step 3.3: pair up to rescueMaxPairs
// values per key label and add a bounded bonus for high-ratio pairs.
func fuzzyRescueBonus(a, b Signature) float64 {
	var bonus float64
	for _, label := range KeyLabels {
		w := weightOf(label)
		valsA, valsB := a[label], b[label]
		pairs := 0
		for _, va := range valsA {
			for _, vb := range valsB {
				if pairs >= rescueMaxPairs {
					break
				}
				pairs++
				if fuzzyRescueScore(va, vb) >= rescueRatioThreshold {
					bonus += 0.01 * w
					if bonus > rescueMaxBonus {
						return rescueMaxBonus
					}
				}
			}
		}
	}
	return bonus
}

// fuzzyKeyOverlapExists implements gate (d): a fuzzy match (>=88
// token_set_ratio) on any key-label value pair.
func fuzzyKeyOverlapExists(a, b Signature) bool {
	for _, label := range KeyLabels {
		for _, va := range a[label] {
			for _, vb := range b[label] {
				if TokenSetRatio(va, vb) >= gateFuzzyRatio {
					return true
				}
			}
		}
	}
	return false
}

// assign persists the match: sets item.cluster_id, bumps the cluster's
// last_seen_at/updated_at and recomputes its aggregates.
func (m *Matcher) assign(ctx context.Context, item store.NormalizedItem, entry *IndexEntry, reason string, score float64, clusters *store.ClusterStore, items *store.ItemStore) (MatchResult, error) {
	if err := items.SetClusterID(ctx, item.ID, entry.ClusterID); err != nil {
		return MatchResult{ClusterID: entry.ClusterID}, err
	}
	if err := clusters.RecalculateStats(ctx, entry.ClusterID, items); err != nil {
		return MatchResult{ClusterID: entry.ClusterID}, err
	}

	updated, err := clusters.Get(ctx, entry.ClusterID)
	if err != nil {
		return MatchResult{ClusterID: entry.ClusterID}, err
	}
	entry.LastSeenAt = updated.LastSeenAt
	m.index.AddOrUpdate(entry)

	return MatchResult{ClusterID: entry.ClusterID, Score: score, Reason: reason}, nil
}

// createCluster implements step 4: seed a new cluster from item and
// register it in the index immediately. text is the same concatenated
// title+body the item's features were built from.
func (m *Matcher) createCluster(ctx context.Context, item store.NormalizedItem, text string, features Features, clusters *store.ClusterStore, items *store.ItemStore) (MatchResult, error) {
	id := uuid.New()
	now := item.PreferredTime()

	title := text
	if title == "" {
		title = "No title"
	}
	if r := []rune(title); len(r) > 200 {
		title = string(r[:200])
	}

	c := store.Cluster{
		ID:                         id,
		Title:                      title,
		RepresentativeLat:          item.Lat,
		RepresentativeLon:          item.Lon,
		RepresentativeLocationName: item.LocationName,
		ItemCount:                  0,
		FirstSeenAt:                now,
		LastSeenAt:                 now,
	}
	if err := clusters.Create(ctx, c); err != nil {
		return MatchResult{}, err
	}
	if err := items.SetClusterID(ctx, item.ID, id); err != nil {
		return MatchResult{}, err
	}
	if err := clusters.RecalculateStats(ctx, id, items); err != nil {
		return MatchResult{}, err
	}

	m.index.AddOrUpdate(&IndexEntry{ClusterID: id, LastSeenAt: now, Features: features})

	return MatchResult{ClusterID: id, Created: true, Score: 1.0, Reason: "new_cluster"}, nil
}
