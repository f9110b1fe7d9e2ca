package clustering

import (
	"regexp"
	"strings"
)

// Entity labels recognised by EntityExtractor implementations and the
// structured extractors.
const (
	LabelPerson = "PERSON"
	LabelOrg    = "ORG"
	LabelGPE    = "GPE"
	LabelEvent  = "EVENT"
	LabelLaw    = "LAW"

	LabelNum     = "NUM"
	LabelTW      = "TW"
	LabelPercent = "PERCENT"
	LabelDomain  = "DOMAIN"
	LabelURL     = "URL"
	LabelISODate = "ISO_DATE"
	LabelYear    = "YEAR"

	LabelSemantic = "SEMANTIC"
)

// KeyLabels are the labels the matcher's key-identity gate (step 4)
// checks for overlap; GPE is deliberately excluded so a shared country
// is never, on its own, sufficient to merge two clusters.
var KeyLabels = []string{LabelPerson, LabelOrg, LabelEvent, LabelLaw}

// EntityExtractor extracts named-entity-like spans from free text. The
// shipped implementation (RuleBasedExtractor) is deterministic and
// dependency-free, so the matcher runs without word vectors or an
// external model; a model-backed extractor can be swapped in behind
// this interface.
type EntityExtractor interface {
	Extract(text string) map[string][]string
}

var (
	capRun       = regexp.MustCompile(`\b(\p{Lu}[\p{L}'-]*(?:\s+\p{Lu}[\p{L}'-]*)*)\b`)
	honorifics   = map[string]bool{"mr": true, "mrs": true, "ms": true, "dr": true, "president": true, "general": true, "minister": true, "senator": true, "king": true, "queen": true, "prime": true, "governor": true, "chancellor": true}
	orgSuffixes  = map[string]bool{"inc": true, "corp": true, "ltd": true, "co": true, "group": true, "party": true, "army": true, "forces": true, "organization": true, "organisation": true, "union": true, "committee": true, "council": true, "coalition": true, "nations": true}
	lawSuffixes  = map[string]bool{"act": true, "treaty": true, "accord": true, "agreement": true, "resolution": true, "law": true, "bill": true}
	eventNouns   = map[string]bool{"war": true, "crisis": true, "uprising": true, "earthquake": true, "election": true, "summit": true, "conflict": true, "revolution": true, "protest": true, "outbreak": true, "ceasefire": true, "coup": true}
	sentenceLead = map[string]bool{"the": true, "a": true, "an": true, "in": true, "on": true, "at": true, "after": true, "this": true, "these": true, "it": true}
)

// RuleBasedExtractor classifies capitalisation runs ("President Biden",
// "United Nations", "Geneva Accord") by nearby cue words — honorifics
// for PERSON, corporate/political suffixes for ORG, legal-instrument
// suffixes for LAW, event nouns for EVENT — and falls back to GPE for
// anything else, since place names are the most common uncategorised
// capitalised span in news text and GPE is excluded from the matcher's
// key-identity gate (a wrong GPE guess cannot cause a false merge).
type RuleBasedExtractor struct{}

// NewRuleBasedExtractor constructs the default extractor.
func NewRuleBasedExtractor() *RuleBasedExtractor { return &RuleBasedExtractor{} }

func (RuleBasedExtractor) Extract(text string) map[string][]string {
	out := make(map[string][]string)

	for _, loc := range capRun.FindAllStringIndex(text, -1) {
		span := text[loc[0]:loc[1]]
		tokens := Tokenize(span)
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) == 1 && sentenceLead[tokens[0]] {
			continue
		}
		start := loc[0]
		if lead := strings.Fields(span)[0]; len(tokens) > 1 && sentenceLead[tokens[0]] && strings.ToLower(lead) == tokens[0] {
			// A capitalised sentence-initial function word ("The Geneva
			// Accord") is not part of the entity name.
			span = strings.TrimSpace(span[len(lead):])
			start = loc[1] - len(span)
			tokens = tokens[1:]
		}

		label := classifySpan(text, start, tokens)
		out[label] = appendUnique(out[label], span)
	}

	extractStructured(text, out)
	extractSemantic(text, out)
	return out
}

// classifySpan decides PERSON/ORG/LAW/EVENT/GPE for a capitalised span
// given the last token and any honorific immediately preceding it in
// the source text.
func classifySpan(text string, startIdx int, tokens []string) string {
	last := tokens[len(tokens)-1]
	if orgSuffixes[last] {
		return LabelOrg
	}
	if lawSuffixes[last] {
		return LabelLaw
	}
	if eventNouns[last] {
		return LabelEvent
	}

	if honorifics[tokens[0]] {
		return LabelPerson
	}
	preceding := precedingWord(text, startIdx)
	if honorifics[preceding] {
		return LabelPerson
	}

	return LabelGPE
}

// precedingWord returns the lowercase word immediately before byte
// offset idx in text, or "" if there isn't one.
func precedingWord(text string, idx int) string {
	if idx == 0 {
		return ""
	}
	before := text[:idx]
	toks := Tokenize(before)
	if len(toks) == 0 {
		return ""
	}
	return toks[len(toks)-1]
}

func appendUnique(vals []string, v string) []string {
	for _, existing := range vals {
		if existing == v {
			return vals
		}
	}
	return append(vals, v)
}

// semanticKeywords is the per-domain keyword map behind the SEMANTIC
// bucket: the only place natural-language domain knowledge enters.
var semanticKeywords = map[string]string{
	"protest":   "conflict",
	"protests":  "conflict",
	"violence":  "conflict",
	"violent":   "conflict",
	"death":     "casualty",
	"deaths":    "casualty",
	"killed":    "casualty",
	"dead":      "casualty",
	"internet":  "infrastructure",
	"blackout":  "infrastructure",
	"regime":    "governance",
	"government": "governance",
	"sanctions": "economic",
	"embargo":   "economic",
	"media":     "information",
	"journalist": "information",
	"activist":  "information",
	"strike":    "conflict",
	"airstrike": "conflict",
	"bombing":   "conflict",
}

// extractSemantic matches content words against semanticKeywords,
// producing "<type>:<word>" tokens, a "primary_<type>" token for the
// most frequent type, and any remaining content word (>=6 chars, or
// containing a digit/%) verbatim.
func extractSemantic(text string, out map[string][]string) {
	tokens := Tokenize(text)
	typeCounts := make(map[string]int)
	var values []string

	for _, tok := range tokens {
		if kind, ok := semanticKeywords[tok]; ok {
			values = append(values, kind+":"+tok)
			typeCounts[kind]++
			continue
		}
		if len([]rune(tok)) >= 6 || strings.ContainsAny(tok, "0123456789%") {
			values = append(values, tok)
		}
	}

	primary, best := "", 0
	for kind, count := range typeCounts {
		if count > best {
			primary, best = kind, count
		}
	}
	if primary != "" {
		values = append(values, "primary_"+primary)
	}

	if len(values) > 0 {
		out[LabelSemantic] = values
	}
}

var (
	domainPattern  = regexp.MustCompile(`https?://([^/\s]+)`)
	isoDatePattern = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	yearPattern    = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// extractStructured populates the structured-extractor labels (NUM, TW,
// PERCENT, DOMAIN, URL, ISO_DATE, YEAR) directly from raw text, ahead
// of tokenisation-dependent stripping.
func extractStructured(text string, out map[string][]string) {
	for _, m := range urlPattern.FindAllString(text, -1) {
		out[LabelURL] = appendUnique(out[LabelURL], strings.TrimRight(m, ".,;:!?)"))
	}
	for _, m := range domainPattern.FindAllStringSubmatch(text, -1) {
		out[LabelDomain] = appendUnique(out[LabelDomain], m[1])
	}
	for _, m := range isoDatePattern.FindAllString(text, -1) {
		out[LabelISODate] = appendUnique(out[LabelISODate], m)
	}
	for _, m := range yearPattern.FindAllString(text, -1) {
		out[LabelYear] = appendUnique(out[LabelYear], m)
	}

	for _, tok := range Tokenize(text) {
		switch {
		case percentToken.MatchString(tok):
			out[LabelPercent] = appendUnique(out[LabelPercent], tok)
		case timeWindow.MatchString(tok):
			out[LabelTW] = appendUnique(out[LabelTW], tok)
		case numberToken.MatchString(tok):
			out[LabelNum] = appendUnique(out[LabelNum], tok)
		}
	}
}
