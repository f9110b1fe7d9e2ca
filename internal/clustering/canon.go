// Package clustering implements the Clustering Engine: it assigns each
// new NormalizedItem to exactly one Cluster, creating a new cluster
// only when no existing one is a good match. It is deliberately robust
// to paraphrase, translation, script change and entity-name variation,
// while refusing to merge stories that share only a date or a country.
package clustering

import (
	"regexp"
	"sort"
	"strings"
)

var (
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	mentionPattern = regexp.MustCompile(`[@#]\w+`)
	// emojiPattern covers the common emoji blocks; it is intentionally
	// coarse rather than an exhaustive Unicode emoji database.
	emojiPattern = regexp.MustCompile(`[\x{1F300}-\x{1FAFF}\x{2600}-\x{27BF}]`)
	numberToken  = regexp.MustCompile(`^\d{1,10}$`)
	percentToken = regexp.MustCompile(`^\d{1,3}%$`)
	timeWindow   = regexp.MustCompile(`^\d{1,3}[hdwm]$`)
	punctuation  = regexp.MustCompile(`[^\p{L}\p{N}%\s]+`)
)

// stopwords is a small, domain-agnostic list excluded from the rare
// token set unless the token carries a digit or '%'.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "and": true, "in": true,
	"on": true, "at": true, "is": true, "was": true, "were": true, "to": true,
	"for": true, "that": true, "this": true, "with": true, "by": true,
	"as": true, "it": true, "from": true, "be": true, "are": true, "or": true,
	"but": true, "not": true, "have": true, "has": true, "had": true,
	"will": true, "would": true, "can": true, "could": true, "should": true,
	"says": true, "said": true, "its": true, "into": true, "over": true,
	"after": true, "before": true, "than": true, "their": true, "his": true,
	"her": true, "they": true, "them": true, "been": true, "also": true,
}

// Tokenize lowercases text, strips URLs/mentions/hashtags/emoji and
// most punctuation (keeping '%'), and splits on whitespace. Structured
// tokens — bare numbers, percentages, time-windows like "24h" — survive
// intact.
func Tokenize(text string) []string {
	t := strings.ToLower(text)
	t = urlPattern.ReplaceAllString(t, " ")
	t = mentionPattern.ReplaceAllString(t, " ")
	t = emojiPattern.ReplaceAllString(t, " ")
	t = punctuation.ReplaceAllString(t, " ")
	return strings.Fields(t)
}

// isStructured reports whether a token is one of the structured token
// shapes (number, percent, time-window) that always survive the rare
// token filter regardless of length.
func isStructured(tok string) bool {
	return numberToken.MatchString(tok) || percentToken.MatchString(tok) || timeWindow.MatchString(tok)
}

// rareTokens filters tok to the "rare" subset: structured tokens
// unconditionally, other tokens only when non-stopword and length >= 4.
func rareTokens(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	var out []string
	for _, tok := range tokens {
		if isStructured(tok) {
			if !seen[tok] {
				seen[tok] = true
				out = append(out, tok)
			}
			continue
		}
		if stopwords[tok] || len([]rune(tok)) < 4 {
			continue
		}
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

// Canon builds the final canonical token string for text: the sorted,
// unique rare-token set joined by spaces, used as the lexical
// near-duplicate ratio input. The n-gram vector does not use Canon; it
// is built from its own cleaned text (see cleanForNGram in ngram.go).
func Canon(text string) string {
	return strings.Join(rareTokens(Tokenize(text)), " ")
}
