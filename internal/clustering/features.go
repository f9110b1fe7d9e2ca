package clustering

// Features bundles everything the matcher needs about one text: a new
// item, or a cluster's representative text.
type Features struct {
	Canon     string
	Signature Signature
	Flat      map[string]bool
	Script    string
	NGram     NGramVector
}

// BuildFeatures runs the full feature pipeline over text.
func BuildFeatures(extractor EntityExtractor, text string) Features {
	sig := BuildSignature(extractor, text)
	return Features{
		Canon:     Canon(text),
		Signature: sig,
		Flat:      FlattenedFeatures(sig),
		Script:    DominantScript(text),
		NGram:     BuildNGramVector(text),
	}
}
