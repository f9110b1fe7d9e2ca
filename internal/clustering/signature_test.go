package clustering

import "testing"

func TestBuildSignature_NormalisesAndDedupes(t *testing.T) {
	e := NewRuleBasedExtractor()
	sig := BuildSignature(e, "Tokyo  reports damage; TOKYO braces for aftershocks")
	if len(sig[LabelGPE]) != 1 || sig[LabelGPE][0] != "tokyo" {
		t.Fatalf("GPE = %v, want a single normalised 'tokyo'", sig[LabelGPE])
	}
}

func TestWeightedJaccard_IdenticalSignaturesIsOne(t *testing.T) {
	sig := Signature{LabelOrg: {"united nations"}, LabelGPE: {"tokyo"}}
	if got := WeightedJaccard(sig, sig); got != 1 {
		t.Fatalf("jaccard of identical signatures = %v, want 1", got)
	}
}

func TestWeightedJaccard_DisjointIsZero(t *testing.T) {
	a := Signature{LabelOrg: {"united nations"}}
	b := Signature{LabelGPE: {"tokyo"}}
	if got := WeightedJaccard(a, b); got != 0 {
		t.Fatalf("jaccard of disjoint signatures = %v, want 0", got)
	}
}

func TestWeightedJaccard_EmptyBothIsZero(t *testing.T) {
	if got := WeightedJaccard(Signature{}, Signature{}); got != 0 {
		t.Fatalf("jaccard of two empty signatures = %v, want 0", got)
	}
}

func TestOverlapsOnAnyKeyLabel(t *testing.T) {
	a := Signature{LabelPerson: {"joe biden"}, LabelGPE: {"tokyo"}}
	b := Signature{LabelPerson: {"joe biden"}}
	if !overlapsOnAnyKeyLabel(a, b) {
		t.Fatal("expected PERSON overlap to be detected")
	}

	c := Signature{LabelGPE: {"tokyo"}}
	if overlapsOnAnyKeyLabel(a, c) {
		t.Fatal("GPE-only overlap must not satisfy the key-identity gate")
	}
}

func TestDisjointISODates(t *testing.T) {
	a := Signature{LabelISODate: {"2024-01-01"}}
	b := Signature{LabelISODate: {"2024-06-01"}}
	if !disjointISODates(a, b) {
		t.Fatal("expected disjoint ISO_DATE sets to be detected")
	}

	c := Signature{LabelISODate: {"2024-01-01"}}
	if disjointISODates(a, c) {
		t.Fatal("shared ISO_DATE value must not count as disjoint")
	}

	if disjointISODates(a, Signature{}) {
		t.Fatal("one side missing ISO_DATE must not count as disjoint")
	}
}

func TestFlattenedFeatures(t *testing.T) {
	sig := Signature{LabelGPE: {"tokyo"}, LabelOrg: {"united nations"}}
	flat := FlattenedFeatures(sig)
	if !flat["GPE=tokyo"] || !flat["ORG=united nations"] {
		t.Fatalf("flat = %v", flat)
	}
}
