package clustering

import "testing"

func TestRuleBasedExtractor_ClassifiesPersonOrgGPE(t *testing.T) {
	e := NewRuleBasedExtractor()
	got := e.Extract("President Biden met officials in Tokyo after the United Nations session")

	if !hasValue(got[LabelPerson], "President Biden") {
		t.Errorf("PERSON = %v, want to include %q", got[LabelPerson], "President Biden")
	}
	if !hasValue(got[LabelGPE], "Tokyo") {
		t.Errorf("GPE = %v, want to include %q", got[LabelGPE], "Tokyo")
	}
	if !hasValue(got[LabelOrg], "United Nations") {
		t.Errorf("ORG = %v, want to include %q", got[LabelOrg], "United Nations")
	}
}

func TestRuleBasedExtractor_StructuredExtractors(t *testing.T) {
	e := NewRuleBasedExtractor()
	got := e.Extract("Read more at https://example.com/story, 50% of homes damaged on 2024-03-05, in 2024")

	if !hasValue(got[LabelURL], "https://example.com/story") {
		t.Errorf("URL = %v", got[LabelURL])
	}
	if !hasValue(got[LabelDomain], "example.com") {
		t.Errorf("DOMAIN = %v", got[LabelDomain])
	}
	if !hasValue(got[LabelPercent], "50%") {
		t.Errorf("PERCENT = %v", got[LabelPercent])
	}
	if !hasValue(got[LabelISODate], "2024-03-05") {
		t.Errorf("ISO_DATE = %v", got[LabelISODate])
	}
	if !hasValue(got[LabelYear], "2024") {
		t.Errorf("YEAR = %v", got[LabelYear])
	}
}

func TestRuleBasedExtractor_EventAndLawSuffixes(t *testing.T) {
	e := NewRuleBasedExtractor()
	got := e.Extract("The Geneva Accord was signed after the Syrian Civil War escalated")

	if !hasValue(got[LabelLaw], "Geneva Accord") {
		t.Errorf("LAW = %v, want to include Geneva Accord", got[LabelLaw])
	}
	if !hasValue(got[LabelEvent], "Syrian Civil War") {
		t.Errorf("EVENT = %v, want to include Syrian Civil War", got[LabelEvent])
	}
}

func TestExtractSemantic_PrimaryType(t *testing.T) {
	e := NewRuleBasedExtractor()
	got := e.Extract("Protests turned violent as death toll rose amid government crackdown")

	values := got[LabelSemantic]
	if !hasAny(values, "primary_conflict") {
		t.Errorf("SEMANTIC = %v, want a primary_conflict token", values)
	}
}

func hasValue(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func hasAny(values []string, want string) bool {
	return hasValue(values, want)
}
