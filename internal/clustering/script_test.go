package clustering

import "testing"

func TestDominantScript(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Earthquake strikes Tokyo", ScriptLatin},
		{"Землетрясение в Токио", ScriptCyrillic},
		{"زلزال في طوكيو", ScriptArabic},
		{"東京で地震", ScriptHan},
		{"123 456 789", ScriptOther},
		{"", ScriptOther},
	}
	for _, c := range cases {
		if got := DominantScript(c.text); got != c.want {
			t.Errorf("DominantScript(%q) = %q, want %q", c.text, got, c.want)
		}
	}
}
