package format

import "testing"

func TestBoldEscapes(t *testing.T) {
	if got := Bold(`Стул <"A&B">`); got != "<b>Стул &lt;&#34;A&amp;B&#34;&gt;</b>" {
		t.Fatalf("Bold = %q", got)
	}
}
