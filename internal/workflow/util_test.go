package workflow

import "testing"

func TestNormalizeWord(t *testing.T) {
	cases := map[string]string{
		"Yes.":    "yes",
		"  NO!  ": "no",
		"unclear": "unclear",
		"Yes?":    "yes",
	}
	for in, want := range cases {
		if got := normalizeWord(in); got != want {
			t.Errorf("normalizeWord(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContainsAny(t *testing.T) {
	if !containsAny("See you at 3pm tomorrow", "tomorrow") {
		t.Errorf("expected match on 'tomorrow'")
	}
	if !containsAny("MONDAY works", "monday") {
		t.Errorf("expected case-insensitive match")
	}
	if containsAny("no time mentioned here", "monday", "tuesday", ":") {
		t.Errorf("expected no match")
	}
}
