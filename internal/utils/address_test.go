package utils

import "testing"

func TestStripAngles(t *testing.T) {
	cases := map[string]string{
		"<a@x.com>":   "a@x.com",
		" <a@x.com> ": "a@x.com",
		"a@x.com":     "a@x.com",
		"< a@x.com >": "a@x.com",
		"":            "",
	}
	for in, want := range cases {
		if got := StripAngles(in); got != want {
			t.Errorf("StripAngles(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeAddress(t *testing.T) {
	if got, err := NormalizeAddress("  a@x.com "); err != nil || got != "a@x.com" {
		t.Errorf("NormalizeAddress trimmed = %q, %v", got, err)
	}
	for _, bad := range []string{"", "@x.com", "a@", "nodomain"} {
		if _, err := NormalizeAddress(bad); err == nil {
			t.Errorf("NormalizeAddress(%q) accepted", bad)
		}
	}
}

func TestMatchesDomain(t *testing.T) {
	domains := []string{"gmail.com", "Outlook.com"}
	if !MatchesDomain("a@gmail.com", domains) {
		t.Error("gmail.com not matched")
	}
	if !MatchesDomain("a@GMAIL.com", domains) {
		t.Error("domain match should be case-insensitive")
	}
	if !MatchesDomain("a@outlook.com", domains) {
		t.Error("outlook.com not matched")
	}
	if MatchesDomain("a@x.com", domains) {
		t.Error("x.com matched unexpectedly")
	}
	if MatchesDomain("nodomain", domains) {
		t.Error("address without domain matched")
	}
}
