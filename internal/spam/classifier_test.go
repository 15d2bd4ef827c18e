package spam

import (
	"reflect"
	"testing"
)

// stubHistory serves fixed pair statistics.
type stubHistory struct {
	total, replied, spam int
	replies              int
}

func (s *stubHistory) PairThreadStats(sender, recipient string) (int, int, int, error) {
	return s.total, s.replied, s.spam, nil
}

func (s *stubHistory) PairReplyCount(sender, recipient string) (int, error) {
	return s.replies, nil
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Win FREE money!!! 100% now, click-here")
	want := []string{"win", "free", "money", "now", "clickhere"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize = %v, want %v", got, want)
	}
	if Tokenize("") != nil {
		t.Errorf("Tokenize(\"\") should be nil")
	}
}

func TestClassifySpammyBodyNoHistory(t *testing.T) {
	c := NewClassifier(&stubHistory{})
	spam, err := c.Classify(
		"win free money cash prize urgent click now",
		"stranger@x.com", "victim@x.com",
	)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !spam {
		t.Error("spammy body from unknown sender not classified as spam")
	}
}

func TestClassifyBenignBodyNoHistory(t *testing.T) {
	c := NewClassifier(&stubHistory{})
	spam, err := c.Classify(
		"Hi, attaching the meeting notes from yesterday. See you Thursday.",
		"colleague@x.com", "me@x.com",
	)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if spam {
		t.Error("benign first-contact message classified as spam")
	}
}

func TestClassifyBlocklistTerm(t *testing.T) {
	// An engaged correspondent: replies in every thread, plenty of
	// reply context. Even so, a blocklist hit must flip the verdict.
	h := &stubHistory{total: 4, replied: 4, replies: 20}
	c := NewClassifier(h)

	spam, err := c.Classify("our usual weekly update", "a@x.com", "b@x.com")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if spam {
		t.Fatal("trusted correspondent misclassified before blocklist term")
	}

	spam, err = c.Classify("our usual weekly update plus cheap viagra", "a@x.com", "b@x.com")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !spam {
		t.Error("blocklist term did not outweigh trust")
	}
}

func TestClassifyReputationPenalty(t *testing.T) {
	// Same mildly spammy body; a sender whose threads the recipient
	// keeps marking spam must score worse than an engaged one.
	body := "limited offer discount buy subscribe"

	bad := &stubHistory{total: 5, replied: 0, spam: 5, replies: 0}
	good := &stubHistory{total: 5, replied: 5, spam: 0, replies: 10}

	spamBad, err := NewClassifier(bad).Classify(body, "a@x.com", "b@x.com")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	spamGood, err := NewClassifier(good).Classify(body, "a@x.com", "b@x.com")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !spamBad {
		t.Error("repeat-marked sender with no replies not classified as spam")
	}
	if spamGood {
		t.Error("engaged sender classified as spam")
	}
}

func TestReputationClamped(t *testing.T) {
	if got := reputation(0, 0, 0); got != 0.1 {
		t.Errorf("reputation with no history = %v, want 0.1", got)
	}
	if got := reputation(2, 2, 0); got != 1 {
		t.Errorf("reputation should clamp at 1, got %v", got)
	}
	if got := reputation(2, 0, 2); got != 0 {
		t.Errorf("reputation should clamp at 0, got %v", got)
	}
}

func TestReplyContext(t *testing.T) {
	if got := replyContext(0); got != -1 {
		t.Errorf("replyContext(0) = %v, want -1", got)
	}
	if got := replyContext(9); got != 2 {
		t.Errorf("replyContext(9) = %v, want 2 (log10(10)*2)", got)
	}
	if got := replyContext(1000); got != 2 {
		t.Errorf("replyContext should cap at 2, got %v", got)
	}
	if got := replyContext(2); got <= 0 || got >= 2 {
		t.Errorf("replyContext(2) = %v, want in (0, 2)", got)
	}
}

func TestSimilarityBuckets(t *testing.T) {
	// No vocabulary overlap at all scores zero.
	if got := similarityScore(Tokenize("hello there general kenobi")); got != 0 {
		t.Errorf("no-overlap similarity score = %v, want 0", got)
	}
	// A body covering the whole vocabulary tracks the weight vector
	// closely and lands in the top bucket.
	allVocab := "free win prize money cash crypto investment urgent immediately " +
		"action expired offer discount buy click subscribe viagra casino"
	if got := similarityScore(Tokenize(allVocab)); got != 5 {
		t.Errorf("all-vocab similarity score = %v, want 5", got)
	}
	// Mostly-vocabulary content still clears the middle bucket.
	if got := similarityScore(Tokenize("free win prize money cash urgent")); got != 3 {
		t.Errorf("heavy-vocab similarity score = %v, want 3", got)
	}
}
