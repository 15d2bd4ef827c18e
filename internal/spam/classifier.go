/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package spam scores candidate messages with a hybrid heuristic:
// a lexical blocklist, cosine similarity against a weighted spam
// vocabulary, sender reputation and reply context. Pure read+compute;
// persisting the verdict is the caller's job.
package spam

import (
	"fmt"
	"math"
	"strings"
	"unicode"
)

// History gives the classifier read access to prior traffic between a
// sender and a recipient, keyed by identity.
type History interface {
	// PairThreadStats returns the total number of threads from sender
	// to recipient, how many of those the recipient replied in, and
	// how many the recipient marked spam.
	PairThreadStats(sender, recipient string) (total, replied, spam int, err error)
	// PairReplyCount counts messages the recipient authored within the
	// thread between the pair, zero when there is no such thread.
	PairReplyCount(sender, recipient string) (int, error)
}

const decisionThreshold = 1.5

type Classifier struct {
	history History
}

func NewClassifier(history History) *Classifier {
	return &Classifier{history: history}
}

// Classify reports whether the message should land in the recipient's
// spam overlay. Store lookup errors propagate; there is no retry.
func (c *Classifier) Classify(body, sender, recipient string) (bool, error) {
	var spamScore, trustScore float64

	// Lexical rule check. A hit feeds the additive score rather than
	// deciding outright.
	lower := strings.ToLower(body)
	for _, term := range blocklist {
		if strings.Contains(lower, term) {
			spamScore += 10
			break
		}
	}

	spamScore += similarityScore(Tokenize(body))

	total, replied, marked, err := c.history.PairThreadStats(sender, recipient)
	if err != nil {
		return false, fmt.Errorf("history.PairThreadStats: %w", err)
	}
	trustScore += reputation(total, replied, marked) * 2

	replies, err := c.history.PairReplyCount(sender, recipient)
	if err != nil {
		return false, fmt.Errorf("history.PairReplyCount: %w", err)
	}
	trustScore += replyContext(replies)

	return spamScore-trustScore > decisionThreshold, nil
}

// Tokenize lowercases, strips non-letters and splits on whitespace.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return r
		}
		return -1
	}, text)
	return strings.Fields(cleaned)
}

// similarityScore buckets the cosine similarity between the message's
// term-frequency vector, restricted to the vocabulary, and the
// vocabulary's weight vector.
func similarityScore(tokens []string) float64 {
	tf := make(map[string]int, len(vocab))
	for _, tok := range tokens {
		if _, ok := vocab[tok]; ok {
			tf[tok]++
		}
	}

	var dot, msgMag, vocabMag float64
	for word, weight := range vocab {
		freq := float64(tf[word])
		dot += freq * weight
		msgMag += freq * freq
		vocabMag += weight * weight
	}
	denom := math.Sqrt(msgMag) * math.Sqrt(vocabMag)
	if denom == 0 {
		denom = 1
	}
	similarity := dot / denom

	switch {
	case similarity > 0.7:
		return 5
	case similarity > 0.4:
		return 3
	case similarity > 0.2:
		return 1
	}
	return 0
}

// reputation maps the pair's thread history to [0, 1]. No history at
// all is neutral-low rather than zero so that first contact is not
// punished as hard as a known one-way spammer.
func reputation(total, replied, markedSpam int) float64 {
	if total == 0 {
		return 0.1
	}
	interactionRatio := float64(replied) / float64(total)
	spamRatio := float64(markedSpam) / float64(total)
	rep := interactionRatio*2 - spamRatio*5
	return math.Min(1, math.Max(0, rep))
}

// replyContext rewards threads the recipient actually writes in and
// penalizes one-sided sending.
func replyContext(replies int) float64 {
	if replies == 0 {
		return -1
	}
	return math.Min(2, math.Log10(float64(replies)+1)*2)
}
