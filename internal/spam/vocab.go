package spam

// Blocklist terms are matched as case-insensitive substrings; any hit
// adds a fixed penalty to the spam score.
var blocklist = []string{
	"viagra",
	"casino",
	"lottery",
	"wire transfer",
	"nigerian prince",
	"work from home",
}

// The vocabulary carries a weight in [0, 1] per spam term. A message's
// term-frequency vector over these words is compared against the
// weights by cosine similarity.
var vocab = map[string]float64{
	// financial / fraud
	"free":       0.9,
	"win":        0.9,
	"prize":      0.85,
	"money":      0.8,
	"cash":       0.8,
	"crypto":     0.75,
	"investment": 0.7,

	// urgency
	"urgent":      0.7,
	"immediately": 0.65,
	"action":      0.5,
	"expired":     0.6,

	// advertising
	"offer":     0.4,
	"discount":  0.4,
	"buy":       0.3,
	"click":     0.5,
	"subscribe": 0.3,

	// blocklist-adjacent, kept here so repetition still weighs in
	"viagra": 1.0,
	"casino": 0.95,
}
