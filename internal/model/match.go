package model

// Confidence is the discrete match strength governing whether a merge is permitted.
type Confidence string

// Confidence tiers, weakest to strongest.
const (
	ConfidenceNone   Confidence = "none"
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
	ConfidenceExact  Confidence = "exact"
)

var confidenceRank = map[Confidence]int{
	ConfidenceNone:   0,
	ConfidenceLow:    1,
	ConfidenceMedium: 2,
	ConfidenceHigh:   3,
	ConfidenceExact:  4,
}

// AtLeast reports whether c is at least as strong as other.
func (c Confidence) AtLeast(other Confidence) bool {
	return confidenceRank[c] >= confidenceRank[other]
}

// Mergeable reports whether the tier permits the merge engine to update an
// existing contact. LOW and NONE never overwrite existing fields.
func (c Confidence) Mergeable() bool {
	return c.AtLeast(ConfidenceMedium)
}

// MatchResult is the transient outcome of identity resolution. Never persisted.
type MatchResult struct {
	Contact    *Contact   `json:"contact,omitempty"`
	Confidence Confidence `json:"confidence"`
	Reason     string     `json:"reason"`
}
