// Package confidence maps continuous confidence scores onto discrete tiers.
// The same classifier gates sync auto-approval and labels transcript segments.
package confidence

import (
	"fmt"
	"math"
)

// Tier is a discrete confidence bucket
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Default thresholds. A score at or above High is high, at or above Medium is medium.
const (
	DefaultHighThreshold   = 0.85
	DefaultMediumThreshold = 0.50
)

// Classification is a tier plus its UI presentation
type Classification struct {
	Tier  Tier    `json:"tier"`
	Score float64 `json:"score"`
	Label string  `json:"label"`
	Color string  `json:"color"`
}

// Classifier holds the tier thresholds
type Classifier struct {
	High   float64
	Medium float64
}

// Default is the classifier used when no configuration overrides the thresholds
var Default = Classifier{High: DefaultHighThreshold, Medium: DefaultMediumThreshold}

// NewClassifier validates thresholds and returns a classifier
func NewClassifier(high, medium float64) (Classifier, error) {
	if !(medium > 0 && medium < high && high <= 1) {
		return Classifier{}, fmt.Errorf("invalid confidence thresholds: need 0 < medium (%v) < high (%v) <= 1", medium, high)
	}
	return Classifier{High: high, Medium: medium}, nil
}

// Tier returns the bucket for score. NaN and negative scores are low; scores
// above 1 are treated as 1.
func (c Classifier) Tier(score float64) Tier {
	score = Clamp(score)
	switch {
	case score >= c.High:
		return TierHigh
	case score >= c.Medium:
		return TierMedium
	default:
		return TierLow
	}
}

// Classify returns the tier with label and color
func (c Classifier) Classify(score float64) Classification {
	tier := c.Tier(score)
	return Classification{
		Tier:  tier,
		Score: Clamp(score),
		Label: tier.Label(),
		Color: tier.Color(),
	}
}

// AutoApprovable reports whether a score may skip operator review
func (c Classifier) AutoApprovable(score float64) bool {
	return c.Tier(score) == TierHigh
}

// Classify uses the default thresholds
func Classify(score float64) Classification {
	return Default.Classify(score)
}

// Label is the operator facing text for a tier
func (t Tier) Label() string {
	switch t {
	case TierHigh:
		return "High confidence"
	case TierMedium:
		return "Needs review"
	default:
		return "Low confidence"
	}
}

// Color is the badge color for a tier
func (t Tier) Color() string {
	switch t {
	case TierHigh:
		return "#16a34a"
	case TierMedium:
		return "#d97706"
	default:
		return "#dc2626"
	}
}

// Rank orders tiers, low < medium < high
func (t Tier) Rank() int {
	switch t {
	case TierHigh:
		return 2
	case TierMedium:
		return 1
	default:
		return 0
	}
}

// Clamp bounds a score to [0,1], mapping NaN to 0
func Clamp(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
