package domain

import "math"

// Tier is the coded advisory tier.
type Tier int

const (
	TierLow      Tier = 2
	TierModerate Tier = 3
	TierHigh     Tier = 4
)

// Recommendation is the advisory attached to a risk tier.
type Recommendation struct {
	Tier   Tier
	Label  string
	Advice string
}

var recommendations = map[Tier]Recommendation{
	TierHigh:     {Tier: TierHigh, Label: "High risk", Advice: "Delay planting, use resistant varieties, apply soil amendments."},
	TierModerate: {Tier: TierModerate, Label: "Moderate risk", Advice: "Monitor closely, consider inter-cropping with legumes."},
	TierLow:      {Tier: TierLow, Label: "Low risk", Advice: "Standard practices should suffice."},
}

// Classify maps a risk score onto an advisory tier. Thresholds are exclusive
// on the lower side: 0.75 is moderate and 0.5 is low. A NaN score has no
// tier and ok is false.
func Classify(score float64) (rec Recommendation, ok bool) {
	switch {
	case math.IsNaN(score):
		return Recommendation{}, false
	case score > 0.75:
		return recommendations[TierHigh], true
	case score > 0.5:
		return recommendations[TierModerate], true
	default:
		return recommendations[TierLow], true
	}
}

// RecommendationFor returns the advisory for a coded tier.
func RecommendationFor(t Tier) (Recommendation, bool) {
	rec, ok := recommendations[t]
	return rec, ok
}

// Text renders the single-line advisory, e.g. "Low risk: Standard practices
// should suffice."
func (r Recommendation) Text() string {
	if r.Label == "" {
		return ""
	}
	return r.Label + ": " + r.Advice
}
