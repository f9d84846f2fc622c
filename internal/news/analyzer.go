package news

import (
	"strings"

	"github.com/marketpulse/engine/internal/domain"
)

// Keyword weights for sentiment scoring. Negative weights are stored
// negative so scoring is a single accumulation pass.
var positiveKeywords = map[string]float64{
	"surge": 0.8, "soar": 0.8, "rally": 0.7, "boom": 0.8,
	"bull": 0.6, "gains": 0.6, "rises": 0.5, "up": 0.4,
	"profit": 0.6, "growth": 0.6, "win": 0.7, "success": 0.6,
	"breakthrough": 0.8, "record": 0.7, "high": 0.5,
}

var negativeKeywords = map[string]float64{
	"crash": -0.9, "plunge": -0.8, "collapse": -0.9, "fall": -0.6,
	"bear": -0.6, "losses": -0.7, "drops": -0.6, "down": -0.4,
	"crisis": -0.8, "recession": -0.8, "decline": -0.6, "fail": -0.7,
	"risk": -0.5, "concern": -0.4, "low": -0.4,
}

// sentimentThreshold separates positive/negative from neutral.
const sentimentThreshold = 0.2

// AnalyzeSentiment scores text in [-1,1] by keyword weight, normalized by
// the number of keywords hit, and labels it at the ±0.2 thresholds.
func AnalyzeSentiment(text string) (float64, domain.Sentiment) {
	lower := strings.ToLower(text)

	var score float64
	var hits int
	for keyword, weight := range positiveKeywords {
		if strings.Contains(lower, keyword) {
			score += weight
			hits++
		}
	}
	for keyword, weight := range negativeKeywords {
		if strings.Contains(lower, keyword) {
			score += weight
			hits++
		}
	}

	if hits > 0 {
		score /= float64(hits)
		if score > 1 {
			score = 1
		} else if score < -1 {
			score = -1
		}
	}

	switch {
	case score > sentimentThreshold:
		return score, domain.SentimentPositive
	case score < -sentimentThreshold:
		return score, domain.SentimentNegative
	default:
		return score, domain.SentimentNeutral
	}
}

// sourceCredibility weights outlets for impact prediction. Unknown sources
// get 0.7.
var sourceCredibility = map[string]float64{
	"Reuters":             0.95,
	"Bloomberg":           0.95,
	"Associated Press":    0.95,
	"Financial Times":     0.90,
	"Wall Street Journal": 0.90,
	"CNBC":                0.85,
	"CNN":                 0.80,
	"BBC":                 0.90,
	"The Guardian":        0.85,
	"CoinDesk":            0.80,
	"TechCrunch":          0.75,
}

const defaultCredibility = 0.7

// Credibility returns the weight for a news source.
func Credibility(source string) float64 {
	if c, ok := sourceCredibility[source]; ok {
		return c
	}
	return defaultCredibility
}

// PredictImpact combines sentiment strength, source credibility, and recency
// into an impact score, a confidence in [0.3,0.95], and a direction.
func PredictImpact(sentimentScore, credibility, recencyHours float64) (impact, confidence float64, direction domain.Direction) {
	base := sentimentScore
	if base < 0 {
		base = -base
	}

	recency := 1 - recencyHours/24
	if recency < 0.5 {
		recency = 0.5
	}

	impact = base * credibility * recency

	confidence = base*0.5 + credibility*0.3 + recency*0.2
	if confidence < 0.3 {
		confidence = 0.3
	} else if confidence > 0.95 {
		confidence = 0.95
	}

	switch {
	case sentimentScore > sentimentThreshold:
		direction = domain.DirectionUp
	case sentimentScore < -sentimentThreshold:
		direction = domain.DirectionDown
	default:
		direction = domain.DirectionNeutral
	}
	return impact, confidence, direction
}
