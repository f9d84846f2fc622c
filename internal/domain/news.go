package domain

import "time"

// Sentiment labels the tone of a news article.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Direction is the predicted probability move for markets related to an
// article.
type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionNeutral Direction = "neutral"
)

// MarketImpact describes the predicted effect of one article on one market.
type MarketImpact struct {
	Platform       Platform `json:"platform"`
	MarketName     string   `json:"market_name"`
	BeforeProb     float64  `json:"before_probability"`
	AfterProb      float64  `json:"after_probability"`
	Interpretation string   `json:"interpretation"`
	URL            string   `json:"url,omitempty"`
}

// NewsArticle is a news item enriched with sentiment and market-impact
// analysis.
type NewsArticle struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	Source             string         `json:"source"`
	PublishedAt        time.Time      `json:"published_at"`
	URL                string         `json:"url,omitempty"`
	SentimentScore     float64        `json:"sentiment_score"` // [-1,1]
	SentimentLabel     Sentiment      `json:"sentiment_label"`
	ImpactScore        float64        `json:"impact_score"` // [0,1]
	Confidence         float64        `json:"confidence"`   // [0,1]
	PredictedDirection Direction      `json:"predicted_direction"`
	Category           string         `json:"category,omitempty"`
	Breaking           bool           `json:"is_breaking"`
	Impacts            []MarketImpact `json:"market_impacts,omitempty"`
}
