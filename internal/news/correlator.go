package news

import (
	"fmt"
	"strings"

	"github.com/marketpulse/engine/internal/domain"
)

// categoryKeywords maps market categories to the terms that signal them in
// article text.
var categoryKeywords = map[string][]string{
	"crypto":     {"bitcoin", "btc", "ethereum", "eth", "crypto", "blockchain"},
	"politics":   {"election", "president", "congress", "senate", "vote", "political"},
	"technology": {"ai", "artificial intelligence", "tech", "apple", "google", "microsoft"},
	"economy":    {"fed", "federal reserve", "interest rate", "inflation", "gdp", "economy"},
	"climate":    {"climate", "temperature", "emissions", "carbon", "renewable"},
}

// categoryOrder keeps Categorize deterministic across map iteration.
var categoryOrder = []string{"crypto", "politics", "technology", "economy", "climate"}

// Categorize returns every market category an article's text touches and the
// primary one ("general" when nothing matches).
func Categorize(title, description string) (related []string, primary string) {
	text := strings.ToLower(title + " " + description)

	for _, category := range categoryOrder {
		for _, keyword := range categoryKeywords[category] {
			if strings.Contains(text, keyword) {
				related = append(related, category)
				break
			}
		}
	}

	if len(related) == 0 {
		return nil, "general"
	}
	return related, related[0]
}

// impactShift is the largest probability move an article can imply.
const impactShift = 0.10

// CorrelateMarkets builds impact detail records for the markets an article's
// categories touch. The projected probability is the current one shifted by
// the article's impact in its predicted direction, clamped to (0,1).
func CorrelateMarkets(article domain.NewsArticle, markets []domain.MarketState) []domain.MarketImpact {
	related, _ := Categorize(article.Title, article.Description)
	if len(related) == 0 {
		return nil
	}
	relatedSet := make(map[string]struct{}, len(related))
	for _, c := range related {
		relatedSet[c] = struct{}{}
	}

	var impacts []domain.MarketImpact
	for _, m := range markets {
		if _, ok := relatedSet[m.Category]; !ok {
			continue
		}
		if m.Probability == nil {
			continue
		}
		before := *m.Probability
		impacts = append(impacts, domain.MarketImpact{
			Platform:       m.Platform,
			MarketName:     m.Question,
			BeforeProb:     before,
			AfterProb:      projectProbability(before, article),
			Interpretation: interpret(article, m),
			URL:            m.URL,
		})
	}
	return impacts
}

func projectProbability(before float64, article domain.NewsArticle) float64 {
	shift := article.ImpactScore * impactShift
	var after float64
	switch article.PredictedDirection {
	case domain.DirectionUp:
		after = before + shift
	case domain.DirectionDown:
		after = before - shift
	default:
		return before
	}
	if after > 0.99 {
		after = 0.99
	} else if after < 0.01 {
		after = 0.01
	}
	return after
}

func interpret(article domain.NewsArticle, m domain.MarketState) string {
	switch article.PredictedDirection {
	case domain.DirectionUp:
		return fmt.Sprintf("%s coverage (%s) may lift %q", article.SentimentLabel, article.Source, m.Question)
	case domain.DirectionDown:
		return fmt.Sprintf("%s coverage (%s) may pressure %q", article.SentimentLabel, article.Source, m.Question)
	default:
		return fmt.Sprintf("coverage (%s) unlikely to move %q", article.Source, m.Question)
	}
}
