package news

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/marketpulse/engine/internal/domain"
)

// breakingWindow marks articles newer than this as breaking.
const breakingWindow = 2 * time.Hour

// RawArticle is an unanalyzed article as delivered by a provider.
type RawArticle struct {
	Title       string
	Description string
	Source      string
	PublishedAt time.Time
	URL         string
}

// Provider supplies raw articles. The default is the built-in demo corpus;
// a NewsAPI-backed provider can slot in without touching the service.
type Provider interface {
	Articles(ctx context.Context) ([]RawArticle, error)
}

// MarketReader exposes the current market snapshot for impact correlation.
// Implemented by the query store via a thin adapter.
type MarketReader interface {
	Current(category string, limit int) []domain.MarketState
}

// Service fetches, analyzes, and correlates news. Unlike the markets path,
// a failed fetch here returns an explicit error and no articles; callers
// render the failure, not a fallback.
type Service struct {
	provider Provider
	markets  MarketReader
	logger   *slog.Logger
}

// NewService creates a news service. markets may be nil, which disables
// impact correlation.
func NewService(provider Provider, markets MarketReader, logger *slog.Logger) *Service {
	if provider == nil {
		provider = staticProvider{}
	}
	return &Service{
		provider: provider,
		markets:  markets,
		logger:   logger.With(slog.String("component", "news")),
	}
}

// Fetch returns analyzed articles, breaking news first then newest first,
// optionally filtered by category and capped at limit.
func (s *Service) Fetch(ctx context.Context, category string, limit int) ([]domain.NewsArticle, error) {
	if limit <= 0 {
		limit = 20
	}

	raw, err := s.provider.Articles(ctx)
	if err != nil {
		return nil, fmt.Errorf("news: fetch articles: %w", err)
	}

	now := time.Now().UTC()
	articles := make([]domain.NewsArticle, 0, len(raw))
	for _, r := range raw {
		articles = append(articles, s.analyze(r, now))
	}

	if category != "" {
		filtered := articles[:0]
		for _, a := range articles {
			if a.Category == category {
				filtered = append(filtered, a)
			}
		}
		articles = filtered
	}

	sort.SliceStable(articles, func(i, j int) bool {
		if articles[i].Breaking != articles[j].Breaking {
			return articles[i].Breaking
		}
		return articles[i].PublishedAt.After(articles[j].PublishedAt)
	})

	if len(articles) > limit {
		articles = articles[:limit]
	}

	s.logger.Debug("analyzed articles",
		slog.String("category", category),
		slog.Int("count", len(articles)),
	)
	return articles, nil
}

// analyze runs the full enrichment pipeline over one raw article.
func (s *Service) analyze(r RawArticle, now time.Time) domain.NewsArticle {
	text := r.Title + " " + r.Description
	score, label := AnalyzeSentiment(text)
	_, primary := Categorize(r.Title, r.Description)

	recencyHours := now.Sub(r.PublishedAt).Hours()
	impact, confidence, direction := PredictImpact(score, Credibility(r.Source), recencyHours)

	article := domain.NewsArticle{
		ID:                 uuid.NewString(),
		Title:              r.Title,
		Description:        r.Description,
		Source:             r.Source,
		PublishedAt:        r.PublishedAt,
		URL:                r.URL,
		SentimentScore:     score,
		SentimentLabel:     label,
		ImpactScore:        impact,
		Confidence:         confidence,
		PredictedDirection: direction,
		Category:           primary,
		Breaking:           now.Sub(r.PublishedAt) < breakingWindow,
	}

	if s.markets != nil {
		article.Impacts = CorrelateMarkets(article, s.markets.Current("", domain.DefaultLimit))
	}
	return article
}

// staticProvider serves the built-in demo corpus with publication times
// anchored to the current clock.
type staticProvider struct{}

func (staticProvider) Articles(ctx context.Context) ([]RawArticle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	seed := []struct {
		title, description, source string
		hoursAgo                   float64
	}{
		{
			"Bitcoin Surges Past $95,000 as Institutional Demand Soars",
			"Major investment firms increase crypto allocations as Bitcoin approaches six-figure milestone. Analysts predict continued momentum.",
			"Bloomberg", 1,
		},
		{
			"Federal Reserve Signals Potential Rate Cut in Q2 2025",
			"Fed Chair hints at easing monetary policy as inflation shows signs of moderating. Markets react positively to dovish tone.",
			"Reuters", 3,
		},
		{
			"OpenAI Announces Major Breakthrough in AGI Research",
			"Company reveals new AI model with reasoning capabilities approaching human-level performance. Experts debate timeline to AGI.",
			"TechCrunch", 5,
		},
		{
			"2024 Election Polls Show Tight Race in Key Swing States",
			"Latest polling data reveals narrow margins in Pennsylvania, Michigan, and Arizona. Analysts call it too close to call.",
			"Associated Press", 2,
		},
		{
			"Global Temperatures Set New Record High in 2024",
			"Climate scientists confirm 1.5°C warming threshold may be breached earlier than expected. Urgent action calls intensify.",
			"BBC", 6,
		},
		{
			"Ethereum Upgrade Promises 10x Speed Improvement",
			"Upcoming network upgrade expected to dramatically increase transaction throughput. Developer community optimistic.",
			"CoinDesk", 4,
		},
		{
			"Major Tech Layoffs Announced Across Silicon Valley",
			"Leading technology companies announce workforce reductions citing economic uncertainty and AI automation.",
			"Wall Street Journal", 8,
		},
		{
			"Oil Prices Drop 15% on Demand Concerns",
			"Global oil markets see sharp decline as economic growth forecasts are revised downward. OPEC considers production cuts.",
			"Financial Times", 12,
		},
	}

	articles := make([]RawArticle, 0, len(seed))
	for i, s := range seed {
		articles = append(articles, RawArticle{
			Title:       s.title,
			Description: s.description,
			Source:      s.source,
			PublishedAt: now.Add(-time.Duration(s.hoursAgo * float64(time.Hour))),
			URL:         fmt.Sprintf("https://example.com/news/%d", i),
		})
	}
	return articles, nil
}
