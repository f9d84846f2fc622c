package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marketpulse/engine/internal/domain"
)

// DefaultTimeout bounds one aggregation round trip across all sources.
const DefaultTimeout = 10 * time.Second

// Source fetches normalized markets from one upstream platform. Clients
// return canonical records; nothing downstream special-cases a platform.
type Source interface {
	Platform() domain.Platform
	Markets(ctx context.Context, category string, limit int) ([]domain.Market, error)
}

// Aggregator fans a fetch out to every source concurrently and merges the
// results into one collection. It is stateless and safe for concurrent use.
type Aggregator struct {
	sources []Source
	timeout time.Duration
	logger  *slog.Logger
}

// NewAggregator creates an Aggregator over the given sources. A non-positive
// timeout falls back to DefaultTimeout.
func NewAggregator(sources []Source, timeout time.Duration, logger *slog.Logger) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Aggregator{
		sources: sources,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "fetch")),
	}
}

// FetchCollection queries every source for the filtered slice of the market
// universe. A failed source is logged and excluded; only when every source
// fails does FetchCollection return an error. Results are merged, sorted by
// volume descending, and capped at the filter's limit.
func (a *Aggregator) FetchCollection(ctx context.Context, filter domain.Filter) (domain.Collection, error) {
	if len(a.sources) == 0 {
		return domain.Collection{}, errors.New("fetch: no sources configured")
	}
	filter = filter.Normalize()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	results := make([][]domain.Market, len(a.sources))
	failures := make([]error, len(a.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range a.sources {
		g.Go(func() error {
			markets, err := src.Markets(gctx, filter.Category, filter.Limit)
			if err != nil {
				failures[i] = domain.NewFetchError(classify(err), src.Platform(), err)
				return nil // a single source must not cancel its siblings
			}
			results[i] = markets
			return nil
		})
	}
	_ = g.Wait()

	var (
		merged []domain.Market
		errs   []error
	)
	for i := range a.sources {
		if failures[i] != nil {
			a.logger.Warn("source fetch failed",
				slog.String("platform", string(a.sources[i].Platform())),
				slog.String("error", failures[i].Error()),
			)
			errs = append(errs, failures[i])
			continue
		}
		for _, m := range results[i] {
			if filter.Matches(m) {
				merged = append(merged, m)
			}
		}
	}

	if len(errs) == len(a.sources) {
		return domain.Collection{}, errors.Join(errs...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Volume > merged[j].Volume
	})
	if len(merged) > filter.Limit {
		merged = merged[:filter.Limit]
	}

	states := make([]domain.MarketState, len(merged))
	for i, m := range merged {
		states[i] = domain.MarketState{Market: m}
	}

	a.logger.Debug("aggregated markets",
		slog.String("category", filter.Category),
		slog.Int("count", len(states)),
		slog.Int("failed_sources", len(errs)),
	)

	return domain.Collection{
		Markets:   states,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// classify maps transport errors onto the fetch failure taxonomy.
func classify(err error) domain.FailureKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.FailureTimeout
	case isDecodeError(err):
		return domain.FailureMalformed
	default:
		return domain.FailureNetwork
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
