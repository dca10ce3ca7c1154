package ratelimit

import (
	"context"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

// Searcher limits a search provider. A nil limiter returns inner unchanged.
func Searcher(inner core.Searcher, l *Limiter) core.Searcher {
	if inner == nil || l == nil {
		return inner
	}
	return &searcher{inner: inner, limiter: l}
}

type searcher struct {
	inner   core.Searcher
	limiter *Limiter
}

func (s *searcher) Search(ctx context.Context, query string, maxResults int) ([]core.SearchHit, error) {
	var hits []core.SearchHit
	err := s.limiter.call(ctx, func() error {
		var err error
		hits, err = s.inner.Search(ctx, query, maxResults)
		return err
	})
	return hits, err
}

// PageFetcher limits page downloads.
func PageFetcher(inner core.PageFetcher, l *Limiter) core.PageFetcher {
	if inner == nil || l == nil {
		return inner
	}
	return &pageFetcher{inner: inner, limiter: l}
}

type pageFetcher struct {
	inner   core.PageFetcher
	limiter *Limiter
}

func (f *pageFetcher) FetchPage(ctx context.Context, url string) (core.Page, error) {
	var page core.Page
	err := f.limiter.call(ctx, func() error {
		var err error
		page, err = f.inner.FetchPage(ctx, url)
		return err
	})
	return page, err
}

// PriceSource limits a price provider. Wrap the provider, not its cache, so
// cache hits do not spend tokens.
func PriceSource(inner core.PriceSource, l *Limiter) core.PriceSource {
	if inner == nil || l == nil {
		return inner
	}
	return &priceSource{inner: inner, limiter: l}
}

type priceSource struct {
	inner   core.PriceSource
	limiter *Limiter
}

func (p *priceSource) History(ctx context.Context, ticker string, from, to time.Time) ([]core.PriceBar, error) {
	var bars []core.PriceBar
	err := p.limiter.call(ctx, func() error {
		var err error
		bars, err = p.inner.History(ctx, ticker, from, to)
		return err
	})
	return bars, err
}
