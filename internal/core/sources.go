package core

import (
	"context"
	"time"
)

// SearchHit is one web search result.
type SearchHit struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
}

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchHit, error)
}

// Page is a fetched web page converted to markdown.
type Page struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
}

// PageFetcher downloads a page and extracts its main content.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (Page, error)
}

// PriceBar is one daily OHLCV row.
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceSource returns daily bars for a ticker, oldest first.
type PriceSource interface {
	History(ctx context.Context, ticker string, from, to time.Time) ([]PriceBar, error)
}

// Summarizer condenses content following an instruction.
type Summarizer interface {
	Summarize(ctx context.Context, instruction, content string) (string, error)
}

// Passage is a scored excerpt of a local document.
type Passage struct {
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

// DocumentIndex answers questions about a company from local documents.
type DocumentIndex interface {
	// Companies lists the companies that have documents.
	Companies() []string
	// Query returns at most topK passages about company relevant to query.
	Query(company, query string, topK int) []Passage
}
