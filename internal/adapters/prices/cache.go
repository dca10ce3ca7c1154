package prices

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/fsutil"
)

var unsafeNameRe = regexp.MustCompile(`[^a-z0-9._-]`)

// CachedSource serves history from JSON files younger than ttl and falls
// through to the wrapped source otherwise.
type CachedSource struct {
	next core.PriceSource
	dir  string
	ttl  time.Duration
	now  func() time.Time
}

// NewCachedSource wraps next with a file cache under dir.
func NewCachedSource(next core.PriceSource, dir string, ttl time.Duration) *CachedSource {
	return &CachedSource{next: next, dir: dir, ttl: ttl, now: time.Now}
}

type cacheEntry struct {
	Ticker    string          `json:"ticker"`
	FetchedAt time.Time       `json:"fetched_at"`
	Bars      []core.PriceBar `json:"bars"`
}

// History implements core.PriceSource.
func (c *CachedSource) History(ctx context.Context, ticker string, from, to time.Time) ([]core.PriceBar, error) {
	path := c.path(ticker, from, to)
	if c.ttl > 0 {
		if bars, ok := c.read(path); ok {
			return bars, nil
		}
	}

	bars, err := c.next.History(ctx, ticker, from, to)
	if err != nil {
		return nil, err
	}

	if c.ttl > 0 {
		if data, err := json.Marshal(cacheEntry{Ticker: ticker, FetchedAt: c.now(), Bars: bars}); err == nil {
			// A failed cache write only costs a refetch.
			_ = fsutil.WriteFileAtomicMkdir(path, data, 0o644)
		}
	}
	return bars, nil
}

func (c *CachedSource) read(path string) ([]core.PriceBar, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var e cacheEntry
	if err := json.Unmarshal(data, &e); err != nil || len(e.Bars) == 0 {
		return nil, false
	}
	if c.now().Sub(e.FetchedAt) > c.ttl {
		return nil, false
	}
	return e.Bars, true
}

func (c *CachedSource) path(ticker string, from, to time.Time) string {
	name := unsafeNameRe.ReplaceAllString(strings.ToLower(ticker), "_")
	return filepath.Join(c.dir, name+"_"+from.Format("20060102")+"_"+to.Format("20060102")+".json")
}
