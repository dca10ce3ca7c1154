package supervisor

import (
	"strings"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

// DefaultIntentKeywords returns the built-in keyword lists per intent.
func DefaultIntentKeywords() map[core.Intent][]string {
	return map[core.Intent][]string{
		core.IntentStock:      {"stock", "share price", "ticker", "주가", "주식", "종목"},
		core.IntentMarket:     {"market", "trend", "industry", "시장", "동향", "트렌드", "산업"},
		core.IntentCompany:    {"company", "companies", "firm", "competitor", "기업", "회사", "경쟁사"},
		core.IntentComparison: {"compare", "comparison", "versus", " vs ", "비교"},
	}
}

// IntentClassifier derives intents from a request by keyword matching.
type IntentClassifier struct {
	keywords map[core.Intent][]string
	fallback []core.Intent
}

// NewIntentClassifier creates a classifier. Nil keywords use the defaults.
// fallback is used when nothing matches.
func NewIntentClassifier(keywords map[core.Intent][]string, fallback []core.Intent) *IntentClassifier {
	if keywords == nil {
		keywords = DefaultIntentKeywords()
	}
	normalized := make(map[core.Intent][]string, len(keywords))
	for intent, words := range keywords {
		for _, w := range words {
			if w = strings.ToLower(w); strings.TrimSpace(w) != "" {
				normalized[intent] = append(normalized[intent], w)
			}
		}
	}
	if len(fallback) == 0 {
		fallback = []core.Intent{core.IntentMarket, core.IntentCompany}
	}
	return &IntentClassifier{keywords: normalized, fallback: fallback}
}

// Classify returns the intents mentioned by a request.
func (c *IntentClassifier) Classify(request string) core.IntentSet {
	text := " " + strings.ToLower(request) + " "
	intents := core.IntentSet{}
	for intent, words := range c.keywords {
		for _, w := range words {
			if containsKeyword(text, w) {
				intents[intent] = true
				break
			}
		}
	}
	if len(intents) == 0 {
		return core.NewIntentSet(c.fallback...)
	}
	return intents
}

// containsKeyword matches w in text outside of longer latin words, so "firm"
// does not match "confirm". A trailing plural "s" is accepted. Edges that
// are not latin letters or digits (spaces in " vs ", Hangul) match as
// substrings since Korean particles attach directly to words.
func containsKeyword(text, w string) bool {
	if w == "" {
		return false
	}
	checkStart := isWordByte(w, 0)
	checkEnd := isWordByte(w, len(w)-1)
	for start := 0; start < len(text); {
		i := strings.Index(text[start:], w)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(w)
		if checkEnd && end < len(text) && text[end] == 's' && !isWordByte(text, end+1) {
			end++
		}
		if (!checkStart || !isWordByte(text, i-1)) && (!checkEnd || !isWordByte(text, end)) {
			return true
		}
		start = i + 1
	}
	return false
}

func isWordByte(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}
