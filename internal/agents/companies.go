package agents

import (
	"regexp"
	"strings"

	"github.com/sahilm/fuzzy"
)

// KnownCompany is an entry of the built-in company catalog.
type KnownCompany struct {
	Name    string
	Ticker  string
	Aliases []string
}

// Catalog is the built-in list of covered EV and battery companies.
var Catalog = []KnownCompany{
	{Name: "Tesla", Ticker: "TSLA", Aliases: []string{"테슬라"}},
	{Name: "BYD", Ticker: "1211.HK", Aliases: []string{"비야디"}},
	{Name: "LG Energy Solution", Ticker: "373220", Aliases: []string{"lg에너지솔루션", "lges", "lg energy"}},
	{Name: "Samsung SDI", Ticker: "006400", Aliases: []string{"삼성sdi", "삼성 sdi"}},
	{Name: "SK hynix", Ticker: "000660", Aliases: []string{"sk하이닉스"}},
	{Name: "Hyundai", Ticker: "005380", Aliases: []string{"현대차", "현대자동차", "hyundai motor"}},
	{Name: "Kia", Ticker: "000270", Aliases: []string{"기아"}},
	{Name: "POSCO Future M", Ticker: "003670", Aliases: []string{"포스코퓨처엠"}},
	{Name: "CATL", Aliases: []string{"contemporary amperex"}},
	{Name: "Apple", Ticker: "AAPL", Aliases: []string{"애플"}},
	{Name: "Microsoft", Ticker: "MSFT", Aliases: []string{"마이크로소프트"}},
}

// DefaultCompanies are analyzed when a request names none.
var DefaultCompanies = []string{"Tesla", "BYD", "Samsung SDI", "LG Energy Solution", "CATL"}

// maxSubjects caps companies and tickers per run.
const maxSubjects = 5

var (
	cashtagRe = regexp.MustCompile(`\$([A-Za-z]{1,5})\b`)
	krxRe     = regexp.MustCompile(`\b(\d{6})\b`)
	hkRe      = regexp.MustCompile(`\b(\d{4}\.[Hh][Kk])\b`)
	wordRe    = regexp.MustCompile(`\b([A-Z]{2,5})\b`)
)

// CompanyByName finds a catalog entry by name or alias, case-insensitively.
// It falls back to fuzzy matching on catalog names.
func CompanyByName(name string) (KnownCompany, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return KnownCompany{}, false
	}
	for _, c := range Catalog {
		if strings.ToLower(c.Name) == n {
			return c, true
		}
		for _, a := range c.Aliases {
			if a == n {
				return c, true
			}
		}
	}
	names := make([]string, len(Catalog))
	for i, c := range Catalog {
		names[i] = c.Name
	}
	matches := fuzzy.Find(n, names)
	// Require a tight match so "Hyundai Mobis" does not turn into Hyundai.
	if len(matches) > 0 && len(n) >= len(matches[0].Str)-2 && len(n) <= len(matches[0].Str)+2 {
		return Catalog[matches[0].Index], true
	}
	return KnownCompany{}, false
}

// CompanyByTicker finds a catalog entry by ticker.
func CompanyByTicker(ticker string) (KnownCompany, bool) {
	for _, c := range Catalog {
		if c.Ticker != "" && strings.EqualFold(c.Ticker, ticker) {
			return c, true
		}
	}
	return KnownCompany{}, false
}

// MentionedCompanies returns catalog companies named in text, in catalog order.
func MentionedCompanies(text string) []KnownCompany {
	lower := strings.ToLower(text)
	var out []KnownCompany
	for _, c := range Catalog {
		if containsWord(lower, strings.ToLower(c.Name)) {
			out = append(out, c)
			continue
		}
		for _, a := range c.Aliases {
			if containsWord(lower, a) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// ExplicitTickers extracts tickers written out in a request: cashtags,
// KRX codes, Hong Kong codes and catalog symbols in upper case.
func ExplicitTickers(request string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, m := range cashtagRe.FindAllStringSubmatch(request, -1) {
		add(strings.ToUpper(m[1]))
	}
	for _, m := range krxRe.FindAllStringSubmatch(request, -1) {
		add(m[1])
	}
	for _, m := range hkRe.FindAllStringSubmatch(request, -1) {
		add(strings.ToUpper(m[1]))
	}
	for _, m := range wordRe.FindAllStringSubmatch(request, -1) {
		if _, ok := CompanyByTicker(m[1]); ok {
			add(m[1])
		}
	}
	return out
}

// containsWord reports whether needle occurs in haystack outside of a
// longer latin word. Hangul needles match as substrings since particles
// attach directly to names.
func containsWord(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for start := 0; ; {
		i := strings.Index(haystack[start:], needle)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(needle)
		if !isLatinWordByte(haystack, i-1) && !isLatinWordByte(haystack, end) {
			return true
		}
		start = i + 1
	}
}

func isLatinWordByte(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}
