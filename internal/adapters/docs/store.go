// Package docs indexes local company documents for retrieval.
package docs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/sahilm/fuzzy"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/fsutil"
)

var extensions = map[string]bool{".md": true, ".txt": true, ".markdown": true}

// Options configures chunking.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
}

// DefaultOptions matches the retrieval window used for company analysis.
func DefaultOptions() Options {
	return Options{ChunkSize: 1000, ChunkOverlap: 200}
}

type chunk struct {
	source string
	text   string
	lower  string
}

type company struct {
	name   string
	chunks []chunk
}

// Store is an in-memory index over a documents directory. Each company is
// either a subdirectory (documents/Tesla/*.md) or a single file
// (documents/byd.md).
type Store struct {
	dir  string
	opts Options

	mu        sync.RWMutex
	companies map[string]*company
	names     []string
}

// NewStore creates a store and loads dir. A missing directory yields an
// empty store.
func NewStore(dir string, opts Options) (*Store, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultOptions().ChunkSize
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 0
	}
	s := &Store{dir: dir, opts: opts, companies: map[string]*company{}}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the indexed directory.
func (s *Store) Dir() string { return s.dir }

// Reload rebuilds the index from disk.
func (s *Store) Reload() error {
	companies := map[string]*company{}

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		s.swap(companies)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading documents directory: %w", err)
	}

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if e.IsDir() {
			name := displayName(e.Name())
			err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() || !extensions[strings.ToLower(filepath.Ext(p))] {
					return nil
				}
				return s.addFile(companies, name, p)
			})
			if err != nil {
				return fmt.Errorf("indexing %s: %w", e.Name(), err)
			}
			continue
		}
		if extensions[strings.ToLower(filepath.Ext(e.Name()))] {
			name := displayName(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
			if err := s.addFile(companies, name, path); err != nil {
				return fmt.Errorf("indexing %s: %w", e.Name(), err)
			}
		}
	}

	s.swap(companies)
	return nil
}

func (s *Store) addFile(companies map[string]*company, name, path string) error {
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		return err
	}
	key := strings.ToLower(name)
	c, ok := companies[key]
	if !ok {
		c = &company{name: name}
		companies[key] = c
	}
	rel, _ := filepath.Rel(s.dir, path)
	for _, text := range Chunk(string(data), s.opts.ChunkSize, s.opts.ChunkOverlap) {
		c.chunks = append(c.chunks, chunk{source: filepath.ToSlash(rel), text: text, lower: strings.ToLower(text)})
	}
	return nil
}

func (s *Store) swap(companies map[string]*company) {
	names := make([]string, 0, len(companies))
	for _, c := range companies {
		names = append(names, c.name)
	}
	sort.Strings(names)

	s.mu.Lock()
	s.companies = companies
	s.names = names
	s.mu.Unlock()
}

// Companies lists indexed companies in name order.
func (s *Store) Companies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.names...)
}

// ChunkCount returns the number of indexed chunks.
func (s *Store) ChunkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.companies {
		n += len(c.chunks)
	}
	return n
}

// Resolve maps a free-form company name to an indexed one.
func (s *Store) Resolve(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(name)
}

func (s *Store) resolveLocked(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if c, ok := s.companies[strings.ToLower(name)]; ok {
		return c.name, true
	}
	matches := fuzzy.Find(name, s.names)
	if len(matches) == 0 {
		return "", false
	}
	return matches[0].Str, true
}

// Query returns up to topK passages of company ranked by query term hits.
// Passages without any hit are not returned.
func (s *Store) Query(companyName, query string, topK int) []core.Passage {
	if topK <= 0 {
		topK = 3
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	name, ok := s.resolveLocked(companyName)
	if !ok {
		return nil
	}
	c := s.companies[strings.ToLower(name)]
	terms := Terms(query)
	if len(terms) == 0 {
		return nil
	}

	type scored struct {
		idx   int
		score float64
	}
	var ranked []scored
	for i, ch := range c.chunks {
		score := 0.0
		for _, term := range terms {
			score += float64(strings.Count(ch.lower, term))
		}
		if score > 0 {
			ranked = append(ranked, scored{idx: i, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	out := make([]core.Passage, 0, len(ranked))
	for _, r := range ranked {
		ch := c.chunks[r.idx]
		out = append(out, core.Passage{Source: ch.source, Text: ch.text, Score: r.score})
	}
	return out
}

// Chunk splits text into windows of size runes overlapping by overlap.
func Chunk(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if size <= 0 {
		return []string{string(runes)}
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// stopwords are dropped from queries.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "what": true,
	"are": true, "its": true, "how": true, "does": true, "about": true,
	"of": true, "in": true, "on": true, "to": true, "is": true,
}

// Terms lowercases query and splits it into searchable words.
func Terms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := map[string]bool{}
	var terms []string
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

func displayName(s string) string {
	return strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(s))
}
