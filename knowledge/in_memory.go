package knowledge

import (
	"context"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/hupe1980/streamchat/core"
)

// Entry is one indexed concept.
type Entry struct {
	Name        string           `json:"name"`
	Category    string           `json:"category"`
	Description string           `json:"description"`
	Related     []string         `json:"related_concepts,omitempty"`
	References  []core.Reference `json:"references,omitempty"`
}

// Result is a scored query hit as returned by Query.
type Result struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Category   string   `json:"category"`
	References []string `json:"references"`
	Confidence float64  `json:"confidence"`
}

// Base is an in-memory concept index.
//
// Concurrency: protected by RWMutex.
type Base struct {
	mu      sync.RWMutex
	entries map[string]Entry // lower-cased name -> entry
}

// NewBase creates an empty Base.
func NewBase() *Base {
	return &Base{entries: make(map[string]Entry)}
}

// Add inserts or replaces an entry keyed by its case-insensitive name.
func (b *Base) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[strings.ToLower(e.Name)] = e
}

// Get returns the entry with the given name.
func (b *Base) Get(name string) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[strings.ToLower(name)]
	return e, ok
}

// Len returns the number of entries.
func (b *Base) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Query returns up to limit entries matching query, best first.
func (b *Base) Query(ctx context.Context, query string, limit int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hits := b.search(query, limit)
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		refs := make([]string, 0, len(h.entry.References))
		for _, r := range h.entry.References {
			refs = append(refs, r.Title)
		}
		results = append(results, Result{
			Title:      h.entry.Name,
			Content:    h.entry.Description,
			Category:   h.entry.Category,
			References: refs,
			Confidence: h.score,
		})
	}
	return results, nil
}

// Concepts implements core.RetrievalProvider.
func (b *Base) Concepts(ctx context.Context, query string, limit int) ([]core.Concept, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hits := b.search(query, limit)
	concepts := make([]core.Concept, 0, len(hits))
	for _, h := range hits {
		concepts = append(concepts, core.Concept{Name: h.entry.Name, Description: h.entry.Description})
	}
	return concepts, nil
}

// References implements core.RetrievalProvider. It returns the references of
// every entry named in text, deduplicated by title, in entry-name order.
func (b *Base) References(ctx context.Context, text string, limit int) ([]core.Reference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := strings.ToLower(text)

	b.mu.RLock()
	names := make([]string, 0, len(b.entries))
	for name := range b.entries {
		if strings.Contains(lower, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	matched := make([]Entry, 0, len(names))
	for _, name := range names {
		matched = append(matched, b.entries[name])
	}
	b.mu.RUnlock()

	seen := make(map[string]bool)
	refs := make([]core.Reference, 0)
	for _, e := range matched {
		for _, r := range e.References {
			if limit > 0 && len(refs) >= limit {
				return refs, nil
			}
			if seen[r.Title] {
				continue
			}
			seen[r.Title] = true
			refs = append(refs, r)
		}
	}
	return refs, nil
}

type hit struct {
	entry     Entry
	score     float64
	nameMatch bool
}

// search scores entries by the fraction of query terms found in their name,
// category or description. Entries whose name contains a term rank first;
// ties are broken by name.
func (b *Base) search(query string, limit int) []hit {
	terms := tokenize(query)
	if len(terms) == 0 || limit <= 0 {
		return nil
	}

	b.mu.RLock()
	hits := make([]hit, 0)
	for _, e := range b.entries {
		name := strings.ToLower(e.Name)
		haystack := strings.ToLower(e.Name + " " + e.Category + " " + e.Description + " " + strings.Join(e.Related, " "))
		found := 0
		nameMatch := false
		for _, t := range terms {
			if strings.Contains(haystack, t) {
				found++
			}
			if strings.Contains(name, t) {
				nameMatch = true
			}
		}
		if found > 0 {
			hits = append(hits, hit{entry: e, score: float64(found) / float64(len(terms)), nameMatch: nameMatch})
		}
	}
	b.mu.RUnlock()

	slices.SortFunc(hits, func(a, b hit) int {
		if a.nameMatch != b.nameMatch {
			if a.nameMatch {
				return -1
			}
			return 1
		}
		if a.score != b.score {
			if a.score > b.score {
				return -1
			}
			return 1
		}
		return strings.Compare(a.entry.Name, b.entry.Name)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// tokenize lower-cases s and splits it into terms of at least three letters.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 3 {
			terms = append(terms, f)
		}
	}
	return terms
}

var _ core.RetrievalProvider = (*Base)(nil)
