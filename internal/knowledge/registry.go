package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	yaml "go.yaml.in/yaml/v3"

	logx "opsbook/pkg/logx"
)

// Article is one knowledge entry loaded from a YAML file.
type Article struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
	Content     string   `yaml:"content"`
}

// Registry is an in-memory, tag-indexed article set backing Lookup.
// Matching is keyword overlap against name, description and tags; the best
// scoring article's content wins. Good enough for prompt materialization,
// not a search engine.
type Registry struct {
	log logx.Logger

	mu       sync.RWMutex
	articles []Article
	byTag    map[string][]int // tag -> article indices
}

// NewRegistry loads every *.yaml / *.yml article under dir.
func NewRegistry(dir string, log logx.Logger) (*Registry, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{log: log, byTag: map[string][]int{}}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("knowledge dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var a Article
		if err := yaml.Unmarshal(b, &a); err != nil {
			return nil, fmt.Errorf("article %s: %w", name, err)
		}
		if a.Name == "" {
			return nil, fmt.Errorf("article %s: missing name", name)
		}
		r.add(a)
	}

	log.Info("knowledge registry loaded",
		logx.Int("articles", len(r.articles)),
		logx.Int("tags", len(r.byTag)))
	return r, nil
}

// NewRegistryFromArticles builds a registry directly, mainly for tests and
// embedded defaults.
func NewRegistryFromArticles(articles []Article, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{log: log, byTag: map[string][]int{}}
	for _, a := range articles {
		r.add(a)
	}
	return r
}

func (r *Registry) add(a Article) {
	idx := len(r.articles)
	r.articles = append(r.articles, a)
	for _, t := range a.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			r.byTag[t] = append(r.byTag[t], idx)
		}
	}
}

// Count returns the number of loaded articles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.articles)
}

// Tags returns the sorted set of tags across all articles.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byTag))
	for t := range r.byTag {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Search implements Lookup. Tags narrow the candidate set; a tag no article
// carries simply widens back to everything rather than failing the lookup.
func (r *Registry) Search(ctx context.Context, query string, tags []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := r.candidateSet(tags)
	terms := tokenize(query)
	if len(terms) == 0 || len(candidates) == 0 {
		return "", nil
	}

	best, bestScore := -1, 0
	for _, i := range candidates {
		s := score(&r.articles[i], terms)
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		r.log.Debug("knowledge lookup missed", logx.String("query", query))
		return "", nil
	}
	r.log.Debug("knowledge lookup hit",
		logx.String("query", query),
		logx.String("article", r.articles[best].Name),
		logx.Int("score", bestScore))
	return r.articles[best].Content, nil
}

func (r *Registry) candidateSet(tags []string) []int {
	seen := map[int]struct{}{}
	var out []int
	for _, t := range tags {
		for _, i := range r.byTag[strings.ToLower(strings.TrimSpace(t))] {
			if _, dup := seen[i]; !dup {
				seen[i] = struct{}{}
				out = append(out, i)
			}
		}
	}
	if len(out) > 0 {
		return out
	}
	out = make([]int, len(r.articles))
	for i := range r.articles {
		out[i] = i
	}
	return out
}

// score counts query-term hits: name matches weigh 3, tag matches 2,
// description matches 1.
func score(a *Article, terms []string) int {
	name := strings.ToLower(a.Name)
	desc := strings.ToLower(a.Description)
	total := 0
	for _, term := range terms {
		if strings.Contains(name, term) {
			total += 3
		}
		for _, t := range a.Tags {
			if strings.Contains(strings.ToLower(t), term) {
				total += 2
				break
			}
		}
		if strings.Contains(desc, term) {
			total++
		}
	}
	return total
}

func tokenize(q string) []string {
	fields := strings.Fields(strings.ToLower(q))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}
