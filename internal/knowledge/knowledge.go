// Package knowledge resolves prompt queries to prose content.
//
// Scheduled update prompts may carry a lookup marker ("kb:"); the remainder is
// treated as a search query against a knowledge source. Lookups degrade, never
// fail hard: an error or empty result means "no content found" and the caller
// keeps its literal prompt.
package knowledge

import (
	"context"
	"strings"
)

// Marker prefixes prompts that should be resolved through a Lookup.
const Marker = "kb:"

// defaultTags is the fixed tag filter applied to marker-driven lookups.
var defaultTags = []string{"playbook"}

// Lookup resolves a query (optionally restricted to tags) to prose content.
// An empty string with a nil error means nothing matched. Implementations own
// their timeouts; callers only pass ctx for cancellation.
type Lookup interface {
	Search(ctx context.Context, query string, tags []string) (string, error)
}

// ResolvePrompt materializes a prompt string. Prompts without the marker pass
// through unchanged. Marked prompts are searched; on error or empty result the
// configured prompt is returned unchanged, marker and all, so the fallback is
// always exactly what the operator wrote.
func ResolvePrompt(ctx context.Context, l Lookup, prompt string) string {
	rest, ok := strings.CutPrefix(prompt, Marker)
	if !ok {
		return prompt
	}
	query := strings.TrimSpace(rest)
	if query == "" || l == nil {
		return prompt
	}
	content, err := l.Search(ctx, query, defaultTags)
	if err != nil || strings.TrimSpace(content) == "" {
		return prompt
	}
	return content
}

type nopLookup struct{}

func (nopLookup) Search(context.Context, string, []string) (string, error) { return "", nil }

// Nop returns a Lookup that never finds anything.
func Nop() Lookup { return nopLookup{} }
