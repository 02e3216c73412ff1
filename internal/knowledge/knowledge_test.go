package knowledge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "opsbook/pkg/logx"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistryFromArticles([]Article{
		{
			Name:        "database failover checklist",
			Description: "promote a replica after primary loss",
			Tags:        []string{"playbook", "db"},
			Content:     "1. Confirm primary is down. 2. Promote the newest replica.",
		},
		{
			Name:        "standup prompt",
			Description: "daily standup questions",
			Tags:        []string{"playbook", "standup"},
			Content:     "What did you do yesterday? What will you do today? Any blockers?",
		},
		{
			Name:        "billing escalation",
			Description: "who to page for invoice issues",
			Tags:        []string{"finance"},
			Content:     "Page the billing on-call.",
		},
	}, logx.Nop())
}

func TestRegistrySearch(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)
	ctx := context.Background()

	got, err := r.Search(ctx, "standup questions", []string{"playbook"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got == "" || got[:4] != "What" {
		t.Fatalf("wrong article: %q", got)
	}

	// Tag filter narrows candidates.
	got, err = r.Search(ctx, "escalation", []string{"finance"})
	if err != nil || got != "Page the billing on-call." {
		t.Fatalf("tag-filtered search: %v %q", err, got)
	}

	// Unknown tag widens to all articles instead of failing.
	got, err = r.Search(ctx, "failover", []string{"no-such-tag"})
	if err != nil || got == "" {
		t.Fatalf("unknown tag should widen: %v %q", err, got)
	}

	// No overlap at all: empty, nil error.
	got, err = r.Search(ctx, "zzzz qqqq", []string{"playbook"})
	if err != nil || got != "" {
		t.Fatalf("miss should be empty: %v %q", err, got)
	}
}

func TestRegistryLoadsYAMLDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	article := `name: incident comms
description: external status page updates
tags: [playbook, comms]
content: Post an update to the status page every 30 minutes.
`
	if err := os.WriteFile(filepath.Join(dir, "comms.yaml"), []byte(article), 0o600); err != nil {
		t.Fatal(err)
	}
	// Non-YAML files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# notes"), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := NewRegistry(dir, logx.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if r.Count() != 1 {
		t.Fatalf("count = %d, want 1", r.Count())
	}
	got, err := r.Search(context.Background(), "status page", []string{"comms"})
	if err != nil || got == "" {
		t.Fatalf("search loaded article: %v %q", err, got)
	}
}

func TestResolvePrompt(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)
	ctx := context.Background()

	// Plain prompts pass through.
	if got := ResolvePrompt(ctx, r, "How is the rollout going?"); got != "How is the rollout going?" {
		t.Fatalf("plain prompt changed: %q", got)
	}

	// Marked prompts resolve to article content.
	got := ResolvePrompt(ctx, r, "kb: standup questions")
	if got[:4] != "What" {
		t.Fatalf("marker not resolved: %q", got)
	}

	// Miss falls back to the configured prompt, unchanged.
	if got := ResolvePrompt(ctx, r, "kb: zzzz qqqq"); got != "kb: zzzz qqqq" {
		t.Fatalf("miss fallback: %q", got)
	}

	// Lookup errors fall back too.
	if got := ResolvePrompt(ctx, failingLookup{}, "kb: anything"); got != "kb: anything" {
		t.Fatalf("error fallback: %q", got)
	}

	// Nil lookup degrades the same way.
	if got := ResolvePrompt(ctx, nil, "kb: bare"); got != "kb: bare" {
		t.Fatalf("nil lookup: %q", got)
	}
}

type failingLookup struct{}

func (failingLookup) Search(context.Context, string, []string) (string, error) {
	return "", errors.New("backend down")
}

func TestHTTPLookup(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Query().Get("q") {
		case "standup":
			if req.URL.Query().Get("tags") != "playbook" {
				t.Errorf("tags param = %q", req.URL.Query().Get("tags"))
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"content":"Daily standup prompt."}`))
		case "missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	l, err := NewHTTP(srv.URL, time.Second, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	got, err := l.Search(ctx, "standup", []string{"playbook"})
	if err != nil || got != "Daily standup prompt." {
		t.Fatalf("search: %v %q", err, got)
	}

	got, err = l.Search(ctx, "missing", nil)
	if err != nil || got != "" {
		t.Fatalf("404 should be empty/no error: %v %q", err, got)
	}

	if _, err := l.Search(ctx, "boom", nil); err == nil {
		t.Fatal("500 should error")
	}
}

func TestNewHTTPValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewHTTP("", time.Second, logx.Nop()); err == nil {
		t.Fatal("empty base url should error")
	}
}
