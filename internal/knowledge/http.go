package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "opsbook/pkg/logx"
)

const defaultHTTPTimeout = 5 * time.Second

// HTTPLookup queries an external knowledge service.
//
// Protocol: GET {base}/search?q=<query>&tags=<a,b> returning
// {"content": "..."}; 404 and an empty content field both mean "no match".
// The timeout lives here so callers never block past it.
type HTTPLookup struct {
	base   string
	client *http.Client
	log    logx.Logger
}

type httpSearchResponse struct {
	Content string `json:"content"`
}

// NewHTTP builds a lookup against baseURL. A zero timeout gets the default.
func NewHTTP(baseURL string, timeout time.Duration, log logx.Logger) (*HTTPLookup, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("knowledge base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("knowledge base url: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPLookup{
		base:   base,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}, nil
}

// Search implements Lookup.
func (h *HTTPLookup) Search(ctx context.Context, query string, tags []string) (string, error) {
	q := url.Values{}
	q.Set("q", query)
	if len(tags) > 0 {
		q.Set("tags", strings.Join(tags, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base+"/search?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.log.Debug("knowledge http lookup failed", logx.String("query", query), logx.Err(err))
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", nil
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return "", fmt.Errorf("knowledge service: unexpected status %d", resp.StatusCode)
	}

	var out httpSearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("knowledge service: decode: %w", err)
	}
	return out.Content, nil
}
