// Package websearch provides the web_search tool and the search providers
// behind it (Tavily, Brave, DuckDuckGo). Results always carry the result URL
// so the fact extractor can trace claims back to an observed source.
package websearch

import (
	"context"
	"net/http"
	"time"
)

// DefaultMaxResults is used when a caller does not ask for a result count.
const DefaultMaxResults = 5

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Response is the observation payload of one web_search call.
type Response struct {
	Query    string   `json:"query"`
	Provider string   `json:"provider"`
	Results  []Result `json:"results"`
}

// Provider executes a query and returns at most maxResults results.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

func defaultClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func limitResults(results []Result, maxResults int) []Result {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if len(results) > maxResults {
		return results[:maxResults]
	}
	return results
}

// backoff waits for delay or until ctx is done and returns the next delay,
// doubling up to 30s.
func backoff(ctx context.Context, delay time.Duration) (time.Duration, error) {
	select {
	case <-ctx.Done():
		return delay, ctx.Err()
	case <-time.After(delay):
	}
	if delay < 30*time.Second {
		delay *= 2
	}
	return delay, nil
}
