// Package fetch provides provider-specific adapters for retrieving raw quotes
// from the external data sources. Every adapter is independent: a failure for
// one instrument never blocks others, and each call is bounded by the
// configured provider timeout.
package fetch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Quotes maps an instrument code (or asset id, depending on the adapter) to a
// raw positive quote. Codes absent from the map were not found by the
// provider for this cycle.
type Quotes = map[string]float64

// Provider defines the interface that all quote adapters implement.
type Provider interface {
	// Name identifies the provider in logs, metrics and the circuit breaker
	Name() string

	// Fetch retrieves best-effort quotes for the requested codes. It never
	// fails a whole batch because of one instrument; adapters return
	// whatever arrived before the context deadline.
	Fetch(ctx context.Context, codes []string) (Quotes, error)
}

// newRetryClient creates a new HTTP client with retry capabilities
func newRetryClient(timeout time.Duration) *http.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 1 * time.Second
	c.HTTPClient.Timeout = timeout
	c.Logger = nil
	return c.StandardClient()
}

// chunk splits codes into batches of at most size entries. Script feed URLs
// have a length cap, so oversized code lists are requested in parallel
// per-chunk.
func chunk(codes []string, size int) [][]string {
	if size <= 0 || len(codes) <= size {
		return [][]string{codes}
	}
	var out [][]string
	for len(codes) > size {
		out = append(out, codes[:size])
		codes = codes[size:]
	}
	if len(codes) > 0 {
		out = append(out, codes)
	}
	return out
}

// fetchChunked runs fn over every chunk concurrently and merges the partial
// results. Individual chunk errors degrade to missing entries; the first
// error is returned only when nothing at all was resolved.
func fetchChunked(ctx context.Context, codes []string, size int, fn func(ctx context.Context, chunk []string) (Quotes, error)) (Quotes, error) {
	chunks := chunk(codes, size)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		merged = Quotes{}
		first  error
	)

	for _, c := range chunks {
		wg.Add(1)
		go func(c []string) {
			defer wg.Done()

			part, err := fn(ctx, c)
			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if first == nil {
					first = err
				}
				return
			}
			for k, v := range part {
				merged[k] = v
			}
		}(c)
	}
	wg.Wait()

	if len(merged) == 0 && first != nil {
		return nil, first
	}
	return merged, nil
}
