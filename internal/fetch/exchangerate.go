package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/barton333/Investment-Assistant/internal/normalize"
)

// ExchangeRateClient fetches USD-based exchange rates from a REST endpoint.
// It is both a quote provider (for currency assets) and the source of the FX
// rate the reconciliation engine uses for international unit conversions.
type ExchangeRateClient struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
}

// NewExchangeRateClient creates a new exchange-rate REST client
func NewExchangeRateClient(url string, timeout time.Duration) *ExchangeRateClient {
	return &ExchangeRateClient{
		url:        url,
		httpClient: newRetryClient(timeout),
		timeout:    timeout,
	}
}

// Name implements Provider.
func (c *ExchangeRateClient) Name() string { return "exchangerate" }

// Fetch retrieves the requested currency pairs, keyed by quote currency
// (e.g. "CNY" for USD/CNY). Network failure, non-2xx status and malformed
// JSON all degrade identically to an empty result.
func (c *ExchangeRateClient) Fetch(ctx context.Context, codes []string) (Quotes, error) {
	if len(codes) == 0 {
		return Quotes{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching exchange rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange rate API error: status %d", resp.StatusCode)
	}

	var response struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("error decoding exchange rate response: %w", err)
	}

	quotes := Quotes{}
	for _, code := range codes {
		if v, ok := normalize.Valid(response.Rates[code]); ok {
			quotes[code] = v
		}
	}

	logrus.WithField("resolved", len(quotes)).Debug("Exchange rates fetched")
	return quotes, nil
}
