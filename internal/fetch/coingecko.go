package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/barton333/Investment-Assistant/internal/normalize"
)

// geckoQuoteCurrency is the fixed quote currency for the batch lookup.
const geckoQuoteCurrency = "usd"

// CoinGeckoClient fetches crypto prices from the CoinGecko simple-price
// endpoint. Quotes are keyed by coin id and returned in USD. The free tier
// allows roughly 30 calls per minute, enforced with a limiter.
type CoinGeckoClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
}

// NewCoinGeckoClient creates a new CoinGecko client
func NewCoinGeckoClient(baseURL string, timeout time.Duration) *CoinGeckoClient {
	return &CoinGeckoClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: newRetryClient(timeout),
		timeout:    timeout,
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 2),
	}
}

// Name implements Provider.
func (c *CoinGeckoClient) Name() string { return "coingecko" }

// Fetch retrieves USD prices for the requested coin ids in one batch call.
func (c *CoinGeckoClient) Fetch(ctx context.Context, ids []string) (Quotes, error) {
	if len(ids) == 0 {
		return Quotes{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait aborted: %w", err)
	}

	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s",
		c.baseURL, strings.Join(ids, ","), geckoQuoteCurrency)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching crypto prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("CoinGecko API error: status %d", resp.StatusCode)
	}

	var response map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("error decoding CoinGecko response: %w", err)
	}

	quotes := Quotes{}
	for _, id := range ids {
		if v, ok := normalize.Valid(response[id][geckoQuoteCurrency]); ok {
			quotes[id] = v
		}
	}

	logrus.WithFields(logrus.Fields{
		"requested": len(ids),
		"resolved":  len(quotes),
	}).Debug("CoinGecko batch fetched")
	return quotes, nil
}
