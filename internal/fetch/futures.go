package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/barton333/Investment-Assistant/internal/normalize"
)

// FuturesClient fetches commodity futures quotes from the Sina futures feed.
// It speaks the same script-variable transport as the equity feed but its
// field layout differs: domestic contracts (nf_ prefix) and international
// contracts (hf_ prefix) each carry the last price at a different position.
type FuturesClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewFuturesClient creates a new futures feed client
func NewFuturesClient(baseURL string, timeout time.Duration) *FuturesClient {
	return &FuturesClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: newRetryClient(timeout),
		timeout:    timeout,
	}
}

// Name implements Provider.
func (c *FuturesClient) Name() string { return "sina-futures" }

// Fetch retrieves best-effort quotes for the requested futures codes.
func (c *FuturesClient) Fetch(ctx context.Context, codes []string) (Quotes, error) {
	if len(codes) == 0 {
		return Quotes{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return fetchChunked(ctx, codes, sinaBatchSize, c.fetchBatch)
}

func (c *FuturesClient) fetchBatch(ctx context.Context, codes []string) (Quotes, error) {
	url := c.baseURL + "/list=" + strings.Join(codes, ",")
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Referer", "https://finance.sina.com.cn")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching futures quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("futures feed error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder()))
	if err != nil {
		return nil, fmt.Errorf("error decoding futures response: %w", err)
	}

	quotes := ParseFuturesBody(string(body))
	logrus.WithFields(logrus.Fields{
		"requested": len(codes),
		"resolved":  len(quotes),
	}).Debug("Futures batch fetched")
	return quotes, nil
}

// ParseFuturesBody harvests the variable bindings of a futures feed response.
//
// Field positions:
//
//	domestic contracts      (nf_)  index 8, early-session fallback 3
//	international contracts (hf_)  index 0
func ParseFuturesBody(body string) Quotes {
	quotes := Quotes{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "var hq_str_") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}
		code := strings.TrimPrefix(line[:eq], "var hq_str_")
		payload := strings.Trim(strings.TrimSuffix(line[eq+1:], ";"), `"`)
		if payload == "" {
			continue
		}
		fields := strings.Split(payload, ",")

		if v, ok := futuresLastPrice(code, fields); ok {
			quotes[code] = v
		}
	}
	return quotes
}

func futuresLastPrice(code string, fields []string) (float64, bool) {
	at := func(i int) (float64, bool) {
		if i >= len(fields) {
			return 0, false
		}
		return normalize.ParseNumeric(fields[i])
	}

	switch {
	case strings.HasPrefix(code, "hf_"):
		return at(0)
	case strings.HasPrefix(code, "nf_"):
		if v, ok := at(8); ok {
			return v, true
		}
		return at(3)
	default:
		return 0, false
	}
}
