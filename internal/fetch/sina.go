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

// sinaBatchSize caps codes per request to respect the feed's URL length limit.
const sinaBatchSize = 40

// SinaClient fetches quotes from the Sina hq feed. The feed answers with
// GBK-encoded lines of the form
//
//	var hq_str_sh600519="贵州茅台,1480.00,1475.00,1482.50,...";
//
// where the position of the last price depends on the instrument class.
type SinaClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewSinaClient creates a new Sina hq feed client
func NewSinaClient(baseURL string, timeout time.Duration) *SinaClient {
	return &SinaClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: newRetryClient(timeout),
		timeout:    timeout,
	}
}

// Name implements Provider.
func (c *SinaClient) Name() string { return "sina" }

// Fetch retrieves best-effort quotes for the requested Sina codes. Oversized
// batches are chunked and requested in parallel.
func (c *SinaClient) Fetch(ctx context.Context, codes []string) (Quotes, error) {
	if len(codes) == 0 {
		return Quotes{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return fetchChunked(ctx, codes, sinaBatchSize, c.fetchBatch)
}

func (c *SinaClient) fetchBatch(ctx context.Context, codes []string) (Quotes, error) {
	url := c.baseURL + "/list=" + strings.Join(codes, ",")
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	// The feed rejects requests without a finance referer.
	req.Header.Set("Referer", "https://finance.sina.com.cn")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching sina quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sina feed error: status %d", resp.StatusCode)
	}

	// The feed is GBK encoded; decode explicitly rather than trusting any
	// transport charset hint.
	body, err := io.ReadAll(transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder()))
	if err != nil {
		return nil, fmt.Errorf("error decoding sina response: %w", err)
	}

	quotes := ParseSinaBody(string(body))
	logrus.WithFields(logrus.Fields{
		"requested": len(codes),
		"resolved":  len(quotes),
	}).Debug("Sina batch fetched")
	return quotes, nil
}

// ParseSinaBody harvests the variable bindings of a Sina hq response and
// extracts a last price per code using the class-specific field table.
func ParseSinaBody(body string) Quotes {
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

		if v, ok := sinaLastPrice(code, fields); ok {
			quotes[code] = v
		}
	}
	return quotes
}

// sinaLastPrice picks the last-price field for a code. Positions differ per
// instrument class:
//
//	equities / CSI indices  (sh,sz)  index 3
//	forex                   (fx_)    index 1
//	global indices          (gb_)    index 1
//	HK realtime             (rt_hk)  index 6
//
// Futures codes (nf_, hf_) are the futures feed's concern, see futures.go.
func sinaLastPrice(code string, fields []string) (float64, bool) {
	at := func(i int) (float64, bool) {
		if i >= len(fields) {
			return 0, false
		}
		return normalize.ParseNumeric(fields[i])
	}

	switch {
	case strings.HasPrefix(code, "fx_"):
		return at(1)
	case strings.HasPrefix(code, "gb_"):
		return at(1)
	case strings.HasPrefix(code, "rt_hk"):
		return at(6)
	default:
		// A-share equities and domestic indices
		return at(3)
	}
}
