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

// tencentBatchSize mirrors the Sina cap; the qt feed tolerates similar URL lengths.
const tencentBatchSize = 40

// TencentClient fetches quotes from the Tencent qt feed, used as the
// redundant cross-check source for domestic indices. Responses are
// GBK-encoded tilde-separated bindings:
//
//	v_sh000001="1~上证指数~000001~3301.50~...";
//
// Unlike the Sina feed, the last price sits at index 3 for every class.
type TencentClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewTencentClient creates a new Tencent qt feed client
func NewTencentClient(baseURL string, timeout time.Duration) *TencentClient {
	return &TencentClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: newRetryClient(timeout),
		timeout:    timeout,
	}
}

// Name implements Provider.
func (c *TencentClient) Name() string { return "tencent" }

// Fetch retrieves best-effort quotes for the requested Tencent codes.
func (c *TencentClient) Fetch(ctx context.Context, codes []string) (Quotes, error) {
	if len(codes) == 0 {
		return Quotes{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return fetchChunked(ctx, codes, tencentBatchSize, c.fetchBatch)
}

func (c *TencentClient) fetchBatch(ctx context.Context, codes []string) (Quotes, error) {
	url := c.baseURL + "/q=" + strings.Join(codes, ",")
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching tencent quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tencent feed error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder()))
	if err != nil {
		return nil, fmt.Errorf("error decoding tencent response: %w", err)
	}

	quotes := ParseTencentBody(string(body))
	logrus.WithFields(logrus.Fields{
		"requested": len(codes),
		"resolved":  len(quotes),
	}).Debug("Tencent batch fetched")
	return quotes, nil
}

// ParseTencentBody harvests the variable bindings of a qt feed response.
func ParseTencentBody(body string) Quotes {
	quotes := Quotes{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "v_") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}
		code := strings.TrimPrefix(line[:eq], "v_")
		payload := strings.Trim(strings.TrimSuffix(line[eq+1:], ";"), `"`)
		if payload == "" {
			continue
		}
		fields := strings.Split(payload, "~")
		if len(fields) <= 3 {
			continue
		}
		if v, ok := normalize.ParseNumeric(fields[3]); ok {
			quotes[code] = v
		}
	}
	return quotes
}
