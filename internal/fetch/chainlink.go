package fetch

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/barton333/Investment-Assistant/internal/normalize"
)

// Selectors for the Chainlink AggregatorV3Interface.
var (
	selLatestRoundData = common.Hex2Bytes("feaf968c") // latestRoundData()
	selDecimals        = common.Hex2Bytes("313ce567") // decimals()
)

// ChainlinkClient reads on-chain Chainlink price feeds over an Ethereum RPC
// endpoint. It serves as a secondary structured source for crypto assets when
// the REST feed misses an id. Codes are feed aggregator contract addresses.
type ChainlinkClient struct {
	rpcEndpoint string
	timeout     time.Duration

	mu       sync.Mutex
	client   *ethclient.Client
	decimals map[string]uint8
}

// NewChainlinkClient creates a new on-chain feed reader. The RPC connection
// is dialed lazily on first use.
func NewChainlinkClient(rpcEndpoint string, timeout time.Duration) *ChainlinkClient {
	return &ChainlinkClient{
		rpcEndpoint: rpcEndpoint,
		timeout:     timeout,
		decimals:    make(map[string]uint8),
	}
}

// Name implements Provider.
func (c *ChainlinkClient) Name() string { return "chainlink" }

// Fetch reads latestRoundData from every requested feed contract. Feeds are
// queried concurrently; one bad feed never blocks the rest.
func (c *ChainlinkClient) Fetch(ctx context.Context, feeds []string) (Quotes, error) {
	if len(feeds) == 0 || c.rpcEndpoint == "" {
		return Quotes{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("error dialing eth rpc: %w", err)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		quotes = Quotes{}
	)
	for _, feed := range feeds {
		wg.Add(1)
		go func(feed string) {
			defer wg.Done()

			price, err := c.readFeed(ctx, client, feed)
			if err != nil {
				logrus.WithField("feed", feed).Debugf("Chainlink feed read failed: %v", err)
				return
			}
			if v, ok := normalize.Valid(price); ok {
				mu.Lock()
				quotes[feed] = v
				mu.Unlock()
			}
		}(feed)
	}
	wg.Wait()

	return quotes, nil
}

func (c *ChainlinkClient) dial(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := ethclient.DialContext(ctx, c.rpcEndpoint)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

// readFeed calls latestRoundData() on the aggregator and scales the answer
// by the feed's decimals.
func (c *ChainlinkClient) readFeed(ctx context.Context, client *ethclient.Client, feed string) (float64, error) {
	addr := common.HexToAddress(feed)

	dec, err := c.feedDecimals(ctx, client, addr)
	if err != nil {
		return 0, err
	}

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: selLatestRoundData}, nil)
	if err != nil {
		return 0, fmt.Errorf("latestRoundData call failed: %w", err)
	}
	// Return layout: roundId, answer, startedAt, updatedAt, answeredInRound,
	// five 32-byte words. The answer is the second word.
	if len(out) < 64 {
		return 0, fmt.Errorf("short latestRoundData return: %d bytes", len(out))
	}
	answer := new(big.Int).SetBytes(out[32:64])

	price, _ := new(big.Float).Quo(
		new(big.Float).SetInt(answer),
		big.NewFloat(math.Pow10(int(dec))),
	).Float64()
	return price, nil
}

func (c *ChainlinkClient) feedDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (uint8, error) {
	c.mu.Lock()
	if dec, ok := c.decimals[addr.Hex()]; ok {
		c.mu.Unlock()
		return dec, nil
	}
	c.mu.Unlock()

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: selDecimals}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals call failed: %w", err)
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("short decimals return: %d bytes", len(out))
	}
	dec := out[31]

	c.mu.Lock()
	c.decimals[addr.Hex()] = dec
	c.mu.Unlock()
	return dec, nil
}
