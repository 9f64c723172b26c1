package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-pulse/internal/market"
)

const aggregatorABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// contractCaller is satisfied by *ethclient.Client.
type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkOptions parameterise the on-chain price feed adapter.
type ChainlinkOptions struct {
	RPCURL string
	// Feeds maps canonical symbols to aggregator contract addresses.
	Feeds   map[string]string
	Timeout time.Duration
}

// Chainlink reads latestRoundData from Chainlink aggregator contracts.
type Chainlink struct {
	opts   ChainlinkOptions
	logger zerolog.Logger

	clientMux sync.Mutex
	client    contractCaller
	decimals  map[common.Address]uint8
}

// NewChainlink builds the on-chain adapter.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{
		opts:     opts,
		logger:   logger.With().Str("component", "chainlink_adapter").Logger(),
		decimals: make(map[common.Address]uint8),
	}
}

// Name implements Adapter.
func (c *Chainlink) Name() string { return "chainlink" }

// Fetch implements Adapter. Symbols without a configured feed are skipped.
func (c *Chainlink) Fetch(ctx context.Context, symbols []string) ([]market.Quote, error) {
	if c.opts.RPCURL == "" || len(c.opts.Feeds) == 0 {
		return nil, ErrNotConfigured
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	quotes := make([]market.Quote, 0, len(symbols))
	var lastErr error
	for _, sym := range symbols {
		feed, ok := c.opts.Feeds[sym]
		if !ok || !common.IsHexAddress(feed) {
			continue
		}
		q, err := c.readFeed(ctx, client, sym, common.HexToAddress(feed))
		if err != nil {
			lastErr = err
			c.logger.Debug().Err(err).Str("symbol", sym).Msg("feed read failed")
			continue
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return quotes, nil
}

func (c *Chainlink) readFeed(ctx context.Context, client contractCaller, symbol string, addr common.Address) (market.Quote, error) {
	dec, err := c.feedDecimals(ctx, client, addr)
	if err != nil {
		return market.Quote{}, err
	}

	outputs, err := c.call(ctx, client, addr, "latestRoundData")
	if err != nil {
		return market.Quote{}, err
	}
	if len(outputs) != 5 {
		return market.Quote{}, errors.New("unexpected latestRoundData response")
	}
	answer, ok := outputs[1].(*big.Int)
	if !ok || answer.Sign() <= 0 {
		return market.Quote{}, fmt.Errorf("chainlink: unusable answer for %s", symbol)
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return market.Quote{}, errors.New("failed to decode latestRoundData updatedAt")
	}

	q := market.Quote{
		Symbol: symbol,
		Close:  market.RoundPrice(decimal.NewFromBigInt(answer, -int32(dec))),
		Source: c.Name(),
	}
	if updatedAt.IsInt64() && updatedAt.Int64() > 0 {
		q.Timestamp = time.Unix(updatedAt.Int64(), 0).UTC()
	}
	return q, nil
}

func (c *Chainlink) feedDecimals(ctx context.Context, client contractCaller, addr common.Address) (uint8, error) {
	c.clientMux.Lock()
	d, ok := c.decimals[addr]
	c.clientMux.Unlock()
	if ok {
		return d, nil
	}

	outputs, err := c.call(ctx, client, addr, "decimals")
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	d, ok = outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	c.clientMux.Lock()
	c.decimals[addr] = d
	c.clientMux.Unlock()
	return d, nil
}

func (c *Chainlink) call(ctx context.Context, client contractCaller, addr common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return aggregatorABI.Unpack(method, res)
}

func (c *Chainlink) getClient(ctx context.Context) (contractCaller, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}
