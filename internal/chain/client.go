package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// FundedEventTopic is topic[0] of Funded(uint256 indexed id, uint256 indexed amount, string indexed currencyCode).
var FundedEventTopic = Keccak256([]byte("Funded(uint256,uint256,string)"))

// ErrTransactionNotFound is returned when the provider has no transaction for a hash.
var ErrTransactionNotFound = errors.New("transaction not found")

// Reader is the subset of the chain RPC provider used by the poller.
type Reader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FundedLogs(ctx context.Context, contract common.Address, from, to uint64) ([]types.Log, error)
	TransactionSender(ctx context.Context, hash common.Hash) (string, error)
}

// EthClient implements Reader on top of go-ethereum's JSON-RPC client. Every
// call is bounded by a short fixed timeout so a stalled provider cannot stall
// the poll loop.
type EthClient struct {
	eth     *ethclient.Client
	raw     *rpc.Client
	timeout time.Duration
}

// Dial connects to the provider at uri.
func Dial(ctx context.Context, uri string, timeout time.Duration) (*EthClient, error) {
	if uri == "" {
		return nil, fmt.Errorf("web3 provider uri is required")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	raw, err := rpc.DialOptions(ctx, uri, rpc.WithHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return nil, fmt.Errorf("dial web3 provider: %w", err)
	}
	return &EthClient{eth: ethclient.NewClient(raw), raw: raw, timeout: timeout}, nil
}

// Close releases the underlying RPC connection.
func (c *EthClient) Close() {
	c.eth.Close()
}

// BlockNumber returns the current chain tip.
func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.BlockNumber(ctx)
}

// FundedLogs returns Funded logs emitted by contract in the inclusive block range,
// in the order returned by the provider.
func (c *EthClient) FundedLogs(ctx context.Context, contract common.Address, from, to uint64) ([]types.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{{FundedEventTopic}},
	})
}

// TransactionSender looks up the originating transaction and returns its raw
// "from" field as reported by the provider.
func (c *EthClient) TransactionSender(ctx context.Context, hash common.Hash) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var tx *struct {
		From string `json:"from"`
	}
	if err := c.raw.CallContext(ctx, &tx, "eth_getTransactionByHash", hash); err != nil {
		return "", err
	}
	if tx == nil || tx.From == "" {
		return "", ErrTransactionNotFound
	}
	return tx.From, nil
}

// FundedEvent is a decoded Funded log.
type FundedEvent struct {
	FundingID    string
	FiatAmount   int64
	CurrencyCode string // empty when the hash matches no supported code
	TxSender     string // empty when the sender lookup failed
	TxHash       common.Hash
	BlockNumber  uint64
	LogIndex     uint
}

// DecodeFundedLog extracts the indexed Funded arguments from lg. All three
// parameters are indexed, so they live in topics 1..3.
func DecodeFundedLog(lg types.Log, resolver *CurrencyResolver) (FundedEvent, error) {
	if len(lg.Topics) != 4 {
		return FundedEvent{}, fmt.Errorf("malformed Funded log %s: expected 4 topics, got %d", lg.TxHash.Hex(), len(lg.Topics))
	}
	if lg.Topics[0] != FundedEventTopic {
		return FundedEvent{}, fmt.Errorf("log %s is not a Funded event", lg.TxHash.Hex())
	}

	id := new(big.Int).SetBytes(lg.Topics[1].Bytes())
	amount := new(big.Int).SetBytes(lg.Topics[2].Bytes())
	if !amount.IsInt64() {
		return FundedEvent{}, fmt.Errorf("funded amount %s overflows int64", amount)
	}

	currency, _ := resolver.Resolve(lg.Topics[3])

	return FundedEvent{
		FundingID:    id.String(),
		FiatAmount:   amount.Int64(),
		CurrencyCode: currency,
		TxHash:       lg.TxHash,
		BlockNumber:  lg.BlockNumber,
		LogIndex:     lg.Index,
	}, nil
}
