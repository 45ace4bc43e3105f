package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

var errEmptyCallResult = errors.New("empty call result")

// timestampCacheSize bounds the header timestamp cache. A tailing loop reads
// each block about once, so only recent blocks are worth keeping.
const timestampCacheSize = 256

// Client wraps go-ethereum RPC and classifies failures for the acquisition loop.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	timestamps *lru.Cache[uint64, uint64]
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, NewQueryError("dial", 0, ErrConnectivity, err)
	}

	return newClient(rpcClient), nil
}

func newClient(rpcClient *rpc.Client) *Client {
	return &Client{
		rpcClient:  rpcClient,
		ethClient:  ethclient.NewClient(rpcClient),
		timestamps: lru.NewCache[uint64, uint64](timestampCacheSize),
	}
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.ethClient.ChainID(ctx)
	if err != nil {
		return nil, NewQueryError("chain id", 0, ErrConnectivity, err)
	}
	return id, nil
}

// LatestBlockNumber returns the chain head. Every failure is a connectivity failure.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.ethClient.BlockNumber(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		return 0, NewQueryError("block number", 0, ErrConnectivity, err)
	}
	return n, nil
}

// BlockByNumber returns the block with its transactions.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	block, err := c.ethClient.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, Classify("get block", number, err)
	}
	return block, nil
}

// HeaderByNumber returns the block header by number.
func (c *Client) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	header, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, Classify("get header", number, err)
	}
	return header, nil
}

// BlockTimestamp returns the block timestamp, caching recent blocks.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if ts, ok := c.timestamps.Get(number); ok {
		return ts, nil
	}

	header, err := c.HeaderByNumber(ctx, number)
	if err != nil {
		return 0, err
	}
	c.timestamps.Add(number, header.Time)
	return header.Time, nil
}

// TransactionReceipt returns the receipt of a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, block uint64, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.ethClient.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, Classify("get receipt", block, err)
	}
	return receipt, nil
}

// CallContract performs an eth_call against the state at the given block.
// An empty result is reported as a transient failure: nodes return it for
// state they have not settled yet.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, block uint64) ([]byte, error) {
	resp, err := c.ethClient.CallContract(ctx, msg, new(big.Int).SetUint64(block))
	if err != nil {
		return nil, Classify("call contract", block, err)
	}
	if len(resp) == 0 {
		return nil, NewQueryError("call contract", block, ErrTransientQuery, errEmptyCallResult)
	}
	return resp, nil
}
