package hyperdrive

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"hyperdriveScope/internal/model"
)

// Chain is the read surface of the node the extractors depend on.
type Chain interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, block uint64) ([]byte, error)
	BlockTimestamp(ctx context.Context, block uint64) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*types.Block, error)
	TransactionReceipt(ctx context.Context, block uint64, hash common.Hash) (*types.Receipt, error)
}

type feesResult struct {
	Curve      *big.Int
	Flat       *big.Int
	Governance *big.Int
}

type poolConfigResult struct {
	BaseToken            common.Address
	InitialSharePrice    *big.Int
	MinimumShareReserves *big.Int
	PositionDuration     *big.Int
	CheckpointDuration   *big.Int
	TimeStretch          *big.Int
	Governance           common.Address
	FeeCollector         common.Address
	Fees                 feesResult
	OracleSize           *big.Int
	UpdateGap            *big.Int
}

type poolInfoResult struct {
	ShareReserves                   *big.Int
	BondReserves                    *big.Int
	LpTotalSupply                   *big.Int
	SharePrice                      *big.Int
	LongsOutstanding                *big.Int
	LongAverageMaturityTime         *big.Int
	ShortsOutstanding               *big.Int
	ShortAverageMaturityTime        *big.Int
	ShortBaseVolume                 *big.Int
	WithdrawalSharesReadyToWithdraw *big.Int
	WithdrawalSharesProceeds        *big.Int
}

// StateExtractor reads pool configuration and per-block pool state.
type StateExtractor struct {
	chain   Chain
	abi     abi.ABI
	address common.Address
}

// NewStateExtractor builds a StateExtractor for the pool at address.
func NewStateExtractor(chainClient Chain, parsed abi.ABI, address common.Address) (*StateExtractor, error) {
	if chainClient == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	for _, method := range []string{"getPoolConfig", "getPoolInfo"} {
		if _, ok := parsed.Methods[method]; !ok {
			return nil, fmt.Errorf("state abi lacks %s", method)
		}
	}
	return &StateExtractor{chain: chainClient, abi: parsed, address: address}, nil
}

// PoolConfig reads the pool configuration as of block.
func (s *StateExtractor) PoolConfig(ctx context.Context, block uint64) (model.PoolConfig, error) {
	values, err := s.call(ctx, "getPoolConfig", block)
	if err != nil {
		return model.PoolConfig{}, err
	}

	var out poolConfigResult
	if err := convertTuple(values[0], &out); err != nil {
		return model.PoolConfig{}, fmt.Errorf("getPoolConfig: %w", err)
	}

	positionDuration, err := uint64From(out.PositionDuration)
	if err != nil {
		return model.PoolConfig{}, fmt.Errorf("position duration: %w", err)
	}
	checkpointDuration, err := uint64From(out.CheckpointDuration)
	if err != nil {
		return model.PoolConfig{}, fmt.Errorf("checkpoint duration: %w", err)
	}
	oracleSize, err := uint64From(out.OracleSize)
	if err != nil {
		return model.PoolConfig{}, fmt.Errorf("oracle size: %w", err)
	}
	updateGap, err := uint64From(out.UpdateGap)
	if err != nil {
		return model.PoolConfig{}, fmt.Errorf("update gap: %w", err)
	}

	return model.PoolConfig{
		ContractAddress:      s.address.Hex(),
		BaseToken:            out.BaseToken.Hex(),
		InitialSharePrice:    fixed(out.InitialSharePrice),
		MinimumShareReserves: fixed(out.MinimumShareReserves),
		PositionDuration:     positionDuration,
		CheckpointDuration:   checkpointDuration,
		TimeStretch:          fixed(out.TimeStretch),
		Governance:           out.Governance.Hex(),
		FeeCollector:         out.FeeCollector.Hex(),
		CurveFee:             fixed(out.Fees.Curve),
		FlatFee:              fixed(out.Fees.Flat),
		GovernanceFee:        fixed(out.Fees.Governance),
		OracleSize:           oracleSize,
		UpdateGap:            updateGap,
	}, nil
}

// PoolInfo reads the pool state as of block.
func (s *StateExtractor) PoolInfo(ctx context.Context, block uint64) (model.PoolInfo, error) {
	values, err := s.call(ctx, "getPoolInfo", block)
	if err != nil {
		return model.PoolInfo{}, err
	}

	var out poolInfoResult
	if err := convertTuple(values[0], &out); err != nil {
		return model.PoolInfo{}, fmt.Errorf("getPoolInfo: %w", err)
	}

	ts, err := s.chain.BlockTimestamp(ctx, block)
	if err != nil {
		return model.PoolInfo{}, err
	}

	return model.PoolInfo{
		BlockNumber:                     block,
		Timestamp:                       time.Unix(int64(ts), 0).UTC(),
		ShareReserves:                   fixed(out.ShareReserves),
		BondReserves:                    fixed(out.BondReserves),
		LPTotalSupply:                   fixed(out.LpTotalSupply),
		SharePrice:                      fixed(out.SharePrice),
		LongsOutstanding:                fixed(out.LongsOutstanding),
		LongAverageMaturityTime:         fixed(out.LongAverageMaturityTime),
		ShortsOutstanding:               fixed(out.ShortsOutstanding),
		ShortAverageMaturityTime:        fixed(out.ShortAverageMaturityTime),
		ShortBaseVolume:                 fixed(out.ShortBaseVolume),
		WithdrawalSharesReadyToWithdraw: fixed(out.WithdrawalSharesReadyToWithdraw),
		WithdrawalSharesProceeds:        fixed(out.WithdrawalSharesProceeds),
	}, nil
}

func (s *StateExtractor) call(ctx context.Context, method string, block uint64) ([]interface{}, error) {
	data, err := s.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &s.address, Data: data}
	resp, err := s.chain.CallContract(ctx, msg, block)
	if err != nil {
		return nil, err
	}
	values, err := s.abi.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected %s values: %d", method, len(values))
	}
	return values, nil
}
