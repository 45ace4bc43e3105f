package hyperdrive

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hyperdriveScope/internal/chain"
	"hyperdriveScope/internal/model"
)

var (
	poolAddress = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testChainID = big.NewInt(31337)
)

type fakeChain struct {
	calls     map[string][]byte
	callErr   error
	timestamp uint64
	blocks    map[uint64]*types.Block
	receipts  map[common.Hash]*types.Receipt
}

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, block uint64) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.calls[string(msg.Data[:4])], nil
}

func (f *fakeChain) BlockTimestamp(ctx context.Context, block uint64) (uint64, error) {
	return f.timestamp, nil
}

func (f *fakeChain) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	b, ok := f.blocks[number]
	if !ok {
		return nil, chain.NewQueryError("get block", number, chain.ErrInvalidBlock, ethereum.NotFound)
	}
	return b, nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, block uint64, hash common.Hash) (*types.Receipt, error) {
	return f.receipts[hash], nil
}

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestStateExtractorPoolInfo(t *testing.T) {
	parsed, err := DefaultABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	method := parsed.Methods["getPoolInfo"]
	out, err := method.Outputs.Pack(poolInfoResult{
		ShareReserves:                   eth(1000),
		BondReserves:                    eth(2500),
		LpTotalSupply:                   eth(1000),
		SharePrice:                      new(big.Int).Add(eth(1), big.NewInt(5e16)),
		LongsOutstanding:                eth(10),
		LongAverageMaturityTime:         big.NewInt(0),
		ShortsOutstanding:               big.NewInt(0),
		ShortAverageMaturityTime:        big.NewInt(0),
		ShortBaseVolume:                 big.NewInt(0),
		WithdrawalSharesReadyToWithdraw: big.NewInt(0),
		WithdrawalSharesProceeds:        big.NewInt(0),
	})
	if err != nil {
		t.Fatalf("pack pool info: %v", err)
	}

	fc := &fakeChain{calls: map[string][]byte{string(method.ID): out}, timestamp: 1685620800}
	extractor, err := NewStateExtractor(fc, parsed, poolAddress)
	if err != nil {
		t.Fatalf("extractor: %v", err)
	}

	info, err := extractor.PoolInfo(context.Background(), 42)
	if err != nil {
		t.Fatalf("pool info: %v", err)
	}
	if info.BlockNumber != 42 {
		t.Fatalf("block number mismatch: %d", info.BlockNumber)
	}
	if info.Timestamp.Unix() != 1685620800 {
		t.Fatalf("timestamp mismatch: %s", info.Timestamp)
	}
	if !info.SharePrice.Equal(decimal.RequireFromString("1.05")) {
		t.Fatalf("share price mismatch: %s", info.SharePrice)
	}
	if !info.BondReserves.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("bond reserves mismatch: %s", info.BondReserves)
	}
}

func TestStateExtractorPoolConfig(t *testing.T) {
	parsed, err := DefaultABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	baseToken := common.HexToAddress("0x2222222222222222222222222222222222222222")
	method := parsed.Methods["getPoolConfig"]
	out, err := method.Outputs.Pack(poolConfigResult{
		BaseToken:            baseToken,
		InitialSharePrice:    eth(1),
		MinimumShareReserves: big.NewInt(1e13),
		PositionDuration:     big.NewInt(604800),
		CheckpointDuration:   big.NewInt(3600),
		TimeStretch:          big.NewInt(44463125629060298),
		Governance:           common.HexToAddress("0x3333333333333333333333333333333333333333"),
		FeeCollector:         common.HexToAddress("0x4444444444444444444444444444444444444444"),
		Fees:                 feesResult{Curve: big.NewInt(1e17), Flat: big.NewInt(5e14), Governance: big.NewInt(0)},
		OracleSize:           big.NewInt(10),
		UpdateGap:            big.NewInt(3600),
	})
	if err != nil {
		t.Fatalf("pack pool config: %v", err)
	}

	fc := &fakeChain{calls: map[string][]byte{string(method.ID): out}}
	extractor, err := NewStateExtractor(fc, parsed, poolAddress)
	if err != nil {
		t.Fatalf("extractor: %v", err)
	}

	cfg, err := extractor.PoolConfig(context.Background(), 1)
	if err != nil {
		t.Fatalf("pool config: %v", err)
	}
	if cfg.BaseToken != baseToken.Hex() || cfg.ContractAddress != poolAddress.Hex() {
		t.Fatalf("address mismatch: %+v", cfg)
	}
	if cfg.PositionDuration != 604800 || cfg.CheckpointDuration != 3600 {
		t.Fatalf("duration mismatch: %+v", cfg)
	}
	if !cfg.CurveFee.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("curve fee mismatch: %s", cfg.CurveFee)
	}
	if !cfg.TimeStretch.Equal(decimal.RequireFromString("0.044463125629060298")) {
		t.Fatalf("time stretch mismatch: %s", cfg.TimeStretch)
	}
}

func TestStateExtractorPropagatesTransientErrors(t *testing.T) {
	parsed, err := DefaultABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	fc := &fakeChain{callErr: chain.NewQueryError("call contract", 9, chain.ErrTransientQuery, errors.New("header not found"))}
	extractor, err := NewStateExtractor(fc, parsed, poolAddress)
	if err != nil {
		t.Fatalf("extractor: %v", err)
	}
	if _, err := extractor.PoolInfo(context.Background(), 9); !errors.Is(err, chain.ErrTransientQuery) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestTransactionExtractorSkipsUndecodable(t *testing.T) {
	parsed, err := DefaultABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := crypto.PubkeyToAddress(key.PublicKey)
	signer := types.LatestSignerForChainID(testChainID)

	openLong, err := parsed.Pack("openLong", eth(5), big.NewInt(0), sender, true)
	if err != nil {
		t.Fatalf("pack openLong: %v", err)
	}
	other := common.HexToAddress("0x9999999999999999999999999999999999999999")

	sign := func(nonce uint64, to common.Address, data []byte) *types.Transaction {
		tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    big.NewInt(0),
			Gas:      500000,
			GasPrice: big.NewInt(1),
			Data:     data,
		}), signer, key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return tx
	}

	txOpen := sign(0, poolAddress, openLong)
	txUnrelated := sign(1, other, []byte{0x01, 0x02, 0x03, 0x04})
	txBad := sign(2, poolAddress, []byte{0xde, 0xad, 0xbe, 0xef})

	transfer := parsed.Events[transferSingleEvent]
	assetID := new(big.Int).Or(new(big.Int).Lsh(big.NewInt(1), 248), big.NewInt(1686225600))
	eventData, err := transfer.Inputs.NonIndexed().Pack(assetID, eth(5))
	if err != nil {
		t.Fatalf("pack transfer: %v", err)
	}

	block := types.NewBlockWithHeader(&types.Header{Number: big.NewInt(77)}).WithBody([]*types.Transaction{txOpen, txUnrelated, txBad}, nil)
	fc := &fakeChain{
		blocks: map[uint64]*types.Block{77: block},
		receipts: map[common.Hash]*types.Receipt{
			txOpen.Hash(): {
				Status:  types.ReceiptStatusSuccessful,
				GasUsed: 120000,
				Logs: []*types.Log{{
					Address: poolAddress,
					Topics: []common.Hash{
						transfer.ID,
						common.BytesToHash(poolAddress.Bytes()),
						{},
						common.BytesToHash(sender.Bytes()),
					},
					Data: eventData,
				}},
			},
			txBad.Hash(): {Status: types.ReceiptStatusFailed},
		},
	}

	extractor, err := NewTransactionExtractor(fc, parsed, poolAddress, testChainID, zap.NewNop())
	if err != nil {
		t.Fatalf("extractor: %v", err)
	}

	records, decodeErrs, err := extractor.Transactions(context.Background(), 77)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if len(decodeErrs) != 1 || decodeErrs[0].Selector != "0xdeadbeef" {
		t.Fatalf("expected one decode error for 0xdeadbeef, got %+v", decodeErrs)
	}

	rec := records[0]
	if rec.Action != model.ActionOpenLong || rec.From != sender.Hex() {
		t.Fatalf("record mismatch: %+v", rec)
	}
	if !rec.Amount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("amount mismatch: %s", rec.Amount)
	}
	if rec.InputParams["_asUnderlying"] != "true" {
		t.Fatalf("input params mismatch: %+v", rec.InputParams)
	}
	if rec.GasUsed != 120000 || rec.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("receipt fields mismatch: %+v", rec)
	}
	if rec.Event == nil || rec.Event.Prefix != 1 || rec.Event.MaturityTime != 1686225600 || rec.Event.To != sender.Hex() {
		t.Fatalf("event mismatch: %+v", rec.Event)
	}
}

func TestTransactionExtractorMissingBlock(t *testing.T) {
	parsed, err := DefaultABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	extractor, err := NewTransactionExtractor(&fakeChain{}, parsed, poolAddress, testChainID, nil)
	if err != nil {
		t.Fatalf("extractor: %v", err)
	}
	if _, _, err := extractor.Transactions(context.Background(), 5); !errors.Is(err, chain.ErrInvalidBlock) {
		t.Fatalf("expected invalid block error, got %v", err)
	}
}

func TestLoadABIArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "IHyperdrive.json")
	artifact := `{"contractName":"IHyperdrive","abi":` + hyperdriveABIJSON + `}`
	if err := os.WriteFile(path, []byte(artifact), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	parsed, err := LoadABI(path)
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	if _, ok := parsed.Methods["getPoolInfo"]; !ok {
		t.Fatalf("getPoolInfo missing from artifact abi")
	}

	if _, err := ParseABI([]byte(`{"contractName":"x"}`)); err == nil {
		t.Fatalf("expected error for artifact without abi")
	}
}

func TestSplitAssetID(t *testing.T) {
	id := new(big.Int).Or(new(big.Int).Lsh(big.NewInt(3), 248), big.NewInt(1700000000))
	prefix, maturity := splitAssetID(id)
	if prefix != 3 || maturity != 1700000000 {
		t.Fatalf("split mismatch: %d %d", prefix, maturity)
	}
}
