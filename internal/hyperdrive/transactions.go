package hyperdrive

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hyperdriveScope/internal/model"
)

const transferSingleEvent = "TransferSingle"

// amountParams names the calldata argument carrying each action's primary amount.
var amountParams = map[string]string{
	model.ActionOpenLong:               "_baseAmount",
	model.ActionCloseLong:              "_bondAmount",
	model.ActionOpenShort:              "_bondAmount",
	model.ActionCloseShort:             "_bondAmount",
	model.ActionAddLiquidity:           "_contribution",
	model.ActionRemoveLiquidity:        "_shares",
	model.ActionRedeemWithdrawalShares: "_shares",
	model.ActionInitialize:             "_contribution",
}

// TransactionExtractor decodes Hyperdrive transactions of a block.
type TransactionExtractor struct {
	chain   Chain
	abi     abi.ABI
	address common.Address
	signer  types.Signer
	logger  *zap.Logger
}

// NewTransactionExtractor builds a TransactionExtractor for the pool at address.
func NewTransactionExtractor(chainClient Chain, parsed abi.ABI, address common.Address, chainID *big.Int, logger *zap.Logger) (*TransactionExtractor, error) {
	if chainClient == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if chainID == nil {
		return nil, fmt.Errorf("chain id is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionExtractor{
		chain:   chainClient,
		abi:     parsed,
		address: address,
		signer:  types.LatestSignerForChainID(chainID),
		logger:  logger,
	}, nil
}

// Transactions returns the decoded Hyperdrive transactions in block, in block
// order. Transactions that cannot be decoded are reported as DecodeErrors and
// skipped; only chain read failures are returned as errors.
func (e *TransactionExtractor) Transactions(ctx context.Context, block uint64) ([]model.TransactionRecord, []model.DecodeError, error) {
	b, err := e.chain.BlockByNumber(ctx, block)
	if err != nil {
		return nil, nil, err
	}

	var records []model.TransactionRecord
	var decodeErrs []model.DecodeError
	for idx, tx := range b.Transactions() {
		if tx.To() == nil || *tx.To() != e.address {
			continue
		}

		receipt, err := e.chain.TransactionReceipt(ctx, block, tx.Hash())
		if err != nil {
			return nil, nil, err
		}

		record, err := e.decode(block, uint64(idx), tx, receipt)
		if err != nil {
			e.logger.Debug("skip undecodable transaction", zap.Uint64("block_number", block), zap.String("tx_hash", tx.Hash().Hex()), zap.Error(err))
			decodeErrs = append(decodeErrs, decodeErrorFromTx(block, tx, err))
			continue
		}
		records = append(records, record)
	}
	return records, decodeErrs, nil
}

func (e *TransactionExtractor) decode(block, index uint64, tx *types.Transaction, receipt *types.Receipt) (model.TransactionRecord, error) {
	input := tx.Data()
	if len(input) < 4 {
		return model.TransactionRecord{}, fmt.Errorf("calldata too short: %d bytes", len(input))
	}
	method, err := e.abi.MethodById(input[:4])
	if err != nil {
		return model.TransactionRecord{}, fmt.Errorf("unknown selector: %w", err)
	}
	args := make(map[string]interface{}, len(method.Inputs))
	if err := method.Inputs.UnpackIntoMap(args, input[4:]); err != nil {
		return model.TransactionRecord{}, fmt.Errorf("unpack %s: %w", method.Name, err)
	}

	from, err := types.Sender(e.signer, tx)
	if err != nil {
		return model.TransactionRecord{}, fmt.Errorf("recover sender: %w", err)
	}

	params := make(map[string]string, len(args))
	for name, value := range args {
		params[name] = formatParam(value)
	}

	amount := decimal.Zero
	if param, ok := amountParams[method.Name]; ok {
		value, err := asBigInt(args[param])
		if err != nil {
			return model.TransactionRecord{}, fmt.Errorf("%s %s: %w", method.Name, param, err)
		}
		amount = fixed(value)
	}

	record := model.TransactionRecord{
		BlockNumber:      block,
		TransactionIndex: index,
		TransactionHash:  tx.Hash().Hex(),
		Nonce:            tx.Nonce(),
		From:             from.Hex(),
		To:               e.address.Hex(),
		Value:            tx.Value().String(),
		Action:           method.Name,
		Amount:           amount,
		InputParams:      params,
	}
	if receipt != nil {
		record.GasUsed = receipt.GasUsed
		record.Status = receipt.Status
		event, err := e.transferEvent(receipt)
		if err != nil {
			return model.TransactionRecord{}, err
		}
		record.Event = event
	}
	return record, nil
}

// transferEvent decodes the first TransferSingle emitted by the pool, if any.
func (e *TransactionExtractor) transferEvent(receipt *types.Receipt) (*model.TransferEvent, error) {
	event, ok := e.abi.Events[transferSingleEvent]
	if !ok {
		return nil, nil
	}
	for _, log := range receipt.Logs {
		if log.Address != e.address || len(log.Topics) == 0 || log.Topics[0] != event.ID {
			continue
		}

		fields := make(map[string]interface{})
		if err := abi.ParseTopicsIntoMap(fields, indexedArguments(event.Inputs), log.Topics[1:]); err != nil {
			return nil, fmt.Errorf("parse %s topics: %w", event.Name, err)
		}
		if err := event.Inputs.UnpackIntoMap(fields, log.Data); err != nil {
			return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
		}

		operator, err := asAddress(fields["operator"])
		if err != nil {
			return nil, fmt.Errorf("operator: %w", err)
		}
		from, err := asAddress(fields["from"])
		if err != nil {
			return nil, fmt.Errorf("from: %w", err)
		}
		to, err := asAddress(fields["to"])
		if err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
		id, err := asBigInt(fields["id"])
		if err != nil {
			return nil, fmt.Errorf("id: %w", err)
		}
		value, err := asBigInt(fields["value"])
		if err != nil {
			return nil, fmt.Errorf("value: %w", err)
		}

		prefix, maturity := splitAssetID(id)
		return &model.TransferEvent{
			Operator:     operator.Hex(),
			From:         from.Hex(),
			To:           to.Hex(),
			ID:           id.String(),
			Value:        fixed(value),
			Prefix:       prefix,
			MaturityTime: maturity,
		}, nil
	}
	return nil, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func decodeErrorFromTx(block uint64, tx *types.Transaction, err error) model.DecodeError {
	selector := ""
	if data := tx.Data(); len(data) >= 4 {
		selector = hexutil.Encode(data[:4])
	}
	address := ""
	if tx.To() != nil {
		address = tx.To().Hex()
	}
	return model.DecodeError{
		BlockNumber: block,
		TxHash:      tx.Hash().Hex(),
		Address:     address,
		Selector:    selector,
		Error:       err.Error(),
	}
}
