package hyperdrive

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// fixedPointExp is the decimal exponent of Hyperdrive's 18-decimal fixed point.
const fixedPointExp = -18

var maturityMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 248), big.NewInt(1))

func fixed(value *big.Int) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, fixedPointExp)
}

func uint64From(value *big.Int) (uint64, error) {
	if value == nil {
		return 0, nil
	}
	if !value.IsUint64() {
		return 0, fmt.Errorf("value does not fit in uint64: %s", value)
	}
	return value.Uint64(), nil
}

// splitAssetID decodes a multi-token id into its asset prefix and maturity time.
func splitAssetID(id *big.Int) (uint64, uint64) {
	if id == nil {
		return 0, 0
	}
	prefix := new(big.Int).Rsh(id, 248).Uint64()
	maturity := new(big.Int).And(id, maturityMask)
	if !maturity.IsUint64() {
		return prefix, 0
	}
	return prefix, maturity.Uint64()
}

// convertTuple copies an unpacked ABI tuple into out. A tuple that does not
// match out's layout is reported as an error instead of a panic.
func convertTuple(in interface{}, out interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("convert tuple: %v", r)
		}
	}()
	abi.ConvertType(in, out)
	return nil
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func formatParam(value interface{}) string {
	switch v := value.(type) {
	case *big.Int:
		return v.String()
	case common.Address:
		return v.Hex()
	case common.Hash:
		return v.Hex()
	case bool:
		return strconv.FormatBool(v)
	case []byte:
		return common.Bytes2Hex(v)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
