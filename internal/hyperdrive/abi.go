package hyperdrive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const hyperdriveABIJSON = `[
  {
    "inputs": [],
    "name": "getPoolConfig",
    "outputs": [{
      "components": [
        {"internalType": "contract IERC20", "name": "baseToken", "type": "address"},
        {"internalType": "uint256", "name": "initialSharePrice", "type": "uint256"},
        {"internalType": "uint256", "name": "minimumShareReserves", "type": "uint256"},
        {"internalType": "uint256", "name": "positionDuration", "type": "uint256"},
        {"internalType": "uint256", "name": "checkpointDuration", "type": "uint256"},
        {"internalType": "uint256", "name": "timeStretch", "type": "uint256"},
        {"internalType": "address", "name": "governance", "type": "address"},
        {"internalType": "address", "name": "feeCollector", "type": "address"},
        {
          "components": [
            {"internalType": "uint256", "name": "curve", "type": "uint256"},
            {"internalType": "uint256", "name": "flat", "type": "uint256"},
            {"internalType": "uint256", "name": "governance", "type": "uint256"}
          ],
          "internalType": "struct IHyperdrive.Fees", "name": "fees", "type": "tuple"
        },
        {"internalType": "uint256", "name": "oracleSize", "type": "uint256"},
        {"internalType": "uint256", "name": "updateGap", "type": "uint256"}
      ],
      "internalType": "struct IHyperdrive.PoolConfig", "name": "", "type": "tuple"
    }],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "getPoolInfo",
    "outputs": [{
      "components": [
        {"internalType": "uint256", "name": "shareReserves", "type": "uint256"},
        {"internalType": "uint256", "name": "bondReserves", "type": "uint256"},
        {"internalType": "uint256", "name": "lpTotalSupply", "type": "uint256"},
        {"internalType": "uint256", "name": "sharePrice", "type": "uint256"},
        {"internalType": "uint256", "name": "longsOutstanding", "type": "uint256"},
        {"internalType": "uint256", "name": "longAverageMaturityTime", "type": "uint256"},
        {"internalType": "uint256", "name": "shortsOutstanding", "type": "uint256"},
        {"internalType": "uint256", "name": "shortAverageMaturityTime", "type": "uint256"},
        {"internalType": "uint256", "name": "shortBaseVolume", "type": "uint256"},
        {"internalType": "uint256", "name": "withdrawalSharesReadyToWithdraw", "type": "uint256"},
        {"internalType": "uint256", "name": "withdrawalSharesProceeds", "type": "uint256"}
      ],
      "internalType": "struct IHyperdrive.PoolInfo", "name": "", "type": "tuple"
    }],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "_baseAmount", "type": "uint256"},
      {"internalType": "uint256", "name": "_minOutput", "type": "uint256"},
      {"internalType": "address", "name": "_destination", "type": "address"},
      {"internalType": "bool", "name": "_asUnderlying", "type": "bool"}
    ],
    "name": "openLong",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "_maturityTime", "type": "uint256"},
      {"internalType": "uint256", "name": "_bondAmount", "type": "uint256"},
      {"internalType": "uint256", "name": "_minOutput", "type": "uint256"},
      {"internalType": "address", "name": "_destination", "type": "address"},
      {"internalType": "bool", "name": "_asUnderlying", "type": "bool"}
    ],
    "name": "closeLong",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "_bondAmount", "type": "uint256"},
      {"internalType": "uint256", "name": "_maxDeposit", "type": "uint256"},
      {"internalType": "address", "name": "_destination", "type": "address"},
      {"internalType": "bool", "name": "_asUnderlying", "type": "bool"}
    ],
    "name": "openShort",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "_maturityTime", "type": "uint256"},
      {"internalType": "uint256", "name": "_bondAmount", "type": "uint256"},
      {"internalType": "uint256", "name": "_minOutput", "type": "uint256"},
      {"internalType": "address", "name": "_destination", "type": "address"},
      {"internalType": "bool", "name": "_asUnderlying", "type": "bool"}
    ],
    "name": "closeShort",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "_contribution", "type": "uint256"},
      {"internalType": "uint256", "name": "_minApr", "type": "uint256"},
      {"internalType": "uint256", "name": "_maxApr", "type": "uint256"},
      {"internalType": "address", "name": "_destination", "type": "address"},
      {"internalType": "bool", "name": "_asUnderlying", "type": "bool"}
    ],
    "name": "addLiquidity",
    "outputs": [{"internalType": "uint256", "name": "lpShares", "type": "uint256"}],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "_shares", "type": "uint256"},
      {"internalType": "uint256", "name": "_minOutput", "type": "uint256"},
      {"internalType": "address", "name": "_destination", "type": "address"},
      {"internalType": "bool", "name": "_asUnderlying", "type": "bool"}
    ],
    "name": "removeLiquidity",
    "outputs": [
      {"internalType": "uint256", "name": "", "type": "uint256"},
      {"internalType": "uint256", "name": "", "type": "uint256"}
    ],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "_shares", "type": "uint256"},
      {"internalType": "uint256", "name": "_minOutputPerShare", "type": "uint256"},
      {"internalType": "address", "name": "_destination", "type": "address"},
      {"internalType": "bool", "name": "_asUnderlying", "type": "bool"}
    ],
    "name": "redeemWithdrawalShares",
    "outputs": [
      {"internalType": "uint256", "name": "", "type": "uint256"},
      {"internalType": "uint256", "name": "", "type": "uint256"}
    ],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "_contribution", "type": "uint256"},
      {"internalType": "uint256", "name": "_apr", "type": "uint256"},
      {"internalType": "address", "name": "_destination", "type": "address"},
      {"internalType": "bool", "name": "_asUnderlying", "type": "bool"}
    ],
    "name": "initialize",
    "outputs": [{"internalType": "uint256", "name": "lpShares", "type": "uint256"}],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "_checkpointTime", "type": "uint256"}],
    "name": "checkpoint",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "operator", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"}
    ],
    "name": "TransferSingle",
    "type": "event"
  }
]`

var (
	hyperdriveABI     abi.ABI
	hyperdriveABIOnce sync.Once
	hyperdriveABIErr  error
)

// DefaultABI returns the parsed built-in Hyperdrive ABI.
func DefaultABI() (abi.ABI, error) {
	hyperdriveABIOnce.Do(func() {
		hyperdriveABI, hyperdriveABIErr = abi.JSON(strings.NewReader(hyperdriveABIJSON))
	})
	return hyperdriveABI, hyperdriveABIErr
}

// LoadABI parses an ABI file. Both a bare ABI array and a compiler artifact
// with an "abi" field are accepted. An empty path yields the built-in ABI.
func LoadABI(path string) (abi.ABI, error) {
	if path == "" {
		return DefaultABI()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read abi: %w", err)
	}
	return ParseABI(data)
}

// ParseABI parses ABI JSON in either bare or artifact form.
func ParseABI(data []byte) (abi.ABI, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(data, &artifact); err != nil {
			return abi.ABI{}, fmt.Errorf("parse abi artifact: %w", err)
		}
		if len(artifact.ABI) == 0 {
			return abi.ABI{}, fmt.Errorf("abi artifact has no abi field")
		}
		data = artifact.ABI
	}
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	return parsed, nil
}
