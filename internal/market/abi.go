package market

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const contractABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint128", "name": "newMarketId", "type": "uint128"},
      {"indexed": false, "internalType": "string", "name": "newMarketConfigUri", "type": "string"},
      {"indexed": false, "internalType": "bytes32", "name": "newMarketConfigUriHash", "type": "bytes32"}
    ],
    "name": "NewMarket",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint128", "name": "marketId", "type": "uint128"},
      {"indexed": false, "internalType": "uint128", "name": "allowedModelIdx", "type": "uint128"},
      {"indexed": false, "internalType": "address", "name": "trader", "type": "address"},
      {"indexed": false, "internalType": "bool", "name": "isBuy", "type": "bool"},
      {"indexed": false, "internalType": "uint256", "name": "tokensDelta", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "modelSharesDelta", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "modelNewPrice", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "modelNewSupply", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "marketNewSupply", "type": "uint256"}
    ],
    "name": "TradeExecuted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint128", "name": "marketId", "type": "uint128"},
      {"indexed": false, "internalType": "uint128", "name": "winningModelIdx", "type": "uint128"}
    ],
    "name": "WinnersSubmitted",
    "type": "event"
  },
  {
    "inputs": [
      {"internalType": "uint128", "name": "marketId", "type": "uint128"},
      {"internalType": "uint128", "name": "modelIdx", "type": "uint128"},
      {"internalType": "uint256", "name": "shares", "type": "uint256"}
    ],
    "name": "quoteSell",
    "outputs": [{"internalType": "uint256", "name": "tokensOut", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	contractABI     abi.ABI
	contractABIOnce sync.Once
	contractABIErr  error
)

// ContractABI returns the parsed prediction market contract ABI.
func ContractABI() (abi.ABI, error) {
	contractABIOnce.Do(func() {
		contractABI, contractABIErr = abi.JSON(strings.NewReader(contractABIJSON))
	})
	return contractABI, contractABIErr
}
