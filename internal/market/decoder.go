package market

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Decoder maps raw contract logs to typed events.
type Decoder struct {
	abi         abi.ABI
	topicToName map[common.Hash]string
}

// NewDecoder builds a decoder for the three market event signatures.
func NewDecoder() (*Decoder, error) {
	contractABI, err := ContractABI()
	if err != nil {
		return nil, err
	}

	topicToName := map[common.Hash]string{
		contractABI.Events["NewMarket"].ID:        "NewMarket",
		contractABI.Events["TradeExecuted"].ID:    "TradeExecuted",
		contractABI.Events["WinnersSubmitted"].ID: "WinnersSubmitted",
	}

	return &Decoder{
		abi:         contractABI,
		topicToName: topicToName,
	}, nil
}

// Topic0 returns the event signature hashes the decoder understands, for use
// in a single multi-topic log filter.
func (d *Decoder) Topic0() []common.Hash {
	topics := make([]common.Hash, 0, len(d.topicToName))
	for _, name := range []string{"NewMarket", "TradeExecuted", "WinnersSubmitted"} {
		topics = append(topics, d.abi.Events[name].ID)
	}
	return topics
}

// Decode converts a log into a typed event. Logs with an unknown topic0 are
// skipped with a nil event and nil error.
func (d *Decoder) Decode(log types.Log) (Event, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topic0")
	}
	name, ok := d.topicToName[log.Topics[0]]
	if !ok {
		return nil, nil
	}

	switch name {
	case "NewMarket":
		return d.decodeNewMarket(log)
	case "TradeExecuted":
		return d.decodeTradeExecuted(log)
	case "WinnersSubmitted":
		return d.decodeWinnersSubmitted(log)
	default:
		return nil, fmt.Errorf("unsupported event name: %s", name)
	}
}

func (d *Decoder) decodeNewMarket(log types.Log) (Event, error) {
	if len(log.Topics) < 2 {
		return nil, fmt.Errorf("new market: missing indexed market id")
	}
	marketID, err := marketIDFromTopic(log.Topics[1])
	if err != nil {
		return nil, fmt.Errorf("new market: %w", err)
	}

	values, err := d.abi.Events["NewMarket"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("new market: unpack: %w", err)
	}
	configURI, ok := values[0].(string)
	if !ok {
		return nil, fmt.Errorf("new market: config uri type mismatch")
	}
	hashBytes, ok := values[1].([32]byte)
	if !ok {
		return nil, fmt.Errorf("new market: config uri hash type mismatch")
	}

	return MarketCreated{
		MarketID:      marketID,
		ConfigURI:     configURI,
		ConfigURIHash: common.BytesToHash(hashBytes[:]).Hex(),
	}, nil
}

func (d *Decoder) decodeTradeExecuted(log types.Log) (Event, error) {
	values, err := d.abi.Events["TradeExecuted"].Inputs.Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("trade executed: unpack: %w", err)
	}
	if len(values) != 9 {
		return nil, fmt.Errorf("trade executed: expected 9 values, got %d", len(values))
	}

	marketID, err := uint64FromBig(values[0], "market id")
	if err != nil {
		return nil, fmt.Errorf("trade executed: %w", err)
	}
	modelIdx, err := uint64FromBig(values[1], "model idx")
	if err != nil {
		return nil, fmt.Errorf("trade executed: %w", err)
	}
	trader, ok := values[2].(common.Address)
	if !ok {
		return nil, fmt.Errorf("trade executed: trader type mismatch")
	}
	isBuy, ok := values[3].(bool)
	if !ok {
		return nil, fmt.Errorf("trade executed: isBuy type mismatch")
	}

	amounts := make([]*big.Int, 5)
	labels := []string{"tokensDelta", "sharesDelta", "newPrice", "newModelSupply", "newMarketSupply"}
	for i := 0; i < 5; i++ {
		amount, ok := values[4+i].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("trade executed: %s type mismatch", labels[i])
		}
		amounts[i] = amount
	}

	return TradeExecuted{
		MarketID:        marketID,
		ModelIdx:        modelIdx,
		Trader:          trader.Hex(),
		IsBuy:           isBuy,
		TokensDelta:     amounts[0],
		SharesDelta:     amounts[1],
		NewPrice:        amounts[2],
		NewModelSupply:  amounts[3],
		NewMarketSupply: amounts[4],
	}, nil
}

func (d *Decoder) decodeWinnersSubmitted(log types.Log) (Event, error) {
	if len(log.Topics) < 2 {
		return nil, fmt.Errorf("winners submitted: missing indexed market id")
	}
	marketID, err := marketIDFromTopic(log.Topics[1])
	if err != nil {
		return nil, fmt.Errorf("winners submitted: %w", err)
	}

	values, err := d.abi.Events["WinnersSubmitted"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("winners submitted: unpack: %w", err)
	}
	winningIdx, err := uint64FromBig(values[0], "winning model idx")
	if err != nil {
		return nil, fmt.Errorf("winners submitted: %w", err)
	}

	return MarketSettled{
		MarketID:        marketID,
		WinningModelIdx: winningIdx,
	}, nil
}

func marketIDFromTopic(topic common.Hash) (uint64, error) {
	return uint64FromBig(new(big.Int).SetBytes(topic.Bytes()), "market id")
}

func uint64FromBig(value interface{}, label string) (uint64, error) {
	v, ok := value.(*big.Int)
	if !ok {
		return 0, fmt.Errorf("%s type mismatch", label)
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%s does not fit in uint64: %s", label, v)
	}
	return v.Uint64(), nil
}

// NormalizeAddress converts an address string into canonical checksummed form.
func NormalizeAddress(input string) (string, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return "", fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input).Hex(), nil
}
