package market

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func buildLog(topic0 common.Hash, topics []common.Hash, data []byte) types.Log {
	return types.Log{
		Address:     common.HexToAddress("0x4444444444444444444444444444444444444444"),
		Topics:      append([]common.Hash{topic0}, topics...),
		Data:        data,
		BlockNumber: 1234,
		TxHash:      common.HexToHash("0xdead"),
		Index:       7,
	}
}

func TestDecodeNewMarket(t *testing.T) {
	contractABI, err := ContractABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	hash := [32]byte{0xaa, 0xbb}
	data, err := contractABI.Events["NewMarket"].Inputs.NonIndexed().Pack(
		"ipfs://QmMarketConfig",
		hash,
	)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	log := buildLog(contractABI.Events["NewMarket"].ID,
		[]common.Hash{common.BigToHash(big.NewInt(42))}, data)

	event, err := decoder.Decode(log)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	created, ok := event.(MarketCreated)
	if !ok {
		t.Fatalf("decoded type mismatch: %T", event)
	}

	if created.MarketID != 42 {
		t.Fatalf("market id: got %d, want 42", created.MarketID)
	}
	if created.ConfigURI != "ipfs://QmMarketConfig" {
		t.Fatalf("config uri: %s", created.ConfigURI)
	}
	if created.ConfigURIHash != common.BytesToHash(hash[:]).Hex() {
		t.Fatalf("config uri hash: %s", created.ConfigURIHash)
	}
}

func TestDecodeTradeExecuted(t *testing.T) {
	contractABI, err := ContractABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	trader := common.HexToAddress("0x2222222222222222222222222222222222222222")
	data, err := contractABI.Events["TradeExecuted"].Inputs.Pack(
		big.NewInt(3),
		big.NewInt(1),
		trader,
		true,
		big.NewInt(5000),
		big.NewInt(100),
		big.NewInt(250_000_000_000_000_000),
		big.NewInt(700),
		big.NewInt(900),
	)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	log := buildLog(contractABI.Events["TradeExecuted"].ID, nil, data)

	event, err := decoder.Decode(log)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	trade, ok := event.(TradeExecuted)
	if !ok {
		t.Fatalf("decoded type mismatch: %T", event)
	}

	if trade.MarketID != 3 || trade.ModelIdx != 1 {
		t.Fatalf("ids: market=%d model=%d", trade.MarketID, trade.ModelIdx)
	}
	if trade.Trader != trader.Hex() {
		t.Fatalf("trader: %s", trade.Trader)
	}
	if !trade.IsBuy {
		t.Fatalf("isBuy: got false, want true")
	}
	if trade.TokensDelta.Int64() != 5000 || trade.SharesDelta.Int64() != 100 {
		t.Fatalf("amounts: tokens=%s shares=%s", trade.TokensDelta, trade.SharesDelta)
	}
	if trade.NewModelSupply.Int64() != 700 || trade.NewMarketSupply.Int64() != 900 {
		t.Fatalf("supplies: model=%s market=%s", trade.NewModelSupply, trade.NewMarketSupply)
	}
}

func TestDecodeWinnersSubmitted(t *testing.T) {
	contractABI, err := ContractABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	data, err := contractABI.Events["WinnersSubmitted"].Inputs.NonIndexed().Pack(
		big.NewInt(2),
	)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	log := buildLog(contractABI.Events["WinnersSubmitted"].ID,
		[]common.Hash{common.BigToHash(big.NewInt(9))}, data)

	event, err := decoder.Decode(log)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	settled, ok := event.(MarketSettled)
	if !ok {
		t.Fatalf("decoded type mismatch: %T", event)
	}

	if settled.MarketID != 9 || settled.WinningModelIdx != 2 {
		t.Fatalf("settle: market=%d winner=%d", settled.MarketID, settled.WinningModelIdx)
	}
}

func TestDecodeUnknownTopicSkipped(t *testing.T) {
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	log := buildLog(common.HexToHash("0x1234"), nil, nil)
	event, err := decoder.Decode(log)
	if err != nil {
		t.Fatalf("unknown topic must not error: %v", err)
	}
	if event != nil {
		t.Fatalf("unknown topic must decode to nil, got %T", event)
	}
}

func TestImpliedProbability(t *testing.T) {
	// 0.25e18 fixed point is 25 percent.
	price, _ := new(big.Int).SetString("250000000000000000", 10)
	got := ImpliedProbability(price)
	if got < 24.999 || got > 25.001 {
		t.Fatalf("implied probability: got %f, want 25", got)
	}
}

func TestNormalizeAddress(t *testing.T) {
	normalized, err := NormalizeAddress(" 0x2222222222222222222222222222222222222222 ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if normalized != common.HexToAddress("0x2222222222222222222222222222222222222222").Hex() {
		t.Fatalf("normalized: %s", normalized)
	}

	if _, err := NormalizeAddress("not-an-address"); err == nil {
		t.Fatalf("expected error for invalid address")
	}
}
