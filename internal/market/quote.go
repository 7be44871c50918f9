package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ContractCaller performs read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// Quoter asks the market contract what selling a holding would return.
// It implements accounting.SellQuoter.
type Quoter struct {
	caller   ContractCaller
	contract common.Address
	abi      abi.ABI
}

func NewQuoter(caller ContractCaller, contract common.Address) (*Quoter, error) {
	contractABI, err := ContractABI()
	if err != nil {
		return nil, err
	}
	return &Quoter{
		caller:   caller,
		contract: contract,
		abi:      contractABI,
	}, nil
}

func (q *Quoter) QuoteSell(ctx context.Context, marketID, modelIdx uint64, shares *big.Int) (*big.Int, error) {
	input, err := q.abi.Pack("quoteSell",
		new(big.Int).SetUint64(marketID),
		new(big.Int).SetUint64(modelIdx),
		shares,
	)
	if err != nil {
		return nil, fmt.Errorf("pack quoteSell: %w", err)
	}

	output, err := q.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &q.contract,
		Data: input,
	})
	if err != nil {
		return nil, fmt.Errorf("call quoteSell: %w", err)
	}

	values, err := q.abi.Unpack("quoteSell", output)
	if err != nil {
		return nil, fmt.Errorf("unpack quoteSell: %w", err)
	}
	tokensOut, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("quoteSell output type mismatch")
	}
	return tokensOut, nil
}
