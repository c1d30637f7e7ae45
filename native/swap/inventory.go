package swap

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/native/common"
	"collarfi/native/oracle"
)

type tokenLedger interface {
	Transfer(asset, from, to ethcommon.Address, amount *big.Int) error
	TransferFrom(asset, spender, from, to ethcommon.Address, amount *big.Int) error
}

// InventorySwapper fills swaps from its own balances at the oracle price less
// a spread.
type InventorySwapper struct {
	address    ethcommon.Address
	tokens     tokenLedger
	oracle     oracle.PriceOracle
	spreadBips uint64
	shortfall  *big.Int
}

// NewInventorySwapper creates a swapper holding inventory at address.
func NewInventorySwapper(address ethcommon.Address, tokens tokenLedger, priceOracle oracle.PriceOracle, spreadBips uint64) *InventorySwapper {
	return &InventorySwapper{address: address, tokens: tokens, oracle: priceOracle, spreadBips: spreadBips}
}

// Address returns the account holding the inventory.
func (s *InventorySwapper) Address() ethcommon.Address { return s.address }

// SetSpread updates the spread charged on every fill.
func (s *InventorySwapper) SetSpread(bips uint64) { s.spreadBips = bips }

// SetShortfall makes the swapper deliver less than it reports. It exists to
// exercise balance verification in callers.
func (s *InventorySwapper) SetShortfall(amount *big.Int) { s.shortfall = common.Clone(amount) }

// Quote returns the output for amountIn at the current oracle price.
func (s *InventorySwapper) Quote(assetIn, assetOut ethcommon.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	price, err := s.oracle.CurrentPrice()
	if err != nil {
		return nil, err
	}
	var gross *big.Int
	switch {
	case assetIn == s.oracle.BaseToken() && assetOut == s.oracle.QuoteToken():
		gross, err = s.oracle.ConvertToQuoteAmount(amountIn, price)
	case assetIn == s.oracle.QuoteToken() && assetOut == s.oracle.BaseToken():
		gross, err = s.oracle.ConvertToBaseAmount(amountIn, price)
	default:
		return nil, ErrUnsupportedPair
	}
	if err != nil {
		return nil, err
	}
	if s.spreadBips >= common.BIPS {
		return big.NewInt(0), nil
	}
	return common.ApplyBips(gross, common.BIPS-s.spreadBips)
}

// Swap implements Swapper.
func (s *InventorySwapper) Swap(caller, assetIn, assetOut ethcommon.Address, amountIn, minAmountOut *big.Int, _ []byte) (*big.Int, error) {
	amountOut, err := s.Quote(assetIn, assetOut, amountIn)
	if err != nil {
		return nil, err
	}
	if minAmountOut != nil && amountOut.Cmp(minAmountOut) < 0 {
		return nil, ErrSlippage
	}
	if err := s.tokens.TransferFrom(assetIn, s.address, caller, s.address, amountIn); err != nil {
		return nil, err
	}
	delivered := common.Clone(amountOut)
	if common.IsPositive(s.shortfall) {
		delivered.Sub(delivered, s.shortfall)
		if delivered.Sign() < 0 {
			delivered.SetInt64(0)
		}
	}
	if err := s.tokens.Transfer(assetOut, s.address, caller, delivered); err != nil {
		return nil, err
	}
	return amountOut, nil
}
