package loans

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/native/common"
)

// swapExactIn trades amountIn through an allowed swapper and verifies the
// engine's balance moved by exactly the reported output.
func (e *Engine) swapExactIn(assetIn, assetOut ethcommon.Address, amountIn *big.Int, params SwapParams) (*big.Int, error) {
	if amountIn.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if !e.IsSwapperAllowed(params.Swapper) {
		return nil, ErrSwapperNotAllowed
	}
	swapper, err := e.swappers.Lookup(params.Swapper)
	if err != nil {
		return nil, err
	}
	minOut := common.Clone(params.MinAmountOut)
	before, err := e.tokens.BalanceOf(assetOut, e.cfg.Address)
	if err != nil {
		return nil, err
	}
	if err := e.tokens.Approve(assetIn, e.cfg.Address, params.Swapper, amountIn); err != nil {
		return nil, err
	}
	amountOut, err := swapper.Swap(e.cfg.Address, assetIn, assetOut, amountIn, minOut, params.ExtraData)
	if err != nil {
		return nil, err
	}
	after, err := e.tokens.BalanceOf(assetOut, e.cfg.Address)
	if err != nil {
		return nil, err
	}
	if new(big.Int).Sub(after, before).Cmp(amountOut) != 0 {
		return nil, ErrBalanceMismatch
	}
	if amountOut.Cmp(minOut) < 0 {
		return nil, ErrSlippage
	}
	if err := e.checkSwapPrice(assetIn, amountIn, amountOut); err != nil {
		return nil, err
	}
	return amountOut, nil
}

// checkSwapPrice rejects fills more than MaxSwapPriceDeviationBips away from
// the oracle's current conversion.
func (e *Engine) checkSwapPrice(assetIn ethcommon.Address, amountIn, amountOut *big.Int) error {
	priceOracle := e.taker.Oracle()
	if priceOracle == nil {
		return ErrEngineNotConfigured
	}
	price, err := priceOracle.CurrentPrice()
	if err != nil {
		return err
	}
	var expected *big.Int
	if assetIn == e.cfg.Underlying {
		expected, err = priceOracle.ConvertToQuoteAmount(amountIn, price)
	} else {
		expected, err = priceOracle.ConvertToBaseAmount(amountIn, price)
	}
	if err != nil {
		return err
	}
	if expected.Sign() == 0 {
		if amountOut.Sign() == 0 {
			return nil
		}
		return ErrSwapPriceDeviation
	}
	diff := new(big.Int).Sub(amountOut, expected)
	diff.Abs(diff)
	deviation, err := common.MulDiv(diff, big.NewInt(common.BIPS), expected)
	if err != nil {
		return err
	}
	if deviation.Cmp(big.NewInt(MaxSwapPriceDeviationBips)) > 0 {
		return ErrSwapPriceDeviation
	}
	return nil
}
