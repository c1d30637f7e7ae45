package taker

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/native/common"
)

// Position is the taker leg of a paired position. The provider leg is
// referenced explicitly by contract and id.
type Position struct {
	ID                uint64
	ProviderContract  ethcommon.Address
	ProviderID        uint64
	Duration          uint64
	Expiration        uint64
	StartPrice        *big.Int
	PutStrikePercent  uint64
	CallStrikePercent uint64
	TakerLocked       *big.Int
	ProviderLocked    *big.Int
	Settled           bool
	Withdrawable      *big.Int
}

// PutStrikePrice returns startPrice*putStrikePercent/BIPS.
func (p *Position) PutStrikePrice() *big.Int {
	out, err := common.MulDiv(p.StartPrice, new(big.Int).SetUint64(p.PutStrikePercent), big.NewInt(common.BIPS))
	if err != nil {
		return big.NewInt(0)
	}
	return out
}

// CallStrikePrice returns startPrice*callStrikePercent/BIPS.
func (p *Position) CallStrikePrice() *big.Int {
	out, err := common.MulDiv(p.StartPrice, new(big.Int).SetUint64(p.CallStrikePercent), big.NewInt(common.BIPS))
	if err != nil {
		return big.NewInt(0)
	}
	return out
}

// Settlement describes the outcome of settling a position at a price.
type Settlement struct {
	EndPrice      *big.Int
	TakerBalance  *big.Int
	ProviderDelta *big.Int
}

// CalculateProviderLocked sizes the provider leg so that the taker's maximum
// gain at the call strike equals it, given the taker's loss at the put strike
// equals takerLocked.
func CalculateProviderLocked(takerLocked *big.Int, putStrikePercent, callStrikePercent uint64) (*big.Int, error) {
	if putStrikePercent >= common.BIPS || callStrikePercent <= common.BIPS {
		return nil, ErrInvalidStrikes
	}
	return common.MulDiv(takerLocked,
		new(big.Int).SetUint64(callStrikePercent-common.BIPS),
		new(big.Int).SetUint64(common.BIPS-putStrikePercent))
}

// CalculateSettlement splits the position's locked cash at endPrice. The price
// is clamped to the strike range; the provider's gain below the start price
// rounds up and the taker's gain above it rounds down, so the taker's share
// is always rounded down and the total is conserved exactly.
func CalculateSettlement(p *Position, endPrice *big.Int) (*Settlement, error) {
	if p == nil || p.StartPrice == nil || endPrice == nil {
		return nil, ErrInvalidPrice
	}
	start := p.StartPrice
	putPrice := p.PutStrikePrice()
	callPrice := p.CallStrikePrice()
	if putPrice.Cmp(start) >= 0 || callPrice.Cmp(start) <= 0 {
		return nil, ErrInvalidStrikes
	}
	price := new(big.Int).Set(endPrice)
	if price.Cmp(callPrice) > 0 {
		price.Set(callPrice)
	}
	if price.Cmp(putPrice) < 0 {
		price.Set(putPrice)
	}

	takerBalance := new(big.Int).Set(p.TakerLocked)
	var delta *big.Int
	if price.Cmp(start) < 0 {
		gain, err := common.MulDivUp(p.TakerLocked, new(big.Int).Sub(start, price), new(big.Int).Sub(start, putPrice))
		if err != nil {
			return nil, err
		}
		takerBalance.Sub(takerBalance, gain)
		delta = gain
	} else {
		gain, err := common.MulDiv(p.ProviderLocked, new(big.Int).Sub(price, start), new(big.Int).Sub(callPrice, start))
		if err != nil {
			return nil, err
		}
		takerBalance.Add(takerBalance, gain)
		delta = new(big.Int).Neg(gain)
	}
	return &Settlement{EndPrice: price, TakerBalance: takerBalance, ProviderDelta: delta}, nil
}
