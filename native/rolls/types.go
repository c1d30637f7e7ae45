package rolls

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/native/common"
	"collarfi/native/taker"
)

// MaxFeeDeltaFactorBips bounds how strongly the roll fee follows price.
const MaxFeeDeltaFactorBips = common.BIPS

// Offer is a provider's standing proposal to roll one taker position.
// Signed fields use common.SignedAmount so the record stays RLP encodable.
type Offer struct {
	ID                 uint64
	TakerID            uint64
	ProviderID         uint64
	Provider           ethcommon.Address
	FeeAmount          common.SignedAmount
	FeeDeltaFactorBips common.SignedAmount
	FeeReferencePrice  *big.Int
	MinPrice           *big.Int
	MaxPrice           *big.Int
	MinToProvider      common.SignedAmount
	Deadline           uint64
	Active             bool
}

// OfferParams are the provider-chosen terms of a roll offer.
type OfferParams struct {
	TakerID            uint64
	FeeAmount          *big.Int
	FeeDeltaFactorBips int64
	MinPrice           *big.Int
	MaxPrice           *big.Int
	MinToProvider      *big.Int
	Deadline           uint64
}

// Preview is the outcome of rolling a position at a price. ToTaker and
// ToProvider are signed: negative amounts are paid in by that side.
type Preview struct {
	Price             *big.Int
	TakerPosition     *taker.Position
	TakerSettled      *big.Int
	ProviderSettled   *big.Int
	NewTakerLocked    *big.Int
	NewProviderLocked *big.Int
	RollFee           *big.Int
	ProtocolFee       *big.Int
	ToTaker           *big.Int
	ToProvider        *big.Int
}

// Result identifies the replacement pair created by a roll.
type Result struct {
	NewTakerID    uint64
	NewProviderID uint64
	ToTaker       *big.Int
	ToProvider    *big.Int
	RollFee       *big.Int
}

// CalculateRollFee adjusts the offer's fee linearly with the move of price
// away from the reference price. Division truncates toward zero.
func CalculateRollFee(offer *Offer, price *big.Int) *big.Int {
	fee := offer.FeeAmount.Int()
	ref := offer.FeeReferencePrice
	if ref == nil || ref.Sign() == 0 || price == nil {
		return fee
	}
	delta := new(big.Int).Mul(fee, offer.FeeDeltaFactorBips.Int())
	delta.Mul(delta, new(big.Int).Sub(price, ref))
	delta.Quo(delta, new(big.Int).Mul(ref, big.NewInt(common.BIPS)))
	return fee.Add(fee, delta)
}
