package provider

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

const (
	MinCallStrikeBips = 10_001
	MaxCallStrikeBips = 100_000
	MaxPutStrikeBips  = 9_999
)

// Offer is liquidity a provider makes available for paired positions.
type Offer struct {
	ID                uint64
	Provider          ethcommon.Address
	Available         *big.Int
	PutStrikePercent  uint64
	CallStrikePercent uint64
	Duration          uint64
	MinLocked         *big.Int
}

// Position is the provider leg of a paired position.
type Position struct {
	ID                uint64
	TakerID           uint64
	OfferID           uint64
	Duration          uint64
	Expiration        uint64
	PutStrikePercent  uint64
	CallStrikePercent uint64
	ProviderLocked    *big.Int
	Settled           bool
	Withdrawable      *big.Int
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
