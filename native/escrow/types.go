package escrow

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

const (
	MaxInterestAPRBips = 10_000
	MinGracePeriod     = 24 * 60 * 60
	MaxGracePeriod     = 30 * 24 * 60 * 60
	MaxLateFeeAPRBips  = 12 * 10_000
)

// Offer is underlying a supplier makes available for escrow-backed loans.
type Offer struct {
	ID             uint64
	Supplier       ethcommon.Address
	Available      *big.Int
	Duration       uint64
	InterestAPR    uint64
	MaxGracePeriod uint64
	LateFeeAPR     uint64
	MinEscrow      *big.Int
}

// Escrow is a supplier's stake in a single loan.
type Escrow struct {
	ID             uint64
	OfferID        uint64
	Loans          ethcommon.Address
	LoanID         uint64
	Escrowed       *big.Int
	MaxGracePeriod uint64
	LateFeeAPR     uint64
	Duration       uint64
	Expiration     uint64
	InterestHeld   *big.Int
	Released       bool
	Withdrawable   *big.Int
}

// Release describes how an escrow's balance splits on release.
type Release struct {
	Withdrawal     *big.Int
	ToLoans        *big.Int
	InterestRefund *big.Int
	LateFee        *big.Int
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
