package loans

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// MaxSwapPriceDeviationBips bounds how far a realised swap price may stray
// from the oracle price.
const MaxSwapPriceDeviationBips = 1_000

// Loan is the borrower-facing wrapper around one taker position. Its id is
// the taker position id.
type Loan struct {
	ID               uint64
	UnderlyingAmount *big.Int
	LoanAmount       *big.Int
	UsesEscrow       bool
	EscrowID         uint64
	Closed           bool
}

// OpenParams are the borrower's inputs to OpenLoan and OpenEscrowLoan.
type OpenParams struct {
	UnderlyingAmount *big.Int
	MinLoanAmount    *big.Int
	Swap             SwapParams
	ProviderOfferID  uint64
	// Escrow loans only.
	EscrowOfferID uint64
	EscrowFee     *big.Int
}

// SwapParams selects an allowed swapper and its bounds.
type SwapParams struct {
	Swapper      ethcommon.Address
	MinAmountOut *big.Int
	ExtraData    []byte
}

// Opened reports the ids and amounts of a new loan.
type Opened struct {
	LoanID     uint64
	ProviderID uint64
	LoanAmount *big.Int
	EscrowID   uint64
}

// Rolled reports the replacement loan created by RollLoan.
type Rolled struct {
	NewLoanID     uint64
	NewLoanAmount *big.Int
	ToUser        *big.Int
	EscrowID      uint64
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
