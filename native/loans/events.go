package loans

import (
	"math/big"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/core/types"
)

const (
	EventTypeLoanOpened     = "loans.opened"
	EventTypeLoanClosed     = "loans.closed"
	EventTypeLoanRolled     = "loans.rolled"
	EventTypeLoanCancelled  = "loans.cancelled"
	EventTypeLoanForeclosed = "loans.foreclosed"
	EventTypeKeeperApproval = "loans.keeper_approval"
	EventTypeSwapperAllowed = "loans.swapper_allowed"
	EventTypeEscrowReleased = "loans.escrow_released"
)

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }

func NewLoanOpenedEvent(l *Loan, borrower ethcommon.Address, providerID uint64) *types.Event {
	return types.NewEvent(EventTypeLoanOpened).
		Set("loanId", formatID(l.ID)).
		Set("borrower", borrower.Hex()).
		Set("providerId", formatID(providerID)).
		Set("underlyingAmount", l.UnderlyingAmount.String()).
		Set("loanAmount", l.LoanAmount.String()).
		Set("usesEscrow", strconv.FormatBool(l.UsesEscrow)).
		Set("escrowId", formatID(l.EscrowID))
}

func NewLoanClosedEvent(l *Loan, caller, borrower ethcommon.Address, repayment, cashAmount, underlyingOut *big.Int) *types.Event {
	return types.NewEvent(EventTypeLoanClosed).
		Set("loanId", formatID(l.ID)).
		Set("caller", caller.Hex()).
		Set("borrower", borrower.Hex()).
		Set("repayment", repayment.String()).
		Set("cashAmount", cashAmount.String()).
		Set("underlyingOut", underlyingOut.String())
}

func NewLoanRolledEvent(previous *Loan, r *Rolled, rollID uint64) *types.Event {
	return types.NewEvent(EventTypeLoanRolled).
		Set("loanId", formatID(previous.ID)).
		Set("rollId", formatID(rollID)).
		Set("newLoanId", formatID(r.NewLoanID)).
		Set("previousLoanAmount", previous.LoanAmount.String()).
		Set("newLoanAmount", r.NewLoanAmount.String()).
		Set("toUser", r.ToUser.String())
}

func NewLoanCancelledEvent(l *Loan, borrower ethcommon.Address) *types.Event {
	return types.NewEvent(EventTypeLoanCancelled).
		Set("loanId", formatID(l.ID)).
		Set("borrower", borrower.Hex())
}

func NewLoanForeclosedEvent(l *Loan, caller ethcommon.Address, cashAmount, toBorrower *big.Int) *types.Event {
	return types.NewEvent(EventTypeLoanForeclosed).
		Set("loanId", formatID(l.ID)).
		Set("caller", caller.Hex()).
		Set("cashAmount", cashAmount.String()).
		Set("toBorrower", toBorrower.String())
}

func NewKeeperApprovalEvent(owner, keeper ethcommon.Address, loanID uint64, enabled bool) *types.Event {
	return types.NewEvent(EventTypeKeeperApproval).
		Set("owner", owner.Hex()).
		Set("keeper", keeper.Hex()).
		Set("loanId", formatID(loanID)).
		Set("enabled", strconv.FormatBool(enabled))
}

func NewSwapperAllowedEvent(swapper ethcommon.Address, allowed bool) *types.Event {
	return types.NewEvent(EventTypeSwapperAllowed).
		Set("swapper", swapper.Hex()).
		Set("allowed", strconv.FormatBool(allowed))
}

func NewEscrowReleasedEvent(loanID, escrowID uint64, fromLoans, toUser *big.Int) *types.Event {
	return types.NewEvent(EventTypeEscrowReleased).
		Set("loanId", formatID(loanID)).
		Set("escrowId", formatID(escrowID)).
		Set("fromLoans", fromLoans.String()).
		Set("toUser", toUser.String())
}
