package loans

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/native/common"
)

func (e *Engine) checkContracts() error {
	underlying, cash := e.cfg.Underlying, e.cfg.Cash
	if !e.hub.CanOpenPair(underlying, cash, e.cfg.Address) {
		return ErrUnsupportedLoans
	}
	if !e.hub.CanOpenPair(underlying, cash, e.taker.Address()) {
		return ErrUnsupportedTaker
	}
	return nil
}

func validateOpen(p *OpenParams) error {
	if p.UnderlyingAmount == nil || p.UnderlyingAmount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if p.MinLoanAmount == nil {
		p.MinLoanAmount = big.NewInt(0)
	}
	return nil
}

// OpenLoan swaps the caller's underlying to cash, keeps the put-strike share
// of it as the loan and locks the rest in a paired position against the
// provider offer. The loan token, id equal to the taker id, goes to caller.
func (e *Engine) OpenLoan(caller ethcommon.Address, p OpenParams) (*Opened, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if err := e.checkContracts(); err != nil {
		return nil, err
	}
	if err := validateOpen(&p); err != nil {
		return nil, err
	}
	if err := e.tokens.TransferFrom(e.cfg.Underlying, e.cfg.Address, caller, e.cfg.Address, p.UnderlyingAmount); err != nil {
		return nil, err
	}
	return e.openLoan(caller, p, nil)
}

// OpenEscrowLoan opens a loan against an escrow supplier's underlying. The
// caller's underlying and the escrow fee stay in escrow; the supplier's
// equal amount is swapped instead.
func (e *Engine) OpenEscrowLoan(caller ethcommon.Address, p OpenParams) (*Opened, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if e.escrow == nil {
		return nil, ErrEngineNotConfigured
	}
	if err := e.checkContracts(); err != nil {
		return nil, err
	}
	if !e.hub.CanOpenSingle(e.cfg.Underlying, e.escrow.Address()) {
		return nil, ErrUnsupportedEscrow
	}
	if err := validateOpen(&p); err != nil {
		return nil, err
	}
	if p.EscrowFee == nil || p.EscrowFee.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	escrowOffer, err := e.escrow.Offer(p.EscrowOfferID)
	if err != nil {
		return nil, err
	}
	providerOffer, err := e.provider.Offer(p.ProviderOfferID)
	if err != nil {
		return nil, err
	}
	if escrowOffer.Duration != providerOffer.Duration {
		return nil, ErrDurationMismatch
	}
	deposit := new(big.Int).Add(p.UnderlyingAmount, p.EscrowFee)
	if err := e.tokens.TransferFrom(e.cfg.Underlying, e.cfg.Address, caller, e.cfg.Address, deposit); err != nil {
		return nil, err
	}
	expectedID := e.taker.NextPositionID()
	if err := e.tokens.Approve(e.cfg.Underlying, e.cfg.Address, e.escrow.Address(), deposit); err != nil {
		return nil, err
	}
	escrowID, err := e.escrow.StartEscrow(e.cfg.Address, p.EscrowOfferID, p.UnderlyingAmount, p.EscrowFee, expectedID)
	if err != nil {
		return nil, err
	}
	opened, err := e.openLoan(caller, p, &escrowID)
	if err != nil {
		return nil, err
	}
	if opened.LoanID != expectedID {
		return nil, ErrLoanIDMismatch
	}
	return opened, nil
}

func (e *Engine) openLoan(caller ethcommon.Address, p OpenParams, escrowID *uint64) (*Opened, error) {
	offer, err := e.provider.Offer(p.ProviderOfferID)
	if err != nil {
		return nil, err
	}
	cashAmount, err := e.swapExactIn(e.cfg.Underlying, e.cfg.Cash, p.UnderlyingAmount, p.Swap)
	if err != nil {
		return nil, err
	}
	loanAmount, err := common.ApplyBips(cashAmount, offer.PutStrikePercent)
	if err != nil {
		return nil, err
	}
	if loanAmount.Cmp(p.MinLoanAmount) < 0 {
		return nil, ErrLoanTooLow
	}
	takerLocked := new(big.Int).Sub(cashAmount, loanAmount)
	if err := e.tokens.Approve(e.cfg.Cash, e.cfg.Address, e.taker.Address(), takerLocked); err != nil {
		return nil, err
	}
	loanID, providerID, err := e.taker.OpenPairedPosition(e.cfg.Address, takerLocked, p.ProviderOfferID)
	if err != nil {
		return nil, err
	}
	loan := &Loan{
		ID:               loanID,
		UnderlyingAmount: cloneBig(p.UnderlyingAmount),
		LoanAmount:       loanAmount,
	}
	if escrowID != nil {
		loan.UsesEscrow = true
		loan.EscrowID = *escrowID
	}
	if err := e.storeLoan(loan); err != nil {
		return nil, err
	}
	if err := e.nfts.Mint(e.cfg.Address, caller, loanID); err != nil {
		return nil, err
	}
	e.emit(NewLoanOpenedEvent(loan, caller, providerID))
	if err := e.tokens.Transfer(e.cfg.Cash, e.cfg.Address, caller, loanAmount); err != nil {
		return nil, err
	}
	return &Opened{LoanID: loanID, ProviderID: providerID, LoanAmount: loanAmount, EscrowID: loan.EscrowID}, nil
}

// activeLoan loads a loan that has not been closed and its current owner.
func (e *Engine) activeLoan(id uint64) (*Loan, ethcommon.Address, error) {
	loan, err := e.Loan(id)
	if err != nil {
		return nil, ethcommon.Address{}, err
	}
	if loan.Closed {
		return nil, ethcommon.Address{}, ErrLoanClosed
	}
	borrower, err := e.nfts.OwnerOf(e.cfg.Address, id)
	if err != nil {
		return nil, ethcommon.Address{}, ErrLoanClosed
	}
	return loan, borrower, nil
}

// closeRecord marks the loan closed and burns its token before any funds
// move, so re-entrant calls observe a closed loan.
func (e *Engine) closeRecord(loan *Loan) error {
	loan.Closed = true
	if err := e.storeLoan(loan); err != nil {
		return err
	}
	return e.nfts.Burn(e.cfg.Address, loan.ID)
}

func (e *Engine) settleAndWithdraw(id uint64) (*big.Int, error) {
	pos, err := e.taker.Position(id)
	if err != nil {
		return nil, err
	}
	if !pos.Settled {
		if _, err := e.taker.SettlePairedPosition(e.cfg.Address, id); err != nil {
			return nil, err
		}
	}
	return e.taker.WithdrawFromSettled(e.cfg.Address, id)
}

// releaseEscrow returns fromLoans underlying to the escrow and what the
// escrow sends back for the borrower. A seized escrow keeps nothing more.
func (e *Engine) releaseEscrow(loan *Loan, fromLoans *big.Int) (*big.Int, error) {
	if !loan.UsesEscrow {
		return fromLoans, nil
	}
	esc, err := e.escrow.Escrow(loan.EscrowID)
	if err != nil {
		return nil, err
	}
	if esc.Released {
		return fromLoans, nil
	}
	if err := e.tokens.Approve(e.cfg.Underlying, e.cfg.Address, e.escrow.Address(), fromLoans); err != nil {
		return nil, err
	}
	toUser, err := e.escrow.EndEscrow(e.cfg.Address, loan.EscrowID, fromLoans)
	if err != nil {
		return nil, err
	}
	e.emit(NewEscrowReleasedEvent(loan.ID, loan.EscrowID, fromLoans, toUser))
	return toUser, nil
}

// CloseLoan repays the loan from the borrower, settles the position when it
// has not been settled yet and swaps everything back to underlying for the
// borrower. The borrower or their approved keeper may call.
func (e *Engine) CloseLoan(caller ethcommon.Address, id uint64, swapParams SwapParams) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	loan, borrower, err := e.activeLoan(id)
	if err != nil {
		return nil, err
	}
	if caller != borrower {
		keeper, ok := e.KeeperFor(id, borrower)
		if !ok || keeper != caller {
			return nil, ErrNotOwnerOrKeeper
		}
	}
	if err := e.closeRecord(loan); err != nil {
		return nil, err
	}
	if err := e.tokens.TransferFrom(e.cfg.Cash, e.cfg.Address, borrower, e.cfg.Address, loan.LoanAmount); err != nil {
		return nil, err
	}
	withdrawn, err := e.settleAndWithdraw(id)
	if err != nil {
		return nil, err
	}
	cashAmount := new(big.Int).Add(loan.LoanAmount, withdrawn)
	underlyingOut, err := e.swapExactIn(e.cfg.Cash, e.cfg.Underlying, cashAmount, swapParams)
	if err != nil {
		return nil, err
	}
	underlyingOut, err = e.releaseEscrow(loan, underlyingOut)
	if err != nil {
		return nil, err
	}
	e.emit(NewLoanClosedEvent(loan, caller, borrower, loan.LoanAmount, cashAmount, underlyingOut))
	if err := e.tokens.Transfer(e.cfg.Underlying, e.cfg.Address, borrower, underlyingOut); err != nil {
		return nil, err
	}
	return underlyingOut, nil
}

// RollLoan executes roll offer rollID on the loan's position and reissues
// the loan under the new taker id. The loan amount grows by what the
// borrower receives plus the roll fee. Escrow loans switch to a new escrow
// offer, paying newEscrowFee and receiving the old escrow's refund.
func (e *Engine) RollLoan(caller ethcommon.Address, id, rollID uint64, minToUser *big.Int, newEscrowOfferID uint64, newEscrowFee *big.Int) (*Rolled, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if e.rolls == nil {
		return nil, ErrEngineNotConfigured
	}
	if minToUser == nil {
		return nil, ErrInvalidAmount
	}
	if !e.hub.CanOpenPair(e.cfg.Underlying, e.cfg.Cash, e.rolls.Address()) {
		return nil, ErrUnsupportedRolls
	}
	loan, borrower, err := e.activeLoan(id)
	if err != nil {
		return nil, err
	}
	if caller != borrower {
		return nil, ErrNotLoanOwner
	}
	offer, err := e.rolls.Offer(rollID)
	if err != nil {
		return nil, err
	}
	if offer.TakerID != id {
		return nil, ErrInvalidRollOffer
	}
	if loan.UsesEscrow {
		if e.escrow == nil {
			return nil, ErrEngineNotConfigured
		}
		if newEscrowFee == nil || newEscrowFee.Sign() < 0 {
			return nil, ErrInvalidAmount
		}
		pos, err := e.taker.Position(id)
		if err != nil {
			return nil, err
		}
		escrowOffer, err := e.escrow.Offer(newEscrowOfferID)
		if err != nil {
			return nil, err
		}
		if escrowOffer.Duration != pos.Duration {
			return nil, ErrDurationMismatch
		}
	}
	priceOracle := e.taker.Oracle()
	if priceOracle == nil {
		return nil, ErrEngineNotConfigured
	}
	price, err := priceOracle.CurrentPrice()
	if err != nil {
		return nil, err
	}
	preview, err := e.rolls.PreviewRoll(rollID, price)
	if err != nil {
		return nil, err
	}

	if err := e.closeRecord(loan); err != nil {
		return nil, err
	}
	if preview.ToTaker.Sign() < 0 {
		owed := new(big.Int).Neg(preview.ToTaker)
		if err := e.tokens.TransferFrom(e.cfg.Cash, e.cfg.Address, caller, e.cfg.Address, owed); err != nil {
			return nil, err
		}
		if err := e.tokens.Approve(e.cfg.Cash, e.cfg.Address, e.rolls.Address(), owed); err != nil {
			return nil, err
		}
	}
	if err := e.nfts.Approve(e.taker.Address(), e.cfg.Address, e.rolls.Address(), id); err != nil {
		return nil, err
	}
	result, err := e.rolls.ExecuteRoll(e.cfg.Address, rollID, minToUser)
	if err != nil {
		return nil, err
	}
	newLoanAmount := new(big.Int).Add(loan.LoanAmount, result.ToTaker)
	newLoanAmount.Add(newLoanAmount, result.RollFee)
	if newLoanAmount.Sign() < 0 {
		return nil, ErrNegativeLoan
	}
	next := &Loan{
		ID:               result.NewTakerID,
		UnderlyingAmount: cloneBig(loan.UnderlyingAmount),
		LoanAmount:       newLoanAmount,
	}
	var feeRefund *big.Int
	if loan.UsesEscrow {
		next.UsesEscrow = true
		next.EscrowID, feeRefund, err = e.switchEscrow(caller, loan, newEscrowOfferID, newEscrowFee, next.ID)
		if err != nil {
			return nil, err
		}
	}
	if err := e.storeLoan(next); err != nil {
		return nil, err
	}
	if err := e.nfts.Mint(e.cfg.Address, caller, next.ID); err != nil {
		return nil, err
	}
	rolled := &Rolled{NewLoanID: next.ID, NewLoanAmount: newLoanAmount, ToUser: result.ToTaker, EscrowID: next.EscrowID}
	e.emit(NewLoanRolledEvent(loan, rolled, rollID))
	if result.ToTaker.Sign() > 0 {
		if err := e.tokens.Transfer(e.cfg.Cash, e.cfg.Address, caller, result.ToTaker); err != nil {
			return nil, err
		}
	}
	if common.IsPositive(feeRefund) {
		if err := e.tokens.Transfer(e.cfg.Underlying, e.cfg.Address, caller, feeRefund); err != nil {
			return nil, err
		}
	}
	return rolled, nil
}

func (e *Engine) switchEscrow(caller ethcommon.Address, loan *Loan, offerID uint64, fee *big.Int, newLoanID uint64) (uint64, *big.Int, error) {
	if err := e.tokens.TransferFrom(e.cfg.Underlying, e.cfg.Address, caller, e.cfg.Address, fee); err != nil {
		return 0, nil, err
	}
	if err := e.tokens.Approve(e.cfg.Underlying, e.cfg.Address, e.escrow.Address(), fee); err != nil {
		return 0, nil, err
	}
	return e.escrow.SwitchEscrow(e.cfg.Address, loan.EscrowID, offerID, fee, newLoanID)
}

// UnwrapAndCancelLoan hands the taker token to the borrower without
// repayment. An unreleased escrow is released with nothing returned, so the
// borrower only recovers any unearned interest.
func (e *Engine) UnwrapAndCancelLoan(caller ethcommon.Address, id uint64) error {
	if err := e.guard(); err != nil {
		return err
	}
	loan, borrower, err := e.activeLoan(id)
	if err != nil {
		return err
	}
	if caller != borrower {
		return ErrNotLoanOwner
	}
	if err := e.closeRecord(loan); err != nil {
		return err
	}
	refund, err := e.releaseEscrow(loan, big.NewInt(0))
	if err != nil {
		return err
	}
	e.emit(NewLoanCancelledEvent(loan, caller))
	if refund.Sign() > 0 {
		if err := e.tokens.Transfer(e.cfg.Underlying, e.cfg.Address, caller, refund); err != nil {
			return err
		}
	}
	return e.nfts.SafeTransferFrom(e.taker.Address(), e.cfg.Address, e.cfg.Address, caller, id, nil)
}

// ForecloseLoan lets the escrow owner close an escrow loan once the grace
// period after expiration has passed. The position is settled and swapped to
// underlying to repay the escrow; anything left goes to the borrower.
func (e *Engine) ForecloseLoan(caller ethcommon.Address, id uint64, swapParams SwapParams) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if e.escrow == nil {
		return nil, ErrEngineNotConfigured
	}
	loan, borrower, err := e.activeLoan(id)
	if err != nil {
		return nil, err
	}
	if !loan.UsesEscrow {
		return nil, ErrNotEscrowLoan
	}
	escrowOwner, err := e.nfts.OwnerOf(e.escrow.Address(), loan.EscrowID)
	if err != nil || escrowOwner != caller {
		return nil, ErrNotEscrowOwner
	}
	graceEnd, err := e.EscrowGracePeriodEnd(id)
	if err != nil {
		return nil, err
	}
	if e.now() <= graceEnd {
		return nil, ErrGracePeriodNotEnded
	}
	if err := e.closeRecord(loan); err != nil {
		return nil, err
	}
	cashAmount, err := e.settleAndWithdraw(id)
	if err != nil {
		return nil, err
	}
	underlyingOut, err := e.swapExactIn(e.cfg.Cash, e.cfg.Underlying, cashAmount, swapParams)
	if err != nil {
		return nil, err
	}
	toBorrower, err := e.releaseEscrow(loan, underlyingOut)
	if err != nil {
		return nil, err
	}
	e.emit(NewLoanForeclosedEvent(loan, caller, cashAmount, toBorrower))
	if err := e.tokens.Transfer(e.cfg.Underlying, e.cfg.Address, borrower, toBorrower); err != nil {
		return nil, err
	}
	return toBorrower, nil
}
