package escrow

import (
	"math/big"
	"strconv"

	"collarfi/core/types"
)

const (
	EventTypeOfferCreated = "escrow.offer.created"
	EventTypeOfferUpdated = "escrow.offer.updated"
	EventTypeStarted      = "escrow.started"
	EventTypeReleased     = "escrow.released"
	EventTypeSwitched     = "escrow.switched"
	EventTypeWithdrawn    = "escrow.withdrawn"
	EventTypeSeized       = "escrow.seized"
)

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }

func NewOfferCreatedEvent(o *Offer) *types.Event {
	return types.NewEvent(EventTypeOfferCreated).
		Set("offerId", formatID(o.ID)).
		Set("supplier", o.Supplier.Hex()).
		Set("available", o.Available.String()).
		Set("duration", strconv.FormatUint(o.Duration, 10)).
		Set("interestAPR", strconv.FormatUint(o.InterestAPR, 10)).
		Set("maxGracePeriod", strconv.FormatUint(o.MaxGracePeriod, 10)).
		Set("lateFeeAPR", strconv.FormatUint(o.LateFeeAPR, 10)).
		Set("minEscrow", o.MinEscrow.String())
}

func NewOfferUpdatedEvent(o *Offer, previous *big.Int) *types.Event {
	return types.NewEvent(EventTypeOfferUpdated).
		Set("offerId", formatID(o.ID)).
		Set("previous", previous.String()).
		Set("available", o.Available.String())
}

func NewStartedEvent(e *Escrow, fee *big.Int) *types.Event {
	return types.NewEvent(EventTypeStarted).
		Set("escrowId", formatID(e.ID)).
		Set("offerId", formatID(e.OfferID)).
		Set("loans", e.Loans.Hex()).
		Set("loanId", formatID(e.LoanID)).
		Set("escrowed", e.Escrowed.String()).
		Set("fee", fee.String()).
		Set("expiration", strconv.FormatUint(e.Expiration, 10))
}

func NewReleasedEvent(e *Escrow, fromLoans *big.Int, r *Release) *types.Event {
	return types.NewEvent(EventTypeReleased).
		Set("escrowId", formatID(e.ID)).
		Set("fromLoans", fromLoans.String()).
		Set("withdrawal", r.Withdrawal.String()).
		Set("toLoans", r.ToLoans.String()).
		Set("interestRefund", r.InterestRefund.String()).
		Set("lateFee", r.LateFee.String())
}

func NewSwitchedEvent(previousID, newID uint64, feeRefund *big.Int) *types.Event {
	return types.NewEvent(EventTypeSwitched).
		Set("previousEscrowId", formatID(previousID)).
		Set("escrowId", formatID(newID)).
		Set("feeRefund", feeRefund.String())
}

func NewWithdrawnEvent(id uint64, amount *big.Int) *types.Event {
	return types.NewEvent(EventTypeWithdrawn).
		Set("escrowId", formatID(id)).
		Set("amount", amount.String())
}

func NewSeizedEvent(id uint64, amount *big.Int) *types.Event {
	return types.NewEvent(EventTypeSeized).
		Set("escrowId", formatID(id)).
		Set("amount", amount.String())
}
