package taker

import (
	"math/big"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/core/types"
)

const (
	EventTypePairedOpened    = "taker.position.opened"
	EventTypePairedSettled   = "taker.position.settled"
	EventTypeWithdrawn       = "taker.position.withdrawn"
	EventTypePairedCancelled = "taker.position.cancelled"
)

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }

func NewPairedOpenedEvent(p *Position, owner ethcommon.Address, offerID uint64) *types.Event {
	return types.NewEvent(EventTypePairedOpened).
		Set("takerId", formatID(p.ID)).
		Set("providerContract", p.ProviderContract.Hex()).
		Set("providerId", formatID(p.ProviderID)).
		Set("offerId", formatID(offerID)).
		Set("owner", owner.Hex()).
		Set("startPrice", p.StartPrice.String()).
		Set("takerLocked", p.TakerLocked.String()).
		Set("providerLocked", p.ProviderLocked.String()).
		Set("expiration", strconv.FormatUint(p.Expiration, 10))
}

func NewPairedSettledEvent(p *Position, s *Settlement, historical bool) *types.Event {
	return types.NewEvent(EventTypePairedSettled).
		Set("takerId", formatID(p.ID)).
		Set("providerId", formatID(p.ProviderID)).
		Set("endPrice", s.EndPrice.String()).
		Set("takerBalance", s.TakerBalance.String()).
		Set("providerDelta", s.ProviderDelta.String()).
		Set("historicalPrice", strconv.FormatBool(historical))
}

func NewWithdrawnEvent(id uint64, recipient ethcommon.Address, amount *big.Int) *types.Event {
	return types.NewEvent(EventTypeWithdrawn).
		Set("takerId", formatID(id)).
		Set("recipient", recipient.Hex()).
		Set("amount", amount.String())
}

func NewPairedCancelledEvent(p *Position, recipient ethcommon.Address, amount *big.Int) *types.Event {
	return types.NewEvent(EventTypePairedCancelled).
		Set("takerId", formatID(p.ID)).
		Set("providerId", formatID(p.ProviderID)).
		Set("recipient", recipient.Hex()).
		Set("amount", amount.String())
}
