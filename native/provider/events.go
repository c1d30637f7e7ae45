package provider

import (
	"math/big"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/core/types"
)

const (
	EventTypeOfferCreated       = "provider.offer.created"
	EventTypeOfferUpdated       = "provider.offer.updated"
	EventTypePositionMinted     = "provider.position.minted"
	EventTypePositionSettled    = "provider.position.settled"
	EventTypePositionWithdrawn  = "provider.position.withdrawn"
	EventTypePositionCancelled  = "provider.position.cancelled"
	EventTypeProtocolFeeCharged = "provider.protocol_fee"
)

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }

func NewOfferCreatedEvent(o *Offer) *types.Event {
	return types.NewEvent(EventTypeOfferCreated).
		Set("offerId", formatID(o.ID)).
		Set("provider", o.Provider.Hex()).
		Set("available", o.Available.String()).
		Set("putStrikePercent", strconv.FormatUint(o.PutStrikePercent, 10)).
		Set("callStrikePercent", strconv.FormatUint(o.CallStrikePercent, 10)).
		Set("duration", strconv.FormatUint(o.Duration, 10)).
		Set("minLocked", o.MinLocked.String())
}

func NewOfferUpdatedEvent(o *Offer, previous *big.Int) *types.Event {
	return types.NewEvent(EventTypeOfferUpdated).
		Set("offerId", formatID(o.ID)).
		Set("provider", o.Provider.Hex()).
		Set("previous", previous.String()).
		Set("available", o.Available.String())
}

func NewPositionMintedEvent(p *Position, owner ethcommon.Address, fee *big.Int) *types.Event {
	return types.NewEvent(EventTypePositionMinted).
		Set("positionId", formatID(p.ID)).
		Set("takerId", formatID(p.TakerID)).
		Set("offerId", formatID(p.OfferID)).
		Set("owner", owner.Hex()).
		Set("providerLocked", p.ProviderLocked.String()).
		Set("expiration", strconv.FormatUint(p.Expiration, 10)).
		Set("protocolFee", fee.String())
}

func NewPositionSettledEvent(p *Position, delta *big.Int) *types.Event {
	return types.NewEvent(EventTypePositionSettled).
		Set("positionId", formatID(p.ID)).
		Set("delta", delta.String()).
		Set("withdrawable", p.Withdrawable.String())
}

func NewPositionWithdrawnEvent(id uint64, recipient ethcommon.Address, amount *big.Int) *types.Event {
	return types.NewEvent(EventTypePositionWithdrawn).
		Set("positionId", formatID(id)).
		Set("recipient", recipient.Hex()).
		Set("amount", amount.String())
}

func NewPositionCancelledEvent(p *Position, refund *big.Int) *types.Event {
	return types.NewEvent(EventTypePositionCancelled).
		Set("positionId", formatID(p.ID)).
		Set("refund", refund.String())
}

func NewProtocolFeeEvent(positionID uint64, recipient ethcommon.Address, fee *big.Int) *types.Event {
	return types.NewEvent(EventTypeProtocolFeeCharged).
		Set("positionId", formatID(positionID)).
		Set("recipient", recipient.Hex()).
		Set("fee", fee.String())
}
