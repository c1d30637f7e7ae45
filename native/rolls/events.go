package rolls

import (
	"math/big"
	"strconv"

	"collarfi/core/types"
)

const (
	EventTypeOfferCreated   = "rolls.offer.created"
	EventTypeOfferCancelled = "rolls.offer.cancelled"
	EventTypeExecuted       = "rolls.executed"
)

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }

func NewOfferCreatedEvent(o *Offer) *types.Event {
	return types.NewEvent(EventTypeOfferCreated).
		Set("rollId", formatID(o.ID)).
		Set("takerId", formatID(o.TakerID)).
		Set("providerId", formatID(o.ProviderID)).
		Set("provider", o.Provider.Hex()).
		Set("feeAmount", o.FeeAmount.Int().String()).
		Set("feeDeltaFactorBips", o.FeeDeltaFactorBips.Int().String()).
		Set("feeReferencePrice", o.FeeReferencePrice.String()).
		Set("minPrice", o.MinPrice.String()).
		Set("maxPrice", o.MaxPrice.String()).
		Set("minToProvider", o.MinToProvider.Int().String()).
		Set("deadline", strconv.FormatUint(o.Deadline, 10))
}

func NewOfferCancelledEvent(o *Offer) *types.Event {
	return types.NewEvent(EventTypeOfferCancelled).
		Set("rollId", formatID(o.ID)).
		Set("takerId", formatID(o.TakerID)).
		Set("provider", o.Provider.Hex())
}

func NewExecutedEvent(o *Offer, r *Result, price *big.Int) *types.Event {
	return types.NewEvent(EventTypeExecuted).
		Set("rollId", formatID(o.ID)).
		Set("takerId", formatID(o.TakerID)).
		Set("newTakerId", formatID(r.NewTakerID)).
		Set("newProviderId", formatID(r.NewProviderID)).
		Set("price", price.String()).
		Set("rollFee", r.RollFee.String()).
		Set("toTaker", r.ToTaker.String()).
		Set("toProvider", r.ToProvider.String())
}
