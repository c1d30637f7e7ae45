package server

import (
	"math/big"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/native/confighub"
	"collarfi/native/escrow"
	"collarfi/native/loans"
	"collarfi/native/provider"
	"collarfi/native/rolls"
	"collarfi/native/taker"
)

// Amounts are rendered as base-10 strings so clients never lose precision.

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addressOrEmpty(addr ethcommon.Address, ok bool) string {
	if !ok || addr == (ethcommon.Address{}) {
		return ""
	}
	return addr.Hex()
}

type settlementView struct {
	EndPrice      string `json:"endPrice"`
	TakerBalance  string `json:"takerBalance"`
	ProviderDelta string `json:"providerDelta"`
}

func newSettlementView(s *taker.Settlement) *settlementView {
	if s == nil {
		return nil
	}
	return &settlementView{
		EndPrice:      amount(s.EndPrice),
		TakerBalance:  amount(s.TakerBalance),
		ProviderDelta: amount(s.ProviderDelta),
	}
}

type takerView struct {
	ID                uint64          `json:"id"`
	Owner             string          `json:"owner,omitempty"`
	ProviderContract  string          `json:"providerContract"`
	ProviderID        uint64          `json:"providerId"`
	Duration          uint64          `json:"duration"`
	Expiration        uint64          `json:"expiration"`
	StartPrice        string          `json:"startPrice"`
	PutStrikePercent  uint64          `json:"putStrikePercent"`
	CallStrikePercent uint64          `json:"callStrikePercent"`
	PutStrikePrice    string          `json:"putStrikePrice"`
	CallStrikePrice   string          `json:"callStrikePrice"`
	TakerLocked       string          `json:"takerLocked"`
	ProviderLocked    string          `json:"providerLocked"`
	Settled           bool            `json:"settled"`
	Withdrawable      string          `json:"withdrawable"`
	Expired           bool            `json:"expired"`
	Preview           *settlementView `json:"preview,omitempty"`
}

func newTakerView(p *taker.Position, owner ethcommon.Address, hasOwner bool, now uint64, preview *taker.Settlement) takerView {
	return takerView{
		ID:                p.ID,
		Owner:             addressOrEmpty(owner, hasOwner),
		ProviderContract:  p.ProviderContract.Hex(),
		ProviderID:        p.ProviderID,
		Duration:          p.Duration,
		Expiration:        p.Expiration,
		StartPrice:        amount(p.StartPrice),
		PutStrikePercent:  p.PutStrikePercent,
		CallStrikePercent: p.CallStrikePercent,
		PutStrikePrice:    amount(p.PutStrikePrice()),
		CallStrikePrice:   amount(p.CallStrikePrice()),
		TakerLocked:       amount(p.TakerLocked),
		ProviderLocked:    amount(p.ProviderLocked),
		Settled:           p.Settled,
		Withdrawable:      amount(p.Withdrawable),
		Expired:           now >= p.Expiration,
		Preview:           newSettlementView(preview),
	}
}

type providerOfferView struct {
	ID                uint64 `json:"id"`
	Provider          string `json:"provider"`
	Available         string `json:"available"`
	PutStrikePercent  uint64 `json:"putStrikePercent"`
	CallStrikePercent uint64 `json:"callStrikePercent"`
	Duration          uint64 `json:"duration"`
	MinLocked         string `json:"minLocked"`
}

func newProviderOfferView(o *provider.Offer) providerOfferView {
	return providerOfferView{
		ID:                o.ID,
		Provider:          o.Provider.Hex(),
		Available:         amount(o.Available),
		PutStrikePercent:  o.PutStrikePercent,
		CallStrikePercent: o.CallStrikePercent,
		Duration:          o.Duration,
		MinLocked:         amount(o.MinLocked),
	}
}

type providerPositionView struct {
	ID                uint64 `json:"id"`
	Owner             string `json:"owner,omitempty"`
	TakerID           uint64 `json:"takerId"`
	OfferID           uint64 `json:"offerId"`
	Duration          uint64 `json:"duration"`
	Expiration        uint64 `json:"expiration"`
	PutStrikePercent  uint64 `json:"putStrikePercent"`
	CallStrikePercent uint64 `json:"callStrikePercent"`
	ProviderLocked    string `json:"providerLocked"`
	Settled           bool   `json:"settled"`
	Withdrawable      string `json:"withdrawable"`
}

func newProviderPositionView(p *provider.Position, owner ethcommon.Address, hasOwner bool) providerPositionView {
	return providerPositionView{
		ID:                p.ID,
		Owner:             addressOrEmpty(owner, hasOwner),
		TakerID:           p.TakerID,
		OfferID:           p.OfferID,
		Duration:          p.Duration,
		Expiration:        p.Expiration,
		PutStrikePercent:  p.PutStrikePercent,
		CallStrikePercent: p.CallStrikePercent,
		ProviderLocked:    amount(p.ProviderLocked),
		Settled:           p.Settled,
		Withdrawable:      amount(p.Withdrawable),
	}
}

type escrowOfferView struct {
	ID             uint64 `json:"id"`
	Supplier       string `json:"supplier"`
	Available      string `json:"available"`
	Duration       uint64 `json:"duration"`
	InterestAPR    uint64 `json:"interestApr"`
	MaxGracePeriod uint64 `json:"maxGracePeriod"`
	LateFeeAPR     uint64 `json:"lateFeeApr"`
	MinEscrow      string `json:"minEscrow"`
}

func newEscrowOfferView(o *escrow.Offer) escrowOfferView {
	return escrowOfferView{
		ID:             o.ID,
		Supplier:       o.Supplier.Hex(),
		Available:      amount(o.Available),
		Duration:       o.Duration,
		InterestAPR:    o.InterestAPR,
		MaxGracePeriod: o.MaxGracePeriod,
		LateFeeAPR:     o.LateFeeAPR,
		MinEscrow:      amount(o.MinEscrow),
	}
}

type escrowView struct {
	ID             uint64 `json:"id"`
	Owner          string `json:"owner,omitempty"`
	OfferID        uint64 `json:"offerId"`
	Loans          string `json:"loans"`
	LoanID         uint64 `json:"loanId"`
	Escrowed       string `json:"escrowed"`
	MaxGracePeriod uint64 `json:"maxGracePeriod"`
	LateFeeAPR     uint64 `json:"lateFeeApr"`
	Duration       uint64 `json:"duration"`
	Expiration     uint64 `json:"expiration"`
	InterestHeld   string `json:"interestHeld"`
	Released       bool   `json:"released"`
	Withdrawable   string `json:"withdrawable"`
	LateFee        string `json:"lateFee"`
}

func newEscrowView(e *escrow.Escrow, owner ethcommon.Address, hasOwner bool, lateFee *big.Int) escrowView {
	return escrowView{
		ID:             e.ID,
		Owner:          addressOrEmpty(owner, hasOwner),
		OfferID:        e.OfferID,
		Loans:          e.Loans.Hex(),
		LoanID:         e.LoanID,
		Escrowed:       amount(e.Escrowed),
		MaxGracePeriod: e.MaxGracePeriod,
		LateFeeAPR:     e.LateFeeAPR,
		Duration:       e.Duration,
		Expiration:     e.Expiration,
		InterestHeld:   amount(e.InterestHeld),
		Released:       e.Released,
		Withdrawable:   amount(e.Withdrawable),
		LateFee:        amount(lateFee),
	}
}

type loanView struct {
	ID               uint64 `json:"id"`
	Owner            string `json:"owner,omitempty"`
	UnderlyingAmount string `json:"underlyingAmount"`
	LoanAmount       string `json:"loanAmount"`
	UsesEscrow       bool   `json:"usesEscrow"`
	EscrowID         uint64 `json:"escrowId,omitempty"`
	Closed           bool   `json:"closed"`
	GracePeriodEnd   uint64 `json:"gracePeriodEnd,omitempty"`
}

func newLoanView(l *loans.Loan, owner ethcommon.Address, hasOwner bool, graceEnd uint64) loanView {
	return loanView{
		ID:               l.ID,
		Owner:            addressOrEmpty(owner, hasOwner),
		UnderlyingAmount: amount(l.UnderlyingAmount),
		LoanAmount:       amount(l.LoanAmount),
		UsesEscrow:       l.UsesEscrow,
		EscrowID:         l.EscrowID,
		Closed:           l.Closed,
		GracePeriodEnd:   graceEnd,
	}
}

type rollOfferView struct {
	ID                 uint64 `json:"id"`
	TakerID            uint64 `json:"takerId"`
	ProviderID         uint64 `json:"providerId"`
	Provider           string `json:"provider"`
	FeeAmount          string `json:"feeAmount"`
	FeeDeltaFactorBips string `json:"feeDeltaFactorBips"`
	FeeReferencePrice  string `json:"feeReferencePrice"`
	MinPrice           string `json:"minPrice"`
	MaxPrice           string `json:"maxPrice"`
	MinToProvider      string `json:"minToProvider"`
	Deadline           uint64 `json:"deadline"`
	Active             bool   `json:"active"`
}

func newRollOfferView(o *rolls.Offer) rollOfferView {
	return rollOfferView{
		ID:                 o.ID,
		TakerID:            o.TakerID,
		ProviderID:         o.ProviderID,
		Provider:           o.Provider.Hex(),
		FeeAmount:          amount(o.FeeAmount.Int()),
		FeeDeltaFactorBips: amount(o.FeeDeltaFactorBips.Int()),
		FeeReferencePrice:  amount(o.FeeReferencePrice),
		MinPrice:           amount(o.MinPrice),
		MaxPrice:           amount(o.MaxPrice),
		MinToProvider:      amount(o.MinToProvider.Int()),
		Deadline:           o.Deadline,
		Active:             o.Active,
	}
}

type rollPreviewView struct {
	Price             string `json:"price"`
	TakerSettled      string `json:"takerSettled"`
	ProviderSettled   string `json:"providerSettled"`
	NewTakerLocked    string `json:"newTakerLocked"`
	NewProviderLocked string `json:"newProviderLocked"`
	RollFee           string `json:"rollFee"`
	ProtocolFee       string `json:"protocolFee"`
	ToTaker           string `json:"toTaker"`
	ToProvider        string `json:"toProvider"`
}

func newRollPreviewView(p *rolls.Preview) rollPreviewView {
	return rollPreviewView{
		Price:             amount(p.Price),
		TakerSettled:      amount(p.TakerSettled),
		ProviderSettled:   amount(p.ProviderSettled),
		NewTakerLocked:    amount(p.NewTakerLocked),
		NewProviderLocked: amount(p.NewProviderLocked),
		RollFee:           amount(p.RollFee),
		ProtocolFee:       amount(p.ProtocolFee),
		ToTaker:           amount(p.ToTaker),
		ToProvider:        amount(p.ToProvider),
	}
}

type configView struct {
	Owner          string            `json:"owner"`
	PendingOwner   string            `json:"pendingOwner,omitempty"`
	PauseGuardian  string            `json:"pauseGuardian,omitempty"`
	MinLTV         uint64            `json:"minLtv"`
	MaxLTV         uint64            `json:"maxLtv"`
	MinDuration    uint64            `json:"minDuration"`
	MaxDuration    uint64            `json:"maxDuration"`
	ProtocolFeeAPR uint64            `json:"protocolFeeApr"`
	FeeRecipient   string            `json:"feeRecipient,omitempty"`
	Underlying     string            `json:"underlying"`
	Cash           string            `json:"cash"`
	Contracts      map[string]string `json:"contracts"`
	Paused         map[string]bool   `json:"paused"`
	Now            uint64            `json:"now"`
}

func newConfigView(s *confighub.Settings) configView {
	return configView{
		Owner:          s.Owner.Hex(),
		PendingOwner:   addressOrEmpty(s.PendingOwner, true),
		PauseGuardian:  addressOrEmpty(s.PauseGuardian, true),
		MinLTV:         s.MinLTV,
		MaxLTV:         s.MaxLTV,
		MinDuration:    s.MinDuration,
		MaxDuration:    s.MaxDuration,
		ProtocolFeeAPR: s.ProtocolFeeAPR,
		FeeRecipient:   addressOrEmpty(s.FeeRecipient, true),
	}
}

type priceView struct {
	Price          string `json:"price"`
	BaseUnitAmount string `json:"baseUnitAmount"`
	Base           string `json:"base"`
	Quote          string `json:"quote"`
}

type settleView struct {
	ID         uint64         `json:"id"`
	Settlement settlementView `json:"settlement"`
}

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }
