package rolls

import (
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/core/events"
	"collarfi/core/state"
	"collarfi/core/types"
	"collarfi/native/common"
	"collarfi/native/taker"
)

var (
	ErrInvalidOffer       = common.NewError(common.KindState, "rolls: invalid offer")
	ErrNotProviderOwner   = common.NewError(common.KindAuthorization, "rolls: not provider ID owner")
	ErrNotTakerOwner      = common.NewError(common.KindAuthorization, "rolls: not taker ID owner")
	ErrNotOfferProvider   = common.NewError(common.KindAuthorization, "rolls: not offer provider")
	ErrUnsupportedRolls   = common.NewError(common.KindAuthorization, "rolls: unsupported rolls contract")
	ErrProviderMismatch   = common.NewError(common.KindValidation, "rolls: provider contract mismatch")
	ErrTakerSettled       = common.NewError(common.KindState, "rolls: taker position settled")
	ErrTakerExpired       = common.NewError(common.KindValidation, "rolls: taker position expired")
	ErrFeeDeltaFactor     = common.NewError(common.KindValidation, "rolls: invalid fee delta change")
	ErrPriceRange         = common.NewError(common.KindValidation, "rolls: max price lower than min price")
	ErrDeadlinePassed     = common.NewError(common.KindValidation, "rolls: deadline passed")
	ErrPriceTooHigh       = common.NewError(common.KindValidation, "rolls: price too high")
	ErrPriceTooLow        = common.NewError(common.KindValidation, "rolls: price too low")
	ErrTakerSlippage      = common.NewError(common.KindEconomic, "rolls: taker transfer slippage")
	ErrProviderSlippage   = common.NewError(common.KindEconomic, "rolls: provider transfer slippage")
	ErrInvalidAmount      = common.NewError(common.KindValidation, "rolls: invalid amount")
	ErrTakerNotConfigured = common.NewError(common.KindState, "rolls: taker engine not configured")
	errNilState           = common.NewError(common.KindState, "rolls: state not configured")
)

const (
	offerPrefix = "rolls/offer"
	counterKey  = "rolls/counter"
)

type engineState interface {
	Load(key []byte, out interface{}) (bool, error)
	Store(key []byte, value interface{}) error
	Remove(key []byte) error
}

type configHub interface {
	common.PauseView
	CanOpenPair(underlying, cash, target ethcommon.Address) bool
}

type tokenLedger interface {
	Transfer(asset, from, to ethcommon.Address, amount *big.Int) error
	TransferFrom(asset, spender, from, to ethcommon.Address, amount *big.Int) error
	Approve(asset, owner, spender ethcommon.Address, amount *big.Int) error
}

type nftRegistry interface {
	OwnerOf(collection ethcommon.Address, id uint64) (ethcommon.Address, error)
	Approve(collection, caller, spender ethcommon.Address, id uint64) error
	TransferFrom(collection, caller, from, to ethcommon.Address, id uint64) error
}

type takerEngine interface {
	Address() ethcommon.Address
	Underlying() ethcommon.Address
	Cash() ethcommon.Address
	Position(id uint64) (*taker.Position, error)
	CurrentOraclePrice() (*big.Int, error)
	PreviewSettlement(pos *taker.Position, endPrice *big.Int) (*taker.Settlement, error)
	OpenPairedPosition(caller ethcommon.Address, takerLocked *big.Int, offerID uint64) (uint64, uint64, error)
	CancelPairedPosition(caller ethcommon.Address, id uint64) (*big.Int, error)
}

type providerLedger interface {
	Address() ethcommon.Address
	CreateOffer(caller ethcommon.Address, callStrikePercent uint64, amount *big.Int, putStrikePercent, duration uint64, minLocked *big.Int) (uint64, error)
	ProtocolFee(providerLocked *big.Int, duration uint64) (*big.Int, ethcommon.Address, error)
}

// Config identifies the deployment of a roll auction.
type Config struct {
	Address ethcommon.Address
}

// Engine records roll offers and executes them against the taker engine.
type Engine struct {
	cfg      Config
	state    engineState
	hub      configHub
	tokens   tokenLedger
	nfts     nftRegistry
	taker    takerEngine
	provider providerLedger
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine creates a roll auction with a no-op emitter.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

func (e *Engine) SetState(st engineState)      { e.state = st }
func (e *Engine) SetConfigHub(h configHub)     { e.hub = h }
func (e *Engine) SetTokens(t tokenLedger)      { e.tokens = t }
func (e *Engine) SetNFTs(n nftRegistry)        { e.nfts = n }
func (e *Engine) SetTaker(t takerEngine)       { e.taker = t }
func (e *Engine) SetProvider(p providerLedger) { e.provider = p }
func (e *Engine) Address() ethcommon.Address   { return e.cfg.Address }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter != nil && evt != nil {
		e.emitter.Emit(events.Wrap(evt))
	}
}

func (e *Engine) now() uint64 { return uint64(e.nowFn()) }

func (e *Engine) guard() error {
	if e.state == nil || e.hub == nil || e.tokens == nil || e.nfts == nil {
		return errNilState
	}
	if e.taker == nil || e.provider == nil {
		return ErrTakerNotConfigured
	}
	return common.Guard(e.hub, common.ModuleRolls)
}

func offerKey(id uint64) []byte { return state.Key(offerPrefix, state.Uint64Bytes(id)) }

// NextRollID returns the id the next roll offer will receive.
func (e *Engine) NextRollID() uint64 {
	if e.state == nil {
		return 1
	}
	var last uint64
	_, _ = e.state.Load(state.Key(counterKey), &last)
	return last + 1
}

// Offer returns the stored roll offer.
func (e *Engine) Offer(id uint64) (*Offer, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var offer Offer
	ok, err := e.state.Load(offerKey(id), &offer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidOffer
	}
	return &offer, nil
}

// CreateOffer proposes a roll of the taker position paired with a provider
// token the caller owns. The provider token moves into the engine's custody
// until the offer executes or is cancelled, so caller must have approved it.
func (e *Engine) CreateOffer(caller ethcommon.Address, params OfferParams) (uint64, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	if params.FeeAmount == nil || params.MinPrice == nil || params.MaxPrice == nil || params.MinToProvider == nil {
		return 0, ErrInvalidAmount
	}
	if params.FeeDeltaFactorBips > MaxFeeDeltaFactorBips || params.FeeDeltaFactorBips < -MaxFeeDeltaFactorBips {
		return 0, ErrFeeDeltaFactor
	}
	if params.MinPrice.Cmp(params.MaxPrice) > 0 {
		return 0, ErrPriceRange
	}
	if params.Deadline < e.now() {
		return 0, ErrDeadlinePassed
	}
	pos, err := e.taker.Position(params.TakerID)
	if err != nil {
		return 0, err
	}
	providerAddr := e.provider.Address()
	if pos.ProviderContract != providerAddr {
		return 0, ErrProviderMismatch
	}
	if pos.Settled {
		return 0, ErrTakerSettled
	}
	holder, err := e.nfts.OwnerOf(providerAddr, pos.ProviderID)
	if err != nil || holder != caller {
		return 0, ErrNotProviderOwner
	}
	reference, err := e.taker.CurrentOraclePrice()
	if err != nil {
		return 0, err
	}
	id := e.NextRollID()
	if err := e.state.Store(state.Key(counterKey), id); err != nil {
		return 0, err
	}
	offer := &Offer{
		ID:                 id,
		TakerID:            params.TakerID,
		ProviderID:         pos.ProviderID,
		Provider:           caller,
		FeeAmount:          common.NewSignedAmount(params.FeeAmount),
		FeeDeltaFactorBips: common.NewSignedAmount(big.NewInt(params.FeeDeltaFactorBips)),
		FeeReferencePrice:  reference,
		MinPrice:           new(big.Int).Set(params.MinPrice),
		MaxPrice:           new(big.Int).Set(params.MaxPrice),
		MinToProvider:      common.NewSignedAmount(params.MinToProvider),
		Deadline:           params.Deadline,
		Active:             true,
	}
	if err := e.state.Store(offerKey(id), offer); err != nil {
		return 0, err
	}
	e.emit(NewOfferCreatedEvent(offer))
	if err := e.nfts.TransferFrom(providerAddr, e.cfg.Address, caller, e.cfg.Address, pos.ProviderID); err != nil {
		return 0, err
	}
	return id, nil
}

// CancelOffer deactivates an offer and returns the provider token.
func (e *Engine) CancelOffer(caller ethcommon.Address, id uint64) error {
	if err := e.guard(); err != nil {
		return err
	}
	offer, err := e.Offer(id)
	if err != nil {
		return err
	}
	if offer.Provider != caller {
		return ErrNotOfferProvider
	}
	if !offer.Active {
		return ErrInvalidOffer
	}
	offer.Active = false
	if err := e.state.Store(offerKey(id), offer); err != nil {
		return err
	}
	e.emit(NewOfferCancelledEvent(offer))
	return e.nfts.TransferFrom(e.provider.Address(), e.cfg.Address, e.cfg.Address, caller, offer.ProviderID)
}

// CalculateRollFee returns the roll fee of offer id at price.
func (e *Engine) CalculateRollFee(id uint64, price *big.Int) (*big.Int, error) {
	offer, err := e.Offer(id)
	if err != nil {
		return nil, err
	}
	return CalculateRollFee(offer, price), nil
}

// PreviewRoll computes the new pair and the signed transfers of rolling offer
// id at price without touching state.
func (e *Engine) PreviewRoll(id uint64, price *big.Int) (*Preview, error) {
	if e.taker == nil || e.provider == nil {
		return nil, ErrTakerNotConfigured
	}
	offer, err := e.Offer(id)
	if err != nil {
		return nil, err
	}
	pos, err := e.taker.Position(offer.TakerID)
	if err != nil {
		return nil, err
	}
	return e.previewRoll(pos, price, CalculateRollFee(offer, price))
}

func (e *Engine) previewRoll(pos *taker.Position, price, rollFee *big.Int) (*Preview, error) {
	if price == nil || price.Sign() <= 0 || pos.StartPrice == nil || pos.StartPrice.Sign() == 0 {
		return nil, taker.ErrInvalidPrice
	}
	settlement, err := e.taker.PreviewSettlement(pos, price)
	if err != nil {
		return nil, err
	}
	providerSettled := new(big.Int).Add(pos.ProviderLocked, settlement.ProviderDelta)
	newTakerLocked, err := common.MulDiv(pos.TakerLocked, price, pos.StartPrice)
	if err != nil {
		return nil, err
	}
	newProviderLocked, err := taker.CalculateProviderLocked(newTakerLocked, pos.PutStrikePercent, pos.CallStrikePercent)
	if err != nil {
		return nil, err
	}
	protocolFee, _, err := e.provider.ProtocolFee(newProviderLocked, pos.Duration)
	if err != nil {
		return nil, err
	}
	toTaker := new(big.Int).Sub(settlement.TakerBalance, newTakerLocked)
	toTaker.Sub(toTaker, rollFee)
	toProvider := new(big.Int).Sub(providerSettled, newProviderLocked)
	toProvider.Add(toProvider, rollFee)
	toProvider.Sub(toProvider, protocolFee)
	return &Preview{
		Price:             new(big.Int).Set(price),
		TakerPosition:     pos,
		TakerSettled:      settlement.TakerBalance,
		ProviderSettled:   providerSettled,
		NewTakerLocked:    newTakerLocked,
		NewProviderLocked: newProviderLocked,
		RollFee:           rollFee,
		ProtocolFee:       protocolFee,
		ToTaker:           toTaker,
		ToProvider:        toProvider,
	}, nil
}

// ExecuteRoll replaces the offer's taker position with a new pair at the
// current price. The caller must own the taker token and have approved this
// engine for it; whichever side owes cash must have approved the engine for
// the cash asset. minToTaker bounds the caller's signed proceeds.
func (e *Engine) ExecuteRoll(caller ethcommon.Address, id uint64, minToTaker *big.Int) (*Result, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if minToTaker == nil {
		return nil, ErrInvalidAmount
	}
	takerAddr := e.taker.Address()
	providerAddr := e.provider.Address()
	underlying, cash := e.taker.Underlying(), e.taker.Cash()
	if !e.hub.CanOpenPair(underlying, cash, e.cfg.Address) {
		return nil, ErrUnsupportedRolls
	}
	offer, err := e.Offer(id)
	if err != nil {
		return nil, err
	}
	if !offer.Active {
		return nil, ErrInvalidOffer
	}
	holder, err := e.nfts.OwnerOf(takerAddr, offer.TakerID)
	if err != nil || holder != caller {
		return nil, ErrNotTakerOwner
	}
	now := e.now()
	if now > offer.Deadline {
		return nil, ErrDeadlinePassed
	}
	price, err := e.taker.CurrentOraclePrice()
	if err != nil {
		return nil, err
	}
	if price.Cmp(offer.MaxPrice) > 0 {
		return nil, ErrPriceTooHigh
	}
	if price.Cmp(offer.MinPrice) < 0 {
		return nil, ErrPriceTooLow
	}
	pos, err := e.taker.Position(offer.TakerID)
	if err != nil {
		return nil, err
	}
	if now > pos.Expiration {
		return nil, ErrTakerExpired
	}
	preview, err := e.previewRoll(pos, price, CalculateRollFee(offer, price))
	if err != nil {
		return nil, err
	}
	if preview.ToTaker.Cmp(minToTaker) < 0 {
		return nil, ErrTakerSlippage
	}
	if preview.ToProvider.Cmp(offer.MinToProvider.Int()) < 0 {
		return nil, ErrProviderSlippage
	}

	offer.Active = false
	if err := e.state.Store(offerKey(id), offer); err != nil {
		return nil, err
	}

	if preview.ToTaker.Sign() < 0 {
		if err := e.tokens.TransferFrom(cash, e.cfg.Address, caller, e.cfg.Address, new(big.Int).Neg(preview.ToTaker)); err != nil {
			return nil, err
		}
	}
	if preview.ToProvider.Sign() < 0 {
		if err := e.tokens.TransferFrom(cash, e.cfg.Address, offer.Provider, e.cfg.Address, new(big.Int).Neg(preview.ToProvider)); err != nil {
			return nil, err
		}
	}

	if err := e.nfts.TransferFrom(takerAddr, e.cfg.Address, caller, e.cfg.Address, offer.TakerID); err != nil {
		return nil, err
	}
	if err := e.nfts.Approve(providerAddr, e.cfg.Address, takerAddr, offer.ProviderID); err != nil {
		return nil, err
	}
	if _, err := e.taker.CancelPairedPosition(e.cfg.Address, offer.TakerID); err != nil {
		return nil, err
	}

	newTakerID, newProviderID, err := e.openNewPair(pos, preview)
	if err != nil {
		return nil, err
	}
	if err := e.nfts.TransferFrom(takerAddr, e.cfg.Address, e.cfg.Address, caller, newTakerID); err != nil {
		return nil, err
	}
	if err := e.nfts.TransferFrom(providerAddr, e.cfg.Address, e.cfg.Address, offer.Provider, newProviderID); err != nil {
		return nil, err
	}

	result := &Result{
		NewTakerID:    newTakerID,
		NewProviderID: newProviderID,
		ToTaker:       preview.ToTaker,
		ToProvider:    preview.ToProvider,
		RollFee:       preview.RollFee,
	}
	e.emit(NewExecutedEvent(offer, result, price))

	if preview.ToTaker.Sign() > 0 {
		if err := e.tokens.Transfer(cash, e.cfg.Address, caller, preview.ToTaker); err != nil {
			return nil, err
		}
	}
	if preview.ToProvider.Sign() > 0 {
		if err := e.tokens.Transfer(cash, e.cfg.Address, offer.Provider, preview.ToProvider); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// openNewPair funds a single-use provider offer at the old strikes with the
// new provider leg plus protocol fee and opens the new pair against it.
func (e *Engine) openNewPair(pos *taker.Position, preview *Preview) (uint64, uint64, error) {
	cash := e.taker.Cash()
	providerAddr := e.provider.Address()
	offerAmount := new(big.Int).Add(preview.NewProviderLocked, preview.ProtocolFee)
	if err := e.tokens.Approve(cash, e.cfg.Address, providerAddr, offerAmount); err != nil {
		return 0, 0, err
	}
	offerID, err := e.provider.CreateOffer(e.cfg.Address, pos.CallStrikePercent, offerAmount, pos.PutStrikePercent, pos.Duration, big.NewInt(0))
	if err != nil {
		return 0, 0, err
	}
	if err := e.tokens.Approve(cash, e.cfg.Address, e.taker.Address(), preview.NewTakerLocked); err != nil {
		return 0, 0, err
	}
	return e.taker.OpenPairedPosition(e.cfg.Address, preview.NewTakerLocked, offerID)
}
