package provider

import (
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/core/events"
	"collarfi/core/state"
	"collarfi/core/types"
	"collarfi/native/common"
)

var (
	ErrInvalidStrike       = common.NewError(common.KindValidation, "provider: strike percent out of range")
	ErrUnsupportedLTV      = common.NewError(common.KindValidation, "provider: unsupported LTV")
	ErrUnsupportedDuration = common.NewError(common.KindValidation, "provider: unsupported duration")
	ErrInvalidAmount       = common.NewError(common.KindValidation, "provider: invalid amount")
	ErrOfferNotFound       = common.NewError(common.KindValidation, "provider: invalid offer")
	ErrPositionNotFound    = common.NewError(common.KindValidation, "provider: position does not exist")
	ErrNotSupplier         = common.NewError(common.KindAuthorization, "provider: not offer provider")
	ErrNotTaker            = common.NewError(common.KindAuthorization, "provider: unauthorized taker contract")
	ErrUnsupportedContract = common.NewError(common.KindAuthorization, "provider: unsupported provider contract")
	ErrNotPositionOwner    = common.NewError(common.KindAuthorization, "provider: not position owner")
	ErrNotTakerOwned       = common.NewError(common.KindAuthorization, "provider: caller does not own token")
	ErrAmountTooLow        = common.NewError(common.KindValidation, "provider: amount too low")
	ErrAmountTooHigh       = common.NewError(common.KindValidation, "provider: amount too high")
	ErrNotExpired          = common.NewError(common.KindValidation, "provider: not expired")
	ErrAlreadySettled      = common.NewError(common.KindState, "provider: already settled")
	ErrNotSettled          = common.NewError(common.KindState, "provider: not settled")
	ErrLossTooHigh         = common.NewError(common.KindEconomic, "provider: loss is too high")
	errNilState            = common.NewError(common.KindState, "provider: state not configured")
)

const (
	offerPrefix    = "provider/offer"
	positionPrefix = "provider/position"
	counterPrefix  = "provider/counter"
)

type engineState interface {
	Load(key []byte, out interface{}) (bool, error)
	Store(key []byte, value interface{}) error
	Remove(key []byte) error
}

type configHub interface {
	common.PauseView
	IsValidLTV(ltv uint64) bool
	IsValidCollarDuration(duration uint64) bool
	CanOpenPair(underlying, cash, target ethcommon.Address) bool
	ProtocolFee(amount *big.Int, duration uint64) (*big.Int, ethcommon.Address, error)
}

type tokenLedger interface {
	Transfer(asset, from, to ethcommon.Address, amount *big.Int) error
	TransferFrom(asset, spender, from, to ethcommon.Address, amount *big.Int) error
}

type nftRegistry interface {
	OwnerOf(collection ethcommon.Address, id uint64) (ethcommon.Address, error)
	Mint(collection, to ethcommon.Address, id uint64) error
	Burn(collection ethcommon.Address, id uint64) error
}

// Config identifies the deployment of a provider ledger.
type Config struct {
	Address    ethcommon.Address
	Underlying ethcommon.Address
	Cash       ethcommon.Address
	Taker      ethcommon.Address
}

// Engine manages provider offers and the provider legs of paired positions.
type Engine struct {
	cfg     Config
	state   engineState
	hub     configHub
	tokens  tokenLedger
	nfts    nftRegistry
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a provider ledger with a no-op emitter.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

func (e *Engine) SetState(st engineState)  { e.state = st }
func (e *Engine) SetConfigHub(h configHub) { e.hub = h }
func (e *Engine) SetTokens(t tokenLedger)  { e.tokens = t }
func (e *Engine) SetNFTs(n nftRegistry)    { e.nfts = n }

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

// Address returns the ledger's account, which is also its collection id.
func (e *Engine) Address() ethcommon.Address    { return e.cfg.Address }
func (e *Engine) Underlying() ethcommon.Address { return e.cfg.Underlying }
func (e *Engine) Cash() ethcommon.Address       { return e.cfg.Cash }
func (e *Engine) Taker() ethcommon.Address      { return e.cfg.Taker }

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
	return common.Guard(e.hub, common.ModuleProvider)
}

func (e *Engine) nextID(kind string) (uint64, error) {
	key := state.Key(counterPrefix, []byte(kind))
	var last uint64
	if _, err := e.state.Load(key, &last); err != nil {
		return 0, err
	}
	last++
	if err := e.state.Store(key, last); err != nil {
		return 0, err
	}
	return last, nil
}

func (e *Engine) peekID(kind string) uint64 {
	if e.state == nil {
		return 1
	}
	var last uint64
	_, _ = e.state.Load(state.Key(counterPrefix, []byte(kind)), &last)
	return last + 1
}

// NextOfferID returns the id the next offer will receive.
func (e *Engine) NextOfferID() uint64 { return e.peekID("offer") }

// NextPositionID returns the id the next position will receive.
func (e *Engine) NextPositionID() uint64 { return e.peekID("position") }

func offerKey(id uint64) []byte    { return state.Key(offerPrefix, state.Uint64Bytes(id)) }
func positionKey(id uint64) []byte { return state.Key(positionPrefix, state.Uint64Bytes(id)) }

// Offer returns the stored offer.
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
		return nil, ErrOfferNotFound
	}
	return &offer, nil
}

// Position returns the stored position.
func (e *Engine) Position(id uint64) (*Position, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var pos Position
	ok, err := e.state.Load(positionKey(id), &pos)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPositionNotFound
	}
	return &pos, nil
}

func (e *Engine) validateConfig(putStrike, duration uint64) error {
	if !e.hub.IsValidLTV(putStrike) {
		return ErrUnsupportedLTV
	}
	if !e.hub.IsValidCollarDuration(duration) {
		return ErrUnsupportedDuration
	}
	return nil
}

// CreateOffer deposits amount of cash as liquidity at the given terms.
func (e *Engine) CreateOffer(caller ethcommon.Address, callStrikePercent uint64, amount *big.Int, putStrikePercent, duration uint64, minLocked *big.Int) (uint64, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	if callStrikePercent < MinCallStrikeBips || callStrikePercent > MaxCallStrikeBips {
		return 0, ErrInvalidStrike
	}
	if putStrikePercent > MaxPutStrikeBips {
		return 0, ErrInvalidStrike
	}
	if err := e.validateConfig(putStrikePercent, duration); err != nil {
		return 0, err
	}
	if amount == nil || amount.Sign() < 0 || (minLocked != nil && minLocked.Sign() < 0) {
		return 0, ErrInvalidAmount
	}
	id, err := e.nextID("offer")
	if err != nil {
		return 0, err
	}
	offer := &Offer{
		ID:                id,
		Provider:          caller,
		Available:         cloneBig(amount),
		PutStrikePercent:  putStrikePercent,
		CallStrikePercent: callStrikePercent,
		Duration:          duration,
		MinLocked:         cloneBig(minLocked),
	}
	if err := e.state.Store(offerKey(id), offer); err != nil {
		return 0, err
	}
	e.emit(NewOfferCreatedEvent(offer))
	if err := e.tokens.TransferFrom(e.cfg.Cash, e.cfg.Address, caller, e.cfg.Address, amount); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateOfferAmount sets the offer's available liquidity, moving exactly the
// difference between the provider and the ledger.
func (e *Engine) UpdateOfferAmount(caller ethcommon.Address, id uint64, newAmount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if newAmount == nil || newAmount.Sign() < 0 {
		return ErrInvalidAmount
	}
	offer, err := e.Offer(id)
	if err != nil {
		return err
	}
	if offer.Provider != caller {
		return ErrNotSupplier
	}
	previous := cloneBig(offer.Available)
	offer.Available = cloneBig(newAmount)
	if err := e.state.Store(offerKey(id), offer); err != nil {
		return err
	}
	e.emit(NewOfferUpdatedEvent(offer, previous))
	switch cmp := newAmount.Cmp(previous); {
	case cmp > 0:
		return e.tokens.TransferFrom(e.cfg.Cash, e.cfg.Address, caller, e.cfg.Address, new(big.Int).Sub(newAmount, previous))
	case cmp < 0:
		return e.tokens.Transfer(e.cfg.Cash, e.cfg.Address, caller, new(big.Int).Sub(previous, newAmount))
	}
	return nil
}

// ProtocolFee returns the fee charged on an offer when providerLocked is
// minted for duration seconds.
func (e *Engine) ProtocolFee(providerLocked *big.Int, duration uint64) (*big.Int, ethcommon.Address, error) {
	if e.hub == nil {
		return nil, ethcommon.Address{}, errNilState
	}
	return e.hub.ProtocolFee(providerLocked, duration)
}

// MintFromOffer consumes providerLocked plus the protocol fee from an offer
// and mints the provider leg paired with takerID to the offer's provider.
// Only the configured, allow-listed taker contract may call.
func (e *Engine) MintFromOffer(caller ethcommon.Address, offerID uint64, providerLocked *big.Int, takerID uint64) (uint64, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	if caller != e.cfg.Taker || !e.hub.CanOpenPair(e.cfg.Underlying, e.cfg.Cash, caller) {
		return 0, ErrNotTaker
	}
	if !e.hub.CanOpenPair(e.cfg.Underlying, e.cfg.Cash, e.cfg.Address) {
		return 0, ErrUnsupportedContract
	}
	offer, err := e.Offer(offerID)
	if err != nil {
		return 0, err
	}
	if err := e.validateConfig(offer.PutStrikePercent, offer.Duration); err != nil {
		return 0, err
	}
	if providerLocked == nil || providerLocked.Sign() < 0 {
		return 0, ErrInvalidAmount
	}
	if providerLocked.Cmp(offer.MinLocked) < 0 {
		return 0, ErrAmountTooLow
	}
	fee, recipient, err := e.ProtocolFee(providerLocked, offer.Duration)
	if err != nil {
		return 0, err
	}
	required := new(big.Int).Add(providerLocked, fee)
	if required.Cmp(offer.Available) > 0 {
		return 0, ErrAmountTooHigh
	}
	offer.Available.Sub(offer.Available, required)
	if err := e.state.Store(offerKey(offerID), offer); err != nil {
		return 0, err
	}

	id, err := e.nextID("position")
	if err != nil {
		return 0, err
	}
	pos := &Position{
		ID:                id,
		TakerID:           takerID,
		OfferID:           offerID,
		Duration:          offer.Duration,
		Expiration:        e.now() + offer.Duration,
		PutStrikePercent:  offer.PutStrikePercent,
		CallStrikePercent: offer.CallStrikePercent,
		ProviderLocked:    cloneBig(providerLocked),
		Withdrawable:      big.NewInt(0),
	}
	if err := e.state.Store(positionKey(id), pos); err != nil {
		return 0, err
	}
	e.emit(NewPositionMintedEvent(pos, offer.Provider, fee))
	if err := e.nfts.Mint(e.cfg.Address, offer.Provider, id); err != nil {
		return 0, err
	}
	if fee.Sign() > 0 {
		e.emit(NewProtocolFeeEvent(id, recipient, fee))
		if err := e.tokens.Transfer(e.cfg.Cash, e.cfg.Address, recipient, fee); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// SettlePosition applies the signed cash delta computed by the taker
// contract. A positive delta is pulled from the taker; a negative one is sent
// to it.
func (e *Engine) SettlePosition(caller ethcommon.Address, id uint64, delta *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if caller != e.cfg.Taker {
		return ErrNotTaker
	}
	pos, err := e.Position(id)
	if err != nil {
		return err
	}
	if e.now() < pos.Expiration {
		return ErrNotExpired
	}
	if pos.Settled {
		return ErrAlreadySettled
	}
	if delta == nil {
		delta = big.NewInt(0)
	}
	withdrawable := new(big.Int).Add(pos.ProviderLocked, delta)
	if withdrawable.Sign() < 0 {
		return ErrLossTooHigh
	}
	pos.Settled = true
	pos.Withdrawable = withdrawable
	if err := e.state.Store(positionKey(id), pos); err != nil {
		return err
	}
	e.emit(NewPositionSettledEvent(pos, delta))
	switch delta.Sign() {
	case 1:
		return e.tokens.TransferFrom(e.cfg.Cash, e.cfg.Address, caller, e.cfg.Address, delta)
	case -1:
		return e.tokens.Transfer(e.cfg.Cash, e.cfg.Address, caller, new(big.Int).Neg(delta))
	}
	return nil
}

// WithdrawFromSettled pays a settled position's balance to recipient and
// burns the position token. Only the token owner may call.
func (e *Engine) WithdrawFromSettled(caller ethcommon.Address, id uint64, recipient ethcommon.Address) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	owner, err := e.nfts.OwnerOf(e.cfg.Address, id)
	if err != nil {
		return nil, ErrPositionNotFound
	}
	if owner != caller {
		return nil, ErrNotPositionOwner
	}
	pos, err := e.Position(id)
	if err != nil {
		return nil, err
	}
	if !pos.Settled {
		return nil, ErrNotSettled
	}
	amount := cloneBig(pos.Withdrawable)
	pos.Withdrawable = big.NewInt(0)
	if err := e.state.Store(positionKey(id), pos); err != nil {
		return nil, err
	}
	if err := e.nfts.Burn(e.cfg.Address, id); err != nil {
		return nil, err
	}
	e.emit(NewPositionWithdrawnEvent(id, recipient, amount))
	if err := e.tokens.Transfer(e.cfg.Cash, e.cfg.Address, recipient, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// CancelAndWithdraw unwinds an unsettled position held by the taker contract,
// refunding the full principal to it.
func (e *Engine) CancelAndWithdraw(caller ethcommon.Address, id uint64) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if caller != e.cfg.Taker {
		return nil, ErrNotTaker
	}
	owner, err := e.nfts.OwnerOf(e.cfg.Address, id)
	if err != nil {
		return nil, ErrPositionNotFound
	}
	if owner != caller {
		return nil, ErrNotTakerOwned
	}
	pos, err := e.Position(id)
	if err != nil {
		return nil, err
	}
	if pos.Settled {
		return nil, ErrAlreadySettled
	}
	refund := cloneBig(pos.ProviderLocked)
	pos.Settled = true
	pos.Withdrawable = big.NewInt(0)
	if err := e.state.Store(positionKey(id), pos); err != nil {
		return nil, err
	}
	if err := e.nfts.Burn(e.cfg.Address, id); err != nil {
		return nil, err
	}
	e.emit(NewPositionCancelledEvent(pos, refund))
	if err := e.tokens.Transfer(e.cfg.Cash, e.cfg.Address, caller, refund); err != nil {
		return nil, err
	}
	return refund, nil
}
