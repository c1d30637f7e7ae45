package taker

import (
	"errors"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/core/events"
	"collarfi/core/state"
	"collarfi/core/types"
	"collarfi/native/common"
	"collarfi/native/oracle"
	"collarfi/native/provider"
)

var (
	ErrInvalidStrikes      = common.NewError(common.KindValidation, "taker: invalid strikes")
	ErrInvalidPrice        = common.NewError(common.KindValidation, "taker: invalid price")
	ErrStrikesNotDifferent = common.NewError(common.KindValidation, "taker: strike prices aren't different")
	ErrInvalidAmount       = common.NewError(common.KindValidation, "taker: invalid amount")
	ErrPositionNotFound    = common.NewError(common.KindValidation, "taker: position does not exist")
	ErrUnsupportedTaker    = common.NewError(common.KindAuthorization, "taker: unsupported taker")
	ErrUnsupportedProvider = common.NewError(common.KindAuthorization, "taker: unsupported provider contract")
	ErrOracleMismatch      = common.NewError(common.KindValidation, "taker: oracle assets mismatch")
	ErrNotPositionOwner    = common.NewError(common.KindAuthorization, "taker: not owner of ID")
	ErrNotProviderOwner    = common.NewError(common.KindAuthorization, "taker: not owner of provider ID")
	ErrNotExpired          = common.NewError(common.KindValidation, "taker: not expired")
	ErrAlreadySettled      = common.NewError(common.KindState, "taker: already settled")
	ErrNotSettled          = common.NewError(common.KindState, "taker: not settled")
	ErrProviderMismatch    = common.NewError(common.KindState, "taker: provider position mismatch")
	ErrOracleNotConfigured = common.NewError(common.KindOracle, "taker: oracle not configured")
	errNilState            = common.NewError(common.KindState, "taker: state not configured")
)

const (
	positionPrefix = "taker/position"
	counterKey     = "taker/counter"
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
	Mint(collection, to ethcommon.Address, id uint64) error
	Burn(collection ethcommon.Address, id uint64) error
	TransferFrom(collection, caller, from, to ethcommon.Address, id uint64) error
}

type providerLedger interface {
	Address() ethcommon.Address
	Offer(id uint64) (*provider.Offer, error)
	Position(id uint64) (*provider.Position, error)
	MintFromOffer(caller ethcommon.Address, offerID uint64, providerLocked *big.Int, takerID uint64) (uint64, error)
	SettlePosition(caller ethcommon.Address, id uint64, delta *big.Int) error
	CancelAndWithdraw(caller ethcommon.Address, id uint64) (*big.Int, error)
}

// Config identifies the deployment of a taker engine.
type Config struct {
	Address    ethcommon.Address
	Underlying ethcommon.Address
	Cash       ethcommon.Address
}

// Engine opens, settles and unwinds paired positions.
type Engine struct {
	cfg      Config
	state    engineState
	hub      configHub
	tokens   tokenLedger
	nfts     nftRegistry
	provider providerLedger
	oracle   oracle.PriceOracle
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine creates a taker engine with a no-op emitter.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

func (e *Engine) SetState(st engineState)       { e.state = st }
func (e *Engine) SetConfigHub(h configHub)      { e.hub = h }
func (e *Engine) SetTokens(t tokenLedger)       { e.tokens = t }
func (e *Engine) SetNFTs(n nftRegistry)         { e.nfts = n }
func (e *Engine) SetProvider(p providerLedger)  { e.provider = p }
func (e *Engine) Address() ethcommon.Address    { return e.cfg.Address }
func (e *Engine) Underlying() ethcommon.Address { return e.cfg.Underlying }
func (e *Engine) Cash() ethcommon.Address       { return e.cfg.Cash }
func (e *Engine) Oracle() oracle.PriceOracle    { return e.oracle }
func (e *Engine) ProviderContract() ethcommon.Address {
	if e.provider == nil {
		return ethcommon.Address{}
	}
	return e.provider.Address()
}

// SetOracle installs the price source. Its assets must match the engine's.
func (e *Engine) SetOracle(o oracle.PriceOracle) error {
	if o == nil || o.BaseToken() != e.cfg.Underlying || o.QuoteToken() != e.cfg.Cash {
		return ErrOracleMismatch
	}
	e.oracle = o
	return nil
}

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
	if e.state == nil || e.hub == nil || e.tokens == nil || e.nfts == nil || e.provider == nil {
		return errNilState
	}
	if e.oracle == nil {
		return ErrOracleNotConfigured
	}
	return common.Guard(e.hub, common.ModuleTaker)
}

func positionKey(id uint64) []byte { return state.Key(positionPrefix, state.Uint64Bytes(id)) }

// NextPositionID returns the id the next paired position will receive.
func (e *Engine) NextPositionID() uint64 {
	if e.state == nil {
		return 1
	}
	var last uint64
	_, _ = e.state.Load(state.Key(counterKey), &last)
	return last + 1
}

func (e *Engine) allocateID() (uint64, error) {
	id := e.NextPositionID()
	if err := e.state.Store(state.Key(counterKey), id); err != nil {
		return 0, err
	}
	return id, nil
}

// Position returns the stored taker position.
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

// CurrentOraclePrice returns the oracle's current price.
func (e *Engine) CurrentOraclePrice() (*big.Int, error) {
	if e.oracle == nil {
		return nil, ErrOracleNotConfigured
	}
	return e.oracle.CurrentPrice()
}

// HistoricalOraclePrice returns the price at timestamp, falling back to the
// current price only when history is unavailable. Any other oracle failure
// is returned. The flag reports which price was used.
func (e *Engine) HistoricalOraclePrice(timestamp uint64) (*big.Int, bool, error) {
	if e.oracle == nil {
		return nil, false, ErrOracleNotConfigured
	}
	price, err := e.oracle.PastPrice(timestamp)
	if err == nil {
		return price, true, nil
	}
	if !errors.Is(err, oracle.ErrHistoricalUnavailable) {
		return nil, false, err
	}
	price, err = e.oracle.CurrentPrice()
	if err != nil {
		return nil, false, err
	}
	return price, false, nil
}

// PreviewSettlement replays settlement of position at endPrice without
// touching state.
func (e *Engine) PreviewSettlement(pos *Position, endPrice *big.Int) (*Settlement, error) {
	return CalculateSettlement(pos, endPrice)
}

// OpenPairedPosition locks takerLocked from caller against a provider offer
// and mints the taker token to caller. The provider leg is minted through the
// provider ledger with the strike-ratio sized amount.
func (e *Engine) OpenPairedPosition(caller ethcommon.Address, takerLocked *big.Int, offerID uint64) (uint64, uint64, error) {
	if err := e.guard(); err != nil {
		return 0, 0, err
	}
	if !e.hub.CanOpenPair(e.cfg.Underlying, e.cfg.Cash, e.cfg.Address) {
		return 0, 0, ErrUnsupportedTaker
	}
	if !e.hub.CanOpenPair(e.cfg.Underlying, e.cfg.Cash, e.provider.Address()) {
		return 0, 0, ErrUnsupportedProvider
	}
	if takerLocked == nil || takerLocked.Sign() <= 0 {
		return 0, 0, ErrInvalidAmount
	}
	offer, err := e.provider.Offer(offerID)
	if err != nil {
		return 0, 0, err
	}
	startPrice, err := e.oracle.CurrentPrice()
	if err != nil {
		return 0, 0, err
	}
	pos := &Position{
		ProviderContract:  e.provider.Address(),
		Duration:          offer.Duration,
		Expiration:        e.now() + offer.Duration,
		StartPrice:        startPrice,
		PutStrikePercent:  offer.PutStrikePercent,
		CallStrikePercent: offer.CallStrikePercent,
		TakerLocked:       new(big.Int).Set(takerLocked),
		Withdrawable:      big.NewInt(0),
	}
	if pos.PutStrikePrice().Cmp(startPrice) >= 0 || pos.CallStrikePrice().Cmp(startPrice) <= 0 {
		return 0, 0, ErrStrikesNotDifferent
	}
	providerLocked, err := CalculateProviderLocked(takerLocked, offer.PutStrikePercent, offer.CallStrikePercent)
	if err != nil {
		return 0, 0, err
	}
	if providerLocked.Sign() == 0 {
		return 0, 0, ErrInvalidAmount
	}
	pos.ProviderLocked = providerLocked

	id, err := e.allocateID()
	if err != nil {
		return 0, 0, err
	}
	pos.ID = id
	providerID, err := e.provider.MintFromOffer(e.cfg.Address, offerID, providerLocked, id)
	if err != nil {
		return 0, 0, err
	}
	providerPos, err := e.provider.Position(providerID)
	if err != nil {
		return 0, 0, err
	}
	if providerPos.Expiration != pos.Expiration || providerPos.ProviderLocked.Cmp(providerLocked) != 0 {
		return 0, 0, ErrProviderMismatch
	}
	pos.ProviderID = providerID
	if err := e.state.Store(positionKey(id), pos); err != nil {
		return 0, 0, err
	}
	if err := e.nfts.Mint(e.cfg.Address, caller, id); err != nil {
		return 0, 0, err
	}
	e.emit(NewPairedOpenedEvent(pos, caller, offerID))
	if err := e.tokens.TransferFrom(e.cfg.Cash, e.cfg.Address, caller, e.cfg.Address, takerLocked); err != nil {
		return 0, 0, err
	}
	return id, providerID, nil
}

// SettlePairedPosition settles an expired position at the oracle price for
// its expiration. Anyone may call.
func (e *Engine) SettlePairedPosition(caller ethcommon.Address, id uint64) (*Settlement, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	pos, err := e.Position(id)
	if err != nil {
		return nil, err
	}
	if e.now() < pos.Expiration {
		return nil, ErrNotExpired
	}
	if pos.Settled {
		return nil, ErrAlreadySettled
	}
	endPrice, historical, err := e.HistoricalOraclePrice(pos.Expiration)
	if err != nil {
		return nil, err
	}
	settlement, err := CalculateSettlement(pos, endPrice)
	if err != nil {
		return nil, err
	}
	pos.Settled = true
	pos.Withdrawable = new(big.Int).Set(settlement.TakerBalance)
	if err := e.state.Store(positionKey(id), pos); err != nil {
		return nil, err
	}
	e.emit(NewPairedSettledEvent(pos, settlement, historical))

	providerAddr := e.provider.Address()
	if settlement.ProviderDelta.Sign() > 0 {
		if err := e.tokens.Approve(e.cfg.Cash, e.cfg.Address, providerAddr, settlement.ProviderDelta); err != nil {
			return nil, err
		}
	}
	if err := e.provider.SettlePosition(e.cfg.Address, pos.ProviderID, settlement.ProviderDelta); err != nil {
		return nil, err
	}
	return settlement, nil
}

// WithdrawFromSettled pays the settled balance to the token owner and burns
// the token.
func (e *Engine) WithdrawFromSettled(caller ethcommon.Address, id uint64) (*big.Int, error) {
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
	amount := new(big.Int).Set(pos.Withdrawable)
	pos.Withdrawable = big.NewInt(0)
	if err := e.state.Store(positionKey(id), pos); err != nil {
		return nil, err
	}
	if err := e.nfts.Burn(e.cfg.Address, id); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawnEvent(id, caller, amount))
	if err := e.tokens.Transfer(e.cfg.Cash, e.cfg.Address, caller, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// CancelPairedPosition unwinds an unsettled position whose two tokens are
// both held by caller, returning both legs' cash to caller. The caller must
// have approved this engine for the provider token.
func (e *Engine) CancelPairedPosition(caller ethcommon.Address, id uint64) (*big.Int, error) {
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
	providerAddr := e.provider.Address()
	providerOwner, err := e.nfts.OwnerOf(providerAddr, pos.ProviderID)
	if err != nil || providerOwner != caller {
		return nil, ErrNotProviderOwner
	}
	if pos.Settled {
		return nil, ErrAlreadySettled
	}
	pos.Settled = true
	pos.Withdrawable = big.NewInt(0)
	if err := e.state.Store(positionKey(id), pos); err != nil {
		return nil, err
	}
	if err := e.nfts.Burn(e.cfg.Address, id); err != nil {
		return nil, err
	}
	if err := e.nfts.TransferFrom(providerAddr, e.cfg.Address, caller, e.cfg.Address, pos.ProviderID); err != nil {
		return nil, err
	}
	refund, err := e.provider.CancelAndWithdraw(e.cfg.Address, pos.ProviderID)
	if err != nil {
		return nil, err
	}
	total := new(big.Int).Add(pos.TakerLocked, refund)
	e.emit(NewPairedCancelledEvent(pos, caller, total))
	if err := e.tokens.Transfer(e.cfg.Cash, e.cfg.Address, caller, total); err != nil {
		return nil, err
	}
	return total, nil
}
