package loans

import (
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/core/events"
	"collarfi/core/state"
	"collarfi/core/types"
	"collarfi/native/common"
	"collarfi/native/escrow"
	"collarfi/native/oracle"
	"collarfi/native/provider"
	"collarfi/native/rolls"
	"collarfi/native/swap"
	"collarfi/native/taker"
)

var (
	ErrUnsupportedLoans    = common.NewError(common.KindAuthorization, "loans: unsupported loans contract")
	ErrUnsupportedTaker    = common.NewError(common.KindAuthorization, "loans: unsupported taker contract")
	ErrUnsupportedRolls    = common.NewError(common.KindAuthorization, "loans: unsupported rolls contract")
	ErrUnsupportedEscrow   = common.NewError(common.KindAuthorization, "loans: unsupported escrow contract")
	ErrSwapperNotAllowed   = common.NewError(common.KindAuthorization, "loans: swapper not allowed")
	ErrNotOwnerOrKeeper    = common.NewError(common.KindAuthorization, "loans: not NFT owner or allowed keeper")
	ErrNotLoanOwner        = common.NewError(common.KindAuthorization, "loans: not NFT owner")
	ErrNotEscrowOwner      = common.NewError(common.KindAuthorization, "loans: not escrow NFT owner")
	ErrNotConfigOwner      = common.NewError(common.KindAuthorization, "loans: not config hub owner")
	ErrInvalidAmount       = common.NewError(common.KindValidation, "loans: invalid underlying amount")
	ErrLoanNotFound        = common.NewError(common.KindValidation, "loans: loan does not exist")
	ErrLoanTooLow          = common.NewError(common.KindEconomic, "loans: loan amount too low")
	ErrNegativeLoan        = common.NewError(common.KindEconomic, "loans: loan amount negative")
	ErrSlippage            = common.NewError(common.KindEconomic, "loans: slippage exceeded")
	ErrBalanceMismatch     = common.NewError(common.KindEconomic, "loans: balance update mismatch")
	ErrSwapPriceDeviation  = common.NewError(common.KindEconomic, "loans: swap and oracle price too different")
	ErrDurationMismatch    = common.NewError(common.KindValidation, "loans: duration mismatch")
	ErrLoanIDMismatch      = common.NewError(common.KindState, "loans: unexpected loanId")
	ErrInvalidRollOffer    = common.NewError(common.KindValidation, "loans: invalid rollId")
	ErrNotEscrowLoan       = common.NewError(common.KindValidation, "loans: not an escrowed loan")
	ErrGracePeriodNotEnded = common.NewError(common.KindValidation, "loans: cannot foreclose yet")
	ErrLoanClosed          = common.NewError(common.KindState, "loans: loan closed")
	ErrUnexpectedNFT       = common.NewError(common.KindValidation, "loans: unexpected token")
	ErrEngineNotConfigured = common.NewError(common.KindState, "loans: collaborators not configured")
	errNilState            = common.NewError(common.KindState, "loans: state not configured")
)

const (
	loanPrefix    = "loans/loan"
	keeperPrefix  = "loans/keeper"
	swapperPrefix = "loans/swapper"
)

type engineState interface {
	Load(key []byte, out interface{}) (bool, error)
	Store(key []byte, value interface{}) error
	Remove(key []byte) error
}

type configHub interface {
	common.PauseView
	Owner() ethcommon.Address
	CanOpenPair(underlying, cash, target ethcommon.Address) bool
	CanOpenSingle(asset, target ethcommon.Address) bool
}

type tokenLedger interface {
	BalanceOf(asset, holder ethcommon.Address) (*big.Int, error)
	Transfer(asset, from, to ethcommon.Address, amount *big.Int) error
	TransferFrom(asset, spender, from, to ethcommon.Address, amount *big.Int) error
	Approve(asset, owner, spender ethcommon.Address, amount *big.Int) error
}

type nftRegistry interface {
	OwnerOf(collection ethcommon.Address, id uint64) (ethcommon.Address, error)
	Mint(collection, to ethcommon.Address, id uint64) error
	Burn(collection ethcommon.Address, id uint64) error
	Approve(collection, caller, spender ethcommon.Address, id uint64) error
	SafeTransferFrom(collection, caller, from, to ethcommon.Address, id uint64, data []byte) error
}

type takerEngine interface {
	Address() ethcommon.Address
	Underlying() ethcommon.Address
	Cash() ethcommon.Address
	Oracle() oracle.PriceOracle
	NextPositionID() uint64
	Position(id uint64) (*taker.Position, error)
	HistoricalOraclePrice(timestamp uint64) (*big.Int, bool, error)
	PreviewSettlement(pos *taker.Position, endPrice *big.Int) (*taker.Settlement, error)
	OpenPairedPosition(caller ethcommon.Address, takerLocked *big.Int, offerID uint64) (uint64, uint64, error)
	SettlePairedPosition(caller ethcommon.Address, id uint64) (*taker.Settlement, error)
	WithdrawFromSettled(caller ethcommon.Address, id uint64) (*big.Int, error)
}

type providerLedger interface {
	Offer(id uint64) (*provider.Offer, error)
}

type escrowLedger interface {
	Address() ethcommon.Address
	Offer(id uint64) (*escrow.Offer, error)
	Escrow(id uint64) (*escrow.Escrow, error)
	StartEscrow(caller ethcommon.Address, offerID uint64, escrowed, fee *big.Int, loanID uint64) (uint64, error)
	EndEscrow(caller ethcommon.Address, id uint64, repaid *big.Int) (*big.Int, error)
	SwitchEscrow(caller ethcommon.Address, releaseID, offerID uint64, newFee *big.Int, newLoanID uint64) (uint64, *big.Int, error)
	CappedGracePeriod(id uint64, feeAmount *big.Int) (uint64, error)
}

type rollAuction interface {
	Address() ethcommon.Address
	Offer(id uint64) (*rolls.Offer, error)
	PreviewRoll(id uint64, price *big.Int) (*rolls.Preview, error)
	ExecuteRoll(caller ethcommon.Address, id uint64, minToTaker *big.Int) (*rolls.Result, error)
}

type swapDirectory interface {
	Lookup(addr ethcommon.Address) (swap.Swapper, error)
}

// Config identifies the deployment of a loan orchestrator.
type Config struct {
	Address    ethcommon.Address
	Underlying ethcommon.Address
	Cash       ethcommon.Address
}

// Engine wraps taker positions into loans against swapped collateral.
type Engine struct {
	cfg      Config
	state    engineState
	hub      configHub
	tokens   tokenLedger
	nfts     nftRegistry
	taker    takerEngine
	provider providerLedger
	escrow   escrowLedger
	rolls    rollAuction
	swappers swapDirectory
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine creates a loan orchestrator with a no-op emitter.
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
func (e *Engine) SetEscrow(esc escrowLedger)   { e.escrow = esc }
func (e *Engine) SetRolls(r rollAuction)       { e.rolls = r }
func (e *Engine) SetSwappers(d swapDirectory)  { e.swappers = d }
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
	if e.taker == nil || e.provider == nil || e.swappers == nil {
		return ErrEngineNotConfigured
	}
	return common.Guard(e.hub, common.ModuleLoans)
}

// OnNFTReceived accepts taker tokens only; loans never custody other tokens.
func (e *Engine) OnNFTReceived(_, _, collection ethcommon.Address, _ uint64, _ []byte) error {
	if e.taker == nil || collection != e.taker.Address() {
		return ErrUnexpectedNFT
	}
	return nil
}

func loanKey(id uint64) []byte { return state.Key(loanPrefix, state.Uint64Bytes(id)) }

func keeperKey(id uint64, owner ethcommon.Address) []byte {
	return state.Key(keeperPrefix, state.Uint64Bytes(id), owner.Bytes())
}

func swapperKey(addr ethcommon.Address) []byte { return state.Key(swapperPrefix, addr.Bytes()) }

// Loan returns the stored loan.
func (e *Engine) Loan(id uint64) (*Loan, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var loan Loan
	ok, err := e.state.Load(loanKey(id), &loan)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	return &loan, nil
}

func (e *Engine) storeLoan(loan *Loan) error { return e.state.Store(loanKey(loan.ID), loan) }

// SetKeeperApproval lets keeper close loan id on the caller's behalf while
// the caller owns it. A transfer of the loan token voids the approval.
func (e *Engine) SetKeeperApproval(caller ethcommon.Address, id uint64, keeper ethcommon.Address, enabled bool) error {
	if err := e.guard(); err != nil {
		return err
	}
	var err error
	if enabled {
		err = e.state.Store(keeperKey(id, caller), keeper)
	} else {
		err = e.state.Remove(keeperKey(id, caller))
	}
	if err != nil {
		return err
	}
	e.emit(NewKeeperApprovalEvent(caller, keeper, id, enabled))
	return nil
}

// KeeperFor returns the keeper owner approved for loan id, if any.
func (e *Engine) KeeperFor(id uint64, owner ethcommon.Address) (ethcommon.Address, bool) {
	if e.state == nil {
		return ethcommon.Address{}, false
	}
	var keeper ethcommon.Address
	ok, err := e.state.Load(keeperKey(id, owner), &keeper)
	return keeper, err == nil && ok
}

// SetSwapperAllowed adds or removes a swapper from the allow-list. Only the
// config hub owner may call.
func (e *Engine) SetSwapperAllowed(caller, swapper ethcommon.Address, allowed bool) error {
	if e.state == nil || e.hub == nil {
		return errNilState
	}
	if caller != e.hub.Owner() {
		return ErrNotConfigOwner
	}
	var err error
	if allowed {
		err = e.state.Store(swapperKey(swapper), true)
	} else {
		err = e.state.Remove(swapperKey(swapper))
	}
	if err != nil {
		return err
	}
	e.emit(NewSwapperAllowedEvent(swapper, allowed))
	return nil
}

// IsSwapperAllowed reports whether swapper is on the allow-list.
func (e *Engine) IsSwapperAllowed(swapper ethcommon.Address) bool {
	if e.state == nil {
		return false
	}
	var allowed bool
	ok, err := e.state.Load(swapperKey(swapper), &allowed)
	return err == nil && ok && allowed
}

// EscrowGracePeriodEnd returns when the escrow supplier may foreclose loan
// id: the position's expiration plus the grace period the position's value
// can pay late fees for. Oracle failures fall back to the escrow's maximum.
func (e *Engine) EscrowGracePeriodEnd(id uint64) (uint64, error) {
	if e.taker == nil || e.escrow == nil {
		return 0, ErrEngineNotConfigured
	}
	loan, err := e.Loan(id)
	if err != nil {
		return 0, err
	}
	if !loan.UsesEscrow {
		return 0, ErrNotEscrowLoan
	}
	pos, err := e.taker.Position(id)
	if err != nil {
		return 0, err
	}
	esc, err := e.escrow.Escrow(loan.EscrowID)
	if err != nil {
		return 0, err
	}
	grace := esc.MaxGracePeriod
	if value, ok := e.positionValueInUnderlying(pos); ok {
		if capped, err := e.escrow.CappedGracePeriod(loan.EscrowID, value); err == nil {
			grace = capped
		}
	}
	return pos.Expiration + grace, nil
}

// positionValueInUnderlying values the taker position at its expiration
// price. The boolean is false when the oracle cannot price it.
func (e *Engine) positionValueInUnderlying(pos *taker.Position) (*big.Int, bool) {
	priceOracle := e.taker.Oracle()
	if priceOracle == nil {
		return nil, false
	}
	price, _, err := e.taker.HistoricalOraclePrice(pos.Expiration)
	if err != nil {
		return nil, false
	}
	cash := pos.Withdrawable
	if !pos.Settled {
		settlement, err := e.taker.PreviewSettlement(pos, price)
		if err != nil {
			return nil, false
		}
		cash = settlement.TakerBalance
	}
	value, err := priceOracle.ConvertToBaseAmount(cash, price)
	if err != nil {
		return nil, false
	}
	return value, true
}
