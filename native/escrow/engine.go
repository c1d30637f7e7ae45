package escrow

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
	ErrInterestAPRTooHigh  = common.NewError(common.KindValidation, "escrow: interest APR too high")
	ErrGracePeriodTooShort = common.NewError(common.KindValidation, "escrow: grace period too short")
	ErrGracePeriodTooLong  = common.NewError(common.KindValidation, "escrow: grace period too long")
	ErrLateFeeAPRTooHigh   = common.NewError(common.KindValidation, "escrow: late fee APR too high")
	ErrUnsupportedDuration = common.NewError(common.KindValidation, "escrow: unsupported duration")
	ErrInvalidAmount       = common.NewError(common.KindValidation, "escrow: invalid amount")
	ErrOfferNotFound       = common.NewError(common.KindValidation, "escrow: invalid offer")
	ErrEscrowNotFound      = common.NewError(common.KindValidation, "escrow: escrow does not exist")
	ErrAmountTooLow        = common.NewError(common.KindValidation, "escrow: amount too low")
	ErrAmountTooHigh       = common.NewError(common.KindValidation, "escrow: amount too high")
	ErrInsufficientFee     = common.NewError(common.KindEconomic, "escrow: insufficient fee")
	ErrNotSupplier         = common.NewError(common.KindAuthorization, "escrow: not offer supplier")
	ErrUnauthorizedLoans   = common.NewError(common.KindAuthorization, "escrow: unauthorized loans contract")
	ErrUnsupportedContract = common.NewError(common.KindAuthorization, "escrow: unsupported escrow contract")
	ErrNotEscrowOwner      = common.NewError(common.KindAuthorization, "escrow: not escrow owner")
	ErrExpired             = common.NewError(common.KindValidation, "escrow: expired")
	ErrGraceNotElapsed     = common.NewError(common.KindValidation, "escrow: grace period not elapsed")
	ErrAlreadyReleased     = common.NewError(common.KindState, "escrow: already released")
	ErrNotReleased         = common.NewError(common.KindState, "escrow: not released")
	errNilState            = common.NewError(common.KindState, "escrow: state not configured")
)

const (
	offerPrefix   = "escrow/offer"
	escrowPrefix  = "escrow/escrow"
	counterPrefix = "escrow/counter"
)

type engineState interface {
	Load(key []byte, out interface{}) (bool, error)
	Store(key []byte, value interface{}) error
	Remove(key []byte) error
}

type configHub interface {
	common.PauseView
	IsValidCollarDuration(duration uint64) bool
	CanOpenSingle(asset, target ethcommon.Address) bool
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

// Config identifies the deployment of an escrow ledger.
type Config struct {
	Address ethcommon.Address
	Asset   ethcommon.Address
}

// Engine manages escrow offers and escrows backing loans.
type Engine struct {
	cfg     Config
	state   engineState
	hub     configHub
	tokens  tokenLedger
	nfts    nftRegistry
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an escrow ledger with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

func (e *Engine) SetState(st engineState)    { e.state = st }
func (e *Engine) SetConfigHub(h configHub)   { e.hub = h }
func (e *Engine) SetTokens(t tokenLedger)    { e.tokens = t }
func (e *Engine) SetNFTs(n nftRegistry)      { e.nfts = n }
func (e *Engine) Address() ethcommon.Address { return e.cfg.Address }
func (e *Engine) Asset() ethcommon.Address   { return e.cfg.Asset }

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
	return common.Guard(e.hub, common.ModuleEscrow)
}

func offerKey(id uint64) []byte  { return state.Key(offerPrefix, state.Uint64Bytes(id)) }
func escrowKey(id uint64) []byte { return state.Key(escrowPrefix, state.Uint64Bytes(id)) }

func (e *Engine) peekID(kind string) uint64 {
	if e.state == nil {
		return 1
	}
	var last uint64
	_, _ = e.state.Load(state.Key(counterPrefix, []byte(kind)), &last)
	return last + 1
}

func (e *Engine) allocateID(kind string) (uint64, error) {
	id := e.peekID(kind)
	if err := e.state.Store(state.Key(counterPrefix, []byte(kind)), id); err != nil {
		return 0, err
	}
	return id, nil
}

// NextEscrowID returns the id the next escrow will receive.
func (e *Engine) NextEscrowID() uint64 { return e.peekID("escrow") }

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

// Escrow returns the stored escrow.
func (e *Engine) Escrow(id uint64) (*Escrow, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var esc Escrow
	ok, err := e.state.Load(escrowKey(id), &esc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return &esc, nil
}

// CreateOffer deposits amount of the escrow asset at the given terms.
func (e *Engine) CreateOffer(caller ethcommon.Address, amount *big.Int, duration, interestAPR, maxGracePeriod, lateFeeAPR uint64, minEscrow *big.Int) (uint64, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	if interestAPR > MaxInterestAPRBips {
		return 0, ErrInterestAPRTooHigh
	}
	if maxGracePeriod < MinGracePeriod {
		return 0, ErrGracePeriodTooShort
	}
	if maxGracePeriod > MaxGracePeriod {
		return 0, ErrGracePeriodTooLong
	}
	if lateFeeAPR > MaxLateFeeAPRBips {
		return 0, ErrLateFeeAPRTooHigh
	}
	if !e.hub.IsValidCollarDuration(duration) {
		return 0, ErrUnsupportedDuration
	}
	if amount == nil || amount.Sign() < 0 || (minEscrow != nil && minEscrow.Sign() < 0) {
		return 0, ErrInvalidAmount
	}
	id, err := e.allocateID("offer")
	if err != nil {
		return 0, err
	}
	offer := &Offer{
		ID:             id,
		Supplier:       caller,
		Available:      cloneBig(amount),
		Duration:       duration,
		InterestAPR:    interestAPR,
		MaxGracePeriod: maxGracePeriod,
		LateFeeAPR:     lateFeeAPR,
		MinEscrow:      cloneBig(minEscrow),
	}
	if err := e.state.Store(offerKey(id), offer); err != nil {
		return 0, err
	}
	e.emit(NewOfferCreatedEvent(offer))
	if err := e.tokens.TransferFrom(e.cfg.Asset, e.cfg.Address, caller, e.cfg.Address, amount); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateOfferAmount sets the offer's available amount, moving exactly the
// difference between the supplier and the ledger.
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
	if offer.Supplier != caller {
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
		return e.tokens.TransferFrom(e.cfg.Asset, e.cfg.Address, caller, e.cfg.Address, new(big.Int).Sub(newAmount, previous))
	case cmp < 0:
		return e.tokens.Transfer(e.cfg.Asset, e.cfg.Address, caller, new(big.Int).Sub(previous, newAmount))
	}
	return nil
}

// InterestFee returns the minimum upfront fee for escrowing escrowed from an
// offer, rounded up.
func (e *Engine) InterestFee(offerID uint64, escrowed *big.Int) (*big.Int, error) {
	offer, err := e.Offer(offerID)
	if err != nil {
		return nil, err
	}
	return common.AnnualFee(escrowed, offer.InterestAPR, offer.Duration)
}

func (e *Engine) checkLoansCaller(caller ethcommon.Address) error {
	if !e.hub.CanOpenSingle(e.cfg.Asset, caller) {
		return ErrUnauthorizedLoans
	}
	if !e.hub.CanOpenSingle(e.cfg.Asset, e.cfg.Address) {
		return ErrUnsupportedContract
	}
	return nil
}

// startEscrow records a new escrow without moving tokens.
func (e *Engine) startEscrow(caller ethcommon.Address, offerID uint64, escrowed, fee *big.Int, loanID uint64) (*Escrow, error) {
	if err := e.checkLoansCaller(caller); err != nil {
		return nil, err
	}
	offer, err := e.Offer(offerID)
	if err != nil {
		return nil, err
	}
	if !e.hub.IsValidCollarDuration(offer.Duration) {
		return nil, ErrUnsupportedDuration
	}
	if escrowed == nil || fee == nil || escrowed.Sign() < 0 || fee.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if escrowed.Cmp(offer.MinEscrow) < 0 {
		return nil, ErrAmountTooLow
	}
	if escrowed.Cmp(offer.Available) > 0 {
		return nil, ErrAmountTooHigh
	}
	minFee, err := common.AnnualFee(escrowed, offer.InterestAPR, offer.Duration)
	if err != nil {
		return nil, err
	}
	if fee.Cmp(minFee) < 0 {
		return nil, ErrInsufficientFee
	}
	offer.Available.Sub(offer.Available, escrowed)
	if err := e.state.Store(offerKey(offerID), offer); err != nil {
		return nil, err
	}
	id, err := e.allocateID("escrow")
	if err != nil {
		return nil, err
	}
	esc := &Escrow{
		ID:             id,
		OfferID:        offerID,
		Loans:          caller,
		LoanID:         loanID,
		Escrowed:       cloneBig(escrowed),
		MaxGracePeriod: offer.MaxGracePeriod,
		LateFeeAPR:     offer.LateFeeAPR,
		Duration:       offer.Duration,
		Expiration:     e.now() + offer.Duration,
		InterestHeld:   cloneBig(fee),
		Withdrawable:   big.NewInt(0),
	}
	if err := e.state.Store(escrowKey(id), esc); err != nil {
		return nil, err
	}
	if err := e.nfts.Mint(e.cfg.Address, offer.Supplier, id); err != nil {
		return nil, err
	}
	e.emit(NewStartedEvent(esc, fee))
	return esc, nil
}

// StartEscrow escrows escrowed from an offer for loanID. The loans contract
// pays escrowed plus fee and receives the supplier's escrowed in exchange.
func (e *Engine) StartEscrow(caller ethcommon.Address, offerID uint64, escrowed, fee *big.Int, loanID uint64) (uint64, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	esc, err := e.startEscrow(caller, offerID, escrowed, fee, loanID)
	if err != nil {
		return 0, err
	}
	if err := e.tokens.TransferFrom(e.cfg.Asset, e.cfg.Address, caller, e.cfg.Address, new(big.Int).Add(escrowed, fee)); err != nil {
		return 0, err
	}
	if err := e.tokens.Transfer(e.cfg.Asset, e.cfg.Address, caller, escrowed); err != nil {
		return 0, err
	}
	return esc.ID, nil
}

// LateFee returns the late fee accrued by now: zero up to expiration, then
// linear in the overdue time capped at the grace period, rounded up.
func (e *Engine) LateFee(esc *Escrow) (*big.Int, error) {
	now := e.now()
	if now <= esc.Expiration {
		return big.NewInt(0), nil
	}
	overdue := now - esc.Expiration
	if overdue > esc.MaxGracePeriod {
		overdue = esc.MaxGracePeriod
	}
	return common.AnnualFee(esc.Escrowed, esc.LateFeeAPR, overdue)
}

// PreviewRelease computes the release split if fromLoans were repaid now.
func (e *Engine) PreviewRelease(id uint64, fromLoans *big.Int) (*Release, error) {
	esc, err := e.Escrow(id)
	if err != nil {
		return nil, err
	}
	return e.releaseCalculations(esc, fromLoans)
}

func (e *Engine) releaseCalculations(esc *Escrow, fromLoans *big.Int) (*Release, error) {
	if fromLoans == nil || fromLoans.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	lateFee, err := e.LateFee(esc)
	if err != nil {
		return nil, err
	}
	refund := big.NewInt(0)
	if now := e.now(); now < esc.Expiration && esc.Duration > 0 {
		refund, err = common.MulDiv(esc.InterestHeld, new(big.Int).SetUint64(esc.Expiration-now), new(big.Int).SetUint64(esc.Duration))
		if err != nil {
			return nil, err
		}
	}
	target := new(big.Int).Add(esc.Escrowed, esc.InterestHeld)
	target.Add(target, lateFee)
	target.Sub(target, refund)
	available := new(big.Int).Add(esc.Escrowed, esc.InterestHeld)
	available.Add(available, fromLoans)
	withdrawal := common.Min(target, available)
	return &Release{
		Withdrawal:     withdrawal,
		ToLoans:        new(big.Int).Sub(available, withdrawal),
		InterestRefund: refund,
		LateFee:        lateFee,
	}, nil
}

func (e *Engine) releaseEscrow(caller ethcommon.Address, id uint64, fromLoans *big.Int) (*Escrow, *Release, error) {
	esc, err := e.Escrow(id)
	if err != nil {
		return nil, nil, err
	}
	if caller != esc.Loans {
		return nil, nil, ErrUnauthorizedLoans
	}
	if esc.Released {
		return nil, nil, ErrAlreadyReleased
	}
	release, err := e.releaseCalculations(esc, fromLoans)
	if err != nil {
		return nil, nil, err
	}
	esc.Released = true
	esc.Withdrawable = cloneBig(release.Withdrawal)
	if err := e.state.Store(escrowKey(id), esc); err != nil {
		return nil, nil, err
	}
	e.emit(NewReleasedEvent(esc, fromLoans, release))
	return esc, release, nil
}

// EndEscrow releases an escrow with repaid returned by the loans contract
// that started it. It returns what is sent back to the loans contract.
func (e *Engine) EndEscrow(caller ethcommon.Address, id uint64, repaid *big.Int) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	_, release, err := e.releaseEscrow(caller, id, repaid)
	if err != nil {
		return nil, err
	}
	if err := e.tokens.TransferFrom(e.cfg.Asset, e.cfg.Address, caller, e.cfg.Address, repaid); err != nil {
		return nil, err
	}
	if err := e.tokens.Transfer(e.cfg.Asset, e.cfg.Address, caller, release.ToLoans); err != nil {
		return nil, err
	}
	return release.ToLoans, nil
}

// SwitchEscrow releases an unexpired escrow and starts a new one for the same
// escrowed amount against another offer. The user's deposit carries over, so
// only the new fee and the old escrow's interest refund move.
func (e *Engine) SwitchEscrow(caller ethcommon.Address, releaseID, offerID uint64, newFee *big.Int, newLoanID uint64) (uint64, *big.Int, error) {
	if err := e.guard(); err != nil {
		return 0, nil, err
	}
	previous, err := e.Escrow(releaseID)
	if err != nil {
		return 0, nil, err
	}
	if e.now() > previous.Expiration {
		return 0, nil, ErrExpired
	}
	_, release, err := e.releaseEscrow(caller, releaseID, big.NewInt(0))
	if err != nil {
		return 0, nil, err
	}
	next, err := e.startEscrow(caller, offerID, previous.Escrowed, newFee, newLoanID)
	if err != nil {
		return 0, nil, err
	}
	feeRefund := release.ToLoans
	e.emit(NewSwitchedEvent(releaseID, next.ID, feeRefund))
	if err := e.tokens.TransferFrom(e.cfg.Asset, e.cfg.Address, caller, e.cfg.Address, newFee); err != nil {
		return 0, nil, err
	}
	if err := e.tokens.Transfer(e.cfg.Asset, e.cfg.Address, caller, feeRefund); err != nil {
		return 0, nil, err
	}
	return next.ID, feeRefund, nil
}

// WithdrawReleased pays a released escrow's balance to its owner and burns
// the token.
func (e *Engine) WithdrawReleased(caller ethcommon.Address, id uint64) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	owner, err := e.nfts.OwnerOf(e.cfg.Address, id)
	if err != nil {
		return nil, ErrEscrowNotFound
	}
	if owner != caller {
		return nil, ErrNotEscrowOwner
	}
	esc, err := e.Escrow(id)
	if err != nil {
		return nil, err
	}
	if !esc.Released {
		return nil, ErrNotReleased
	}
	amount := cloneBig(esc.Withdrawable)
	esc.Withdrawable = big.NewInt(0)
	if err := e.state.Store(escrowKey(id), esc); err != nil {
		return nil, err
	}
	if err := e.nfts.Burn(e.cfg.Address, id); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawnEvent(id, amount))
	if err := e.tokens.Transfer(e.cfg.Asset, e.cfg.Address, caller, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// SeizeEscrow is the supplier's last resort when an escrow was never
// released: after expiration plus the maximum grace period the owner takes
// the escrowed amount and the interest held.
func (e *Engine) SeizeEscrow(caller ethcommon.Address, id uint64) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	owner, err := e.nfts.OwnerOf(e.cfg.Address, id)
	if err != nil {
		return nil, ErrEscrowNotFound
	}
	if owner != caller {
		return nil, ErrNotEscrowOwner
	}
	esc, err := e.Escrow(id)
	if err != nil {
		return nil, err
	}
	if esc.Released {
		return nil, ErrAlreadyReleased
	}
	if e.now() <= esc.Expiration+esc.MaxGracePeriod {
		return nil, ErrGraceNotElapsed
	}
	amount := new(big.Int).Add(esc.Escrowed, esc.InterestHeld)
	esc.Released = true
	esc.Withdrawable = big.NewInt(0)
	if err := e.state.Store(escrowKey(id), esc); err != nil {
		return nil, err
	}
	if err := e.nfts.Burn(e.cfg.Address, id); err != nil {
		return nil, err
	}
	e.emit(NewSeizedEvent(id, amount))
	if err := e.tokens.Transfer(e.cfg.Asset, e.cfg.Address, caller, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// GracePeriodFromFees returns how long feeAmount can pay late fees for,
// without clamping. It is zero-APR safe: it returns the escrow's maximum.
func (e *Engine) GracePeriodFromFees(id uint64, feeAmount *big.Int) (uint64, error) {
	esc, err := e.Escrow(id)
	if err != nil {
		return 0, err
	}
	if esc.LateFeeAPR == 0 || esc.Escrowed.Sign() == 0 {
		return esc.MaxGracePeriod, nil
	}
	denominator := new(big.Int).Mul(esc.Escrowed, new(big.Int).SetUint64(esc.LateFeeAPR))
	period, err := common.MulDiv(feeAmount, big.NewInt(common.BIPS*common.YEAR), denominator)
	if err != nil {
		return 0, err
	}
	if !period.IsUint64() {
		return esc.MaxGracePeriod, nil
	}
	return period.Uint64(), nil
}

// CappedGracePeriod clamps GracePeriodFromFees to [MinGracePeriod,
// maxGracePeriod].
func (e *Engine) CappedGracePeriod(id uint64, feeAmount *big.Int) (uint64, error) {
	esc, err := e.Escrow(id)
	if err != nil {
		return 0, err
	}
	period, err := e.GracePeriodFromFees(id, feeAmount)
	if err != nil {
		return 0, err
	}
	if period < MinGracePeriod {
		period = MinGracePeriod
	}
	if period > esc.MaxGracePeriod {
		period = esc.MaxGracePeriod
	}
	return period, nil
}
