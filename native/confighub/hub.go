package confighub

import (
	"math/big"
	"strconv"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/core/events"
	"collarfi/core/state"
	"collarfi/core/types"
	"collarfi/native/common"
)

const (
	MinConfigurableLTV      = 1_000
	MaxConfigurableLTV      = common.BIPS - 1
	MinConfigurableDuration = 300
	MaxConfigurableDuration = 5 * common.YEAR
	MaxProtocolFeeBips      = 100
)

// AnyAsset is the wildcard counterpart used for single-asset allow-listing.
var AnyAsset = ethcommon.HexToAddress("0xffffffffffffffffffffffffffffffffffffffff")

var (
	ErrNotOwner          = common.NewError(common.KindAuthorization, "confighub: caller is not the owner")
	ErrNotPendingOwner   = common.NewError(common.KindAuthorization, "confighub: caller is not the pending owner")
	ErrNotGuardian       = common.NewError(common.KindAuthorization, "confighub: caller is neither owner nor guardian")
	ErrInvalidLTVRange   = common.NewError(common.KindValidation, "confighub: invalid LTV range")
	ErrInvalidDuration   = common.NewError(common.KindValidation, "confighub: invalid duration range")
	ErrFeeTooHigh        = common.NewError(common.KindValidation, "confighub: protocol fee APR too high")
	ErrFeeRecipient      = common.NewError(common.KindValidation, "confighub: fee recipient required")
	ErrZeroAddress       = common.NewError(common.KindValidation, "confighub: zero address")
	ErrUnknownModule     = common.NewError(common.KindValidation, "confighub: empty module name")
	errNilState          = common.NewError(common.KindState, "confighub: state not configured")
	errAlreadyConfigured = common.NewError(common.KindState, "confighub: already initialised")
)

const (
	settingsPrefix = "confighub/settings"
	pairPrefix     = "confighub/pair"
	pausePrefix    = "confighub/pause"
)

type engineState interface {
	Load(key []byte, out interface{}) (bool, error)
	Store(key []byte, value interface{}) error
	Remove(key []byte) error
}

// Settings is the persisted configuration record.
type Settings struct {
	Owner          ethcommon.Address
	PendingOwner   ethcommon.Address
	PauseGuardian  ethcommon.Address
	MinLTV         uint64
	MaxLTV         uint64
	MinDuration    uint64
	MaxDuration    uint64
	ProtocolFeeAPR uint64
	FeeRecipient   ethcommon.Address
}

// Hub is the shared configuration registry consulted by every engine. Values
// are read from state on every call.
type Hub struct {
	state   engineState
	emitter events.Emitter
}

// NewHub creates a hub with a no-op emitter.
func NewHub() *Hub {
	return &Hub{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the hub.
func (h *Hub) SetState(st engineState) { h.state = st }

// SetEmitter configures the event emitter. Passing nil resets it.
func (h *Hub) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		h.emitter = events.NoopEmitter{}
		return
	}
	h.emitter = emitter
}

func (h *Hub) emit(evt *types.Event) {
	if h.emitter != nil && evt != nil {
		h.emitter.Emit(events.Wrap(evt))
	}
}

// Initialize records the owner of a freshly deployed hub.
func (h *Hub) Initialize(owner ethcommon.Address) error {
	if h.state == nil {
		return errNilState
	}
	if owner == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	var existing Settings
	ok, err := h.state.Load(state.Key(settingsPrefix), &existing)
	if err != nil {
		return err
	}
	if ok {
		return errAlreadyConfigured
	}
	return h.state.Store(state.Key(settingsPrefix), &Settings{Owner: owner})
}

// Settings returns the current configuration record.
func (h *Hub) Settings() (*Settings, error) {
	if h.state == nil {
		return nil, errNilState
	}
	var s Settings
	if _, err := h.state.Load(state.Key(settingsPrefix), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (h *Hub) storeSettings(s *Settings) error {
	return h.state.Store(state.Key(settingsPrefix), s)
}

func (h *Hub) ownerSettings(caller ethcommon.Address) (*Settings, error) {
	s, err := h.Settings()
	if err != nil {
		return nil, err
	}
	if caller == (ethcommon.Address{}) || caller != s.Owner {
		return nil, ErrNotOwner
	}
	return s, nil
}

// Owner returns the hub owner, who also administers every engine.
func (h *Hub) Owner() ethcommon.Address {
	s, err := h.Settings()
	if err != nil {
		return ethcommon.Address{}
	}
	return s.Owner
}

// PauseGuardian returns the address allowed to pause modules.
func (h *Hub) PauseGuardian() ethcommon.Address {
	s, err := h.Settings()
	if err != nil {
		return ethcommon.Address{}
	}
	return s.PauseGuardian
}

// ProtocolFeeAPR returns the annual protocol fee in basis points.
func (h *Hub) ProtocolFeeAPR() uint64 {
	s, err := h.Settings()
	if err != nil {
		return 0
	}
	return s.ProtocolFeeAPR
}

// FeeRecipient returns the protocol fee recipient.
func (h *Hub) FeeRecipient() ethcommon.Address {
	s, err := h.Settings()
	if err != nil {
		return ethcommon.Address{}
	}
	return s.FeeRecipient
}

// IsValidLTV reports whether ltv lies inside the configured range.
func (h *Hub) IsValidLTV(ltv uint64) bool {
	s, err := h.Settings()
	if err != nil || s.MaxLTV == 0 {
		return false
	}
	return ltv >= s.MinLTV && ltv <= s.MaxLTV
}

// IsValidCollarDuration reports whether duration lies inside the configured
// range.
func (h *Hub) IsValidCollarDuration(duration uint64) bool {
	s, err := h.Settings()
	if err != nil || s.MaxDuration == 0 {
		return false
	}
	return duration >= s.MinDuration && duration <= s.MaxDuration
}

// SetLTVRange updates the accepted LTV bounds.
func (h *Hub) SetLTVRange(caller ethcommon.Address, min, max uint64) error {
	s, err := h.ownerSettings(caller)
	if err != nil {
		return err
	}
	if min < MinConfigurableLTV || max > MaxConfigurableLTV || min > max {
		return ErrInvalidLTVRange
	}
	s.MinLTV, s.MaxLTV = min, max
	if err := h.storeSettings(s); err != nil {
		return err
	}
	h.emit(types.NewEvent(EventTypeLTVRangeSet).
		Set("min", strconv.FormatUint(min, 10)).
		Set("max", strconv.FormatUint(max, 10)))
	return nil
}

// SetCollarDurationRange updates the accepted duration bounds in seconds.
func (h *Hub) SetCollarDurationRange(caller ethcommon.Address, min, max uint64) error {
	s, err := h.ownerSettings(caller)
	if err != nil {
		return err
	}
	if min < MinConfigurableDuration || max > MaxConfigurableDuration || min > max {
		return ErrInvalidDuration
	}
	s.MinDuration, s.MaxDuration = min, max
	if err := h.storeSettings(s); err != nil {
		return err
	}
	h.emit(types.NewEvent(EventTypeDurationRangeSet).
		Set("min", (time.Duration(min) * time.Second).String()).
		Set("max", (time.Duration(max) * time.Second).String()))
	return nil
}

// SetProtocolFeeParams updates the fee rate and recipient.
func (h *Hub) SetProtocolFeeParams(caller ethcommon.Address, apr uint64, recipient ethcommon.Address) error {
	s, err := h.ownerSettings(caller)
	if err != nil {
		return err
	}
	if apr > MaxProtocolFeeBips {
		return ErrFeeTooHigh
	}
	if apr > 0 && recipient == (ethcommon.Address{}) {
		return ErrFeeRecipient
	}
	s.ProtocolFeeAPR, s.FeeRecipient = apr, recipient
	if err := h.storeSettings(s); err != nil {
		return err
	}
	h.emit(types.NewEvent(EventTypeProtocolFeeSet).
		Set("apr", strconv.FormatUint(apr, 10)).
		Set("recipient", recipient.Hex()))
	return nil
}

// SetPauseGuardian designates the address allowed to pause modules.
func (h *Hub) SetPauseGuardian(caller, guardian ethcommon.Address) error {
	s, err := h.ownerSettings(caller)
	if err != nil {
		return err
	}
	s.PauseGuardian = guardian
	if err := h.storeSettings(s); err != nil {
		return err
	}
	h.emit(types.NewEvent(EventTypeGuardianSet).Set("guardian", guardian.Hex()))
	return nil
}

// TransferOwnership nominates a new owner who must accept.
func (h *Hub) TransferOwnership(caller, next ethcommon.Address) error {
	s, err := h.ownerSettings(caller)
	if err != nil {
		return err
	}
	s.PendingOwner = next
	if err := h.storeSettings(s); err != nil {
		return err
	}
	h.emit(types.NewEvent(EventTypeOwnershipStarted).
		Set("owner", s.Owner.Hex()).
		Set("pending", next.Hex()))
	return nil
}

// AcceptOwnership completes a pending ownership transfer.
func (h *Hub) AcceptOwnership(caller ethcommon.Address) error {
	s, err := h.Settings()
	if err != nil {
		return err
	}
	if s.PendingOwner == (ethcommon.Address{}) || caller != s.PendingOwner {
		return ErrNotPendingOwner
	}
	previous := s.Owner
	s.Owner, s.PendingOwner = caller, ethcommon.Address{}
	if err := h.storeSettings(s); err != nil {
		return err
	}
	h.emit(types.NewEvent(EventTypeOwnershipTransferred).
		Set("previous", previous.Hex()).
		Set("owner", caller.Hex()))
	return nil
}

func pairKey(underlying, cash, target ethcommon.Address) []byte {
	return state.Key(pairPrefix, underlying.Bytes(), cash.Bytes(), target.Bytes())
}

// SetCanOpenPair allows or revokes target for the (underlying, cash) pair.
func (h *Hub) SetCanOpenPair(caller, underlying, cash, target ethcommon.Address, enabled bool) error {
	if _, err := h.ownerSettings(caller); err != nil {
		return err
	}
	key := pairKey(underlying, cash, target)
	var err error
	if enabled {
		err = h.state.Store(key, true)
	} else {
		err = h.state.Remove(key)
	}
	if err != nil {
		return err
	}
	h.emit(types.NewEvent(EventTypePairSet).
		Set("underlying", underlying.Hex()).
		Set("cash", cash.Hex()).
		Set("target", target.Hex()).
		Set("enabled", strconv.FormatBool(enabled)))
	return nil
}

// CanOpenPair reports whether target may open positions for the pair.
func (h *Hub) CanOpenPair(underlying, cash, target ethcommon.Address) bool {
	if h.state == nil {
		return false
	}
	var enabled bool
	ok, err := h.state.Load(pairKey(underlying, cash, target), &enabled)
	return err == nil && ok && enabled
}

// CanOpenSingle reports whether target is allowed for asset alone.
func (h *Hub) CanOpenSingle(asset, target ethcommon.Address) bool {
	return h.CanOpenPair(asset, AnyAsset, target)
}

// Pause halts a module. The owner and the guardian may pause.
func (h *Hub) Pause(caller ethcommon.Address, module string) error {
	s, err := h.Settings()
	if err != nil {
		return err
	}
	if caller == (ethcommon.Address{}) || (caller != s.Owner && caller != s.PauseGuardian) {
		return ErrNotGuardian
	}
	if module == "" {
		return ErrUnknownModule
	}
	if err := h.state.Store(state.Key(pausePrefix, []byte(module)), true); err != nil {
		return err
	}
	h.emit(types.NewEvent(EventTypePaused).Set("module", module).Set("by", caller.Hex()))
	return nil
}

// Unpause resumes a module. Only the owner may unpause.
func (h *Hub) Unpause(caller ethcommon.Address, module string) error {
	if _, err := h.ownerSettings(caller); err != nil {
		return err
	}
	if module == "" {
		return ErrUnknownModule
	}
	if err := h.state.Remove(state.Key(pausePrefix, []byte(module))); err != nil {
		return err
	}
	h.emit(types.NewEvent(EventTypeUnpaused).Set("module", module))
	return nil
}

// IsPaused implements common.PauseView. Unreadable flags count as paused.
func (h *Hub) IsPaused(module string) bool {
	if h.state == nil {
		return true
	}
	var paused bool
	_, err := h.state.Load(state.Key(pausePrefix, []byte(module)), &paused)
	if err != nil {
		return true
	}
	return paused
}

// ProtocolFee returns the fee owed on amount held for duration seconds.
func (h *Hub) ProtocolFee(amount *big.Int, duration uint64) (*big.Int, ethcommon.Address, error) {
	s, err := h.Settings()
	if err != nil {
		return nil, ethcommon.Address{}, err
	}
	if s.ProtocolFeeAPR == 0 || s.FeeRecipient == (ethcommon.Address{}) {
		return big.NewInt(0), s.FeeRecipient, nil
	}
	fee, err := common.AnnualFee(amount, s.ProtocolFeeAPR, duration)
	if err != nil {
		return nil, ethcommon.Address{}, err
	}
	return fee, s.FeeRecipient, nil
}
