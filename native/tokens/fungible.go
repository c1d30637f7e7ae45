package tokens

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/core/events"
	"collarfi/core/state"
	"collarfi/core/types"
	"collarfi/native/common"
)

const (
	EventTypeTransfer = "token.transfer"
	EventTypeApproval = "token.approval"
	EventTypeMinted   = "token.minted"

	balancePrefix   = "tokens/balance"
	allowancePrefix = "tokens/allowance"
	supplyPrefix    = "tokens/supply"
)

var (
	ErrInsufficientBalance   = common.NewError(common.KindEconomic, "tokens: insufficient balance")
	ErrInsufficientAllowance = common.NewError(common.KindEconomic, "tokens: insufficient allowance")
	ErrInvalidAmount         = common.NewError(common.KindValidation, "tokens: amount must not be negative")
	ErrZeroAddress           = common.NewError(common.KindValidation, "tokens: zero address")
	errNilState              = common.NewError(common.KindState, "tokens: state not configured")
)

type engineState interface {
	Load(key []byte, out interface{}) (bool, error)
	Store(key []byte, value interface{}) error
	Remove(key []byte) error
}

// TransferHook runs after a balance update of its asset has been applied.
// Returning an error reverts the surrounding transaction.
type TransferHook func(asset, from, to ethcommon.Address, amount *big.Int) error

// Ledger holds fungible balances and allowances for every asset.
type Ledger struct {
	state   engineState
	emitter events.Emitter
	hooks   map[ethcommon.Address]TransferHook
}

// NewLedger creates an empty fungible ledger.
func NewLedger() *Ledger {
	return &Ledger{emitter: events.NoopEmitter{}, hooks: make(map[ethcommon.Address]TransferHook)}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(st engineState) { l.state = st }

// SetEmitter configures the event emitter. Passing nil resets it.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetTransferHook installs or clears (nil) the hook for asset.
func (l *Ledger) SetTransferHook(asset ethcommon.Address, hook TransferHook) {
	if hook == nil {
		delete(l.hooks, asset)
		return
	}
	l.hooks[asset] = hook
}

func (l *Ledger) readAmount(key []byte) (*big.Int, error) {
	if l.state == nil {
		return nil, errNilState
	}
	amount := new(big.Int)
	if _, err := l.state.Load(key, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (l *Ledger) writeAmount(key []byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return l.state.Remove(key)
	}
	return l.state.Store(key, amount)
}

func balanceKey(asset, holder ethcommon.Address) []byte {
	return state.Key(balancePrefix, asset.Bytes(), holder.Bytes())
}

func allowanceKey(asset, owner, spender ethcommon.Address) []byte {
	return state.Key(allowancePrefix, asset.Bytes(), owner.Bytes(), spender.Bytes())
}

// BalanceOf returns the balance of holder in asset.
func (l *Ledger) BalanceOf(asset, holder ethcommon.Address) (*big.Int, error) {
	return l.readAmount(balanceKey(asset, holder))
}

// TotalSupply returns the minted supply of asset.
func (l *Ledger) TotalSupply(asset ethcommon.Address) (*big.Int, error) {
	return l.readAmount(state.Key(supplyPrefix, asset.Bytes()))
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(asset, owner, spender ethcommon.Address) (*big.Int, error) {
	return l.readAmount(allowanceKey(asset, owner, spender))
}

// Approve sets the allowance of spender over owner's balance.
func (l *Ledger) Approve(asset, owner, spender ethcommon.Address, amount *big.Int) error {
	if l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if spender == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	if err := l.writeAmount(allowanceKey(asset, owner, spender), common.Clone(amount)); err != nil {
		return err
	}
	l.emitter.Emit(events.Wrap(types.NewEvent(EventTypeApproval).
		Set("asset", asset.Hex()).
		Set("owner", owner.Hex()).
		Set("spender", spender.Hex()).
		Set("amount", amount.String())))
	return nil
}

// Mint credits new supply to holder.
func (l *Ledger) Mint(asset, to ethcommon.Address, amount *big.Int) error {
	if l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if to == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	balance, err := l.BalanceOf(asset, to)
	if err != nil {
		return err
	}
	supply, err := l.TotalSupply(asset)
	if err != nil {
		return err
	}
	if err := l.writeAmount(balanceKey(asset, to), balance.Add(balance, amount)); err != nil {
		return err
	}
	if err := l.writeAmount(state.Key(supplyPrefix, asset.Bytes()), supply.Add(supply, amount)); err != nil {
		return err
	}
	l.emitter.Emit(events.Wrap(types.NewEvent(EventTypeMinted).
		Set("asset", asset.Hex()).
		Set("to", to.Hex()).
		Set("amount", amount.String())))
	return nil
}

// Transfer moves amount of asset from the caller's own balance.
func (l *Ledger) Transfer(asset, from, to ethcommon.Address, amount *big.Int) error {
	return l.move(asset, from, to, amount)
}

// TransferFrom moves amount of asset out of from's balance, consuming the
// spender's allowance unless the spender is the holder.
func (l *Ledger) TransferFrom(asset, spender, from, to ethcommon.Address, amount *big.Int) error {
	if l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if spender != from {
		allowance, err := l.Allowance(asset, from, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
		if err := l.writeAmount(allowanceKey(asset, from, spender), allowance.Sub(allowance, amount)); err != nil {
			return err
		}
	}
	return l.move(asset, from, to, amount)
}

func (l *Ledger) move(asset, from, to ethcommon.Address, amount *big.Int) error {
	if l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if to == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	fromBalance, err := l.BalanceOf(asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if from != to {
		toBalance, err := l.BalanceOf(asset, to)
		if err != nil {
			return err
		}
		if err := l.writeAmount(balanceKey(asset, from), fromBalance.Sub(fromBalance, amount)); err != nil {
			return err
		}
		if err := l.writeAmount(balanceKey(asset, to), toBalance.Add(toBalance, amount)); err != nil {
			return err
		}
	}
	l.emitter.Emit(events.Wrap(types.NewEvent(EventTypeTransfer).
		Set("asset", asset.Hex()).
		Set("from", from.Hex()).
		Set("to", to.Hex()).
		Set("amount", amount.String())))
	if hook, ok := l.hooks[asset]; ok {
		return hook(asset, from, to, common.Clone(amount))
	}
	return nil
}
