package tokens

import (
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/core/events"
	"collarfi/core/state"
	"collarfi/core/types"
	"collarfi/native/common"
)

const (
	EventTypeNFTTransfer = "nft.transfer"
	EventTypeNFTApproval = "nft.approval"
	EventTypeNFTOperator = "nft.operator"

	nftTokenPrefix    = "nft/token"
	nftBalancePrefix  = "nft/balance"
	nftOperatorPrefix = "nft/operator"
)

var (
	ErrTokenNotFound       = common.NewError(common.KindValidation, "nft: token does not exist")
	ErrTokenExists         = common.NewError(common.KindState, "nft: token already minted")
	ErrNotOwnerNorApproved = common.NewError(common.KindAuthorization, "nft: caller is not owner nor approved")
	ErrWrongFrom           = common.NewError(common.KindAuthorization, "nft: transfer from incorrect owner")
	ErrReceiverRejected    = common.NewError(common.KindValidation, "nft: receiver rejected token")
)

// Receiver is notified after a safe transfer or safe mint has completed.
type Receiver interface {
	OnNFTReceived(operator, from, collection ethcommon.Address, id uint64, data []byte) error
}

type tokenRecord struct {
	Owner    ethcommon.Address
	Approved ethcommon.Address
}

// Registry tracks ownership for every unique-token collection. Collections
// are identified by the address of the engine issuing them.
type Registry struct {
	state     engineState
	emitter   events.Emitter
	receivers map[ethcommon.Address]Receiver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{emitter: events.NoopEmitter{}, receivers: make(map[ethcommon.Address]Receiver)}
}

// SetState configures the state backend used by the registry.
func (r *Registry) SetState(st engineState) { r.state = st }

// SetEmitter configures the event emitter. Passing nil resets it.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// RegisterReceiver installs the safe-transfer callback for addr. Addresses
// without a receiver accept every token.
func (r *Registry) RegisterReceiver(addr ethcommon.Address, receiver Receiver) {
	if receiver == nil {
		delete(r.receivers, addr)
		return
	}
	r.receivers[addr] = receiver
}

func tokenKey(collection ethcommon.Address, id uint64) []byte {
	return state.Key(nftTokenPrefix, collection.Bytes(), state.Uint64Bytes(id))
}

func nftBalanceKey(collection, owner ethcommon.Address) []byte {
	return state.Key(nftBalancePrefix, collection.Bytes(), owner.Bytes())
}

func operatorKey(collection, owner, operator ethcommon.Address) []byte {
	return state.Key(nftOperatorPrefix, collection.Bytes(), owner.Bytes(), operator.Bytes())
}

func (r *Registry) loadToken(collection ethcommon.Address, id uint64) (*tokenRecord, error) {
	if r.state == nil {
		return nil, errNilState
	}
	var rec tokenRecord
	ok, err := r.state.Load(tokenKey(collection, id), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &rec, nil
}

func (r *Registry) adjustBalance(collection, owner ethcommon.Address, delta int) error {
	count, err := r.BalanceOf(collection, owner)
	if err != nil {
		return err
	}
	next := int64(count) + int64(delta)
	if next <= 0 {
		return r.state.Remove(nftBalanceKey(collection, owner))
	}
	return r.state.Store(nftBalanceKey(collection, owner), uint64(next))
}

// OwnerOf returns the owner of token id.
func (r *Registry) OwnerOf(collection ethcommon.Address, id uint64) (ethcommon.Address, error) {
	rec, err := r.loadToken(collection, id)
	if err != nil {
		return ethcommon.Address{}, err
	}
	return rec.Owner, nil
}

// Exists reports whether token id is currently minted.
func (r *Registry) Exists(collection ethcommon.Address, id uint64) bool {
	_, err := r.loadToken(collection, id)
	return err == nil
}

// BalanceOf returns how many tokens of collection owner holds.
func (r *Registry) BalanceOf(collection, owner ethcommon.Address) (uint64, error) {
	if r.state == nil {
		return 0, errNilState
	}
	var count uint64
	if _, err := r.state.Load(nftBalanceKey(collection, owner), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// Mint creates token id owned by to.
func (r *Registry) Mint(collection, to ethcommon.Address, id uint64) error {
	if r.state == nil {
		return errNilState
	}
	if to == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	if r.Exists(collection, id) {
		return ErrTokenExists
	}
	if err := r.state.Store(tokenKey(collection, id), &tokenRecord{Owner: to}); err != nil {
		return err
	}
	if err := r.adjustBalance(collection, to, 1); err != nil {
		return err
	}
	r.emitTransfer(collection, ethcommon.Address{}, to, id)
	return nil
}

// SafeMint mints and then notifies the recipient's receiver.
func (r *Registry) SafeMint(collection, operator, to ethcommon.Address, id uint64, data []byte) error {
	if err := r.Mint(collection, to, id); err != nil {
		return err
	}
	return r.notify(collection, operator, ethcommon.Address{}, to, id, data)
}

// Burn destroys token id.
func (r *Registry) Burn(collection ethcommon.Address, id uint64) error {
	rec, err := r.loadToken(collection, id)
	if err != nil {
		return err
	}
	if err := r.state.Remove(tokenKey(collection, id)); err != nil {
		return err
	}
	if err := r.adjustBalance(collection, rec.Owner, -1); err != nil {
		return err
	}
	r.emitTransfer(collection, rec.Owner, ethcommon.Address{}, id)
	return nil
}

// Approve lets spender move token id. Only the owner or an operator may
// approve.
func (r *Registry) Approve(collection, caller, spender ethcommon.Address, id uint64) error {
	rec, err := r.loadToken(collection, id)
	if err != nil {
		return err
	}
	if caller != rec.Owner && !r.IsApprovedForAll(collection, rec.Owner, caller) {
		return ErrNotOwnerNorApproved
	}
	rec.Approved = spender
	if err := r.state.Store(tokenKey(collection, id), rec); err != nil {
		return err
	}
	r.emitter.Emit(events.Wrap(types.NewEvent(EventTypeNFTApproval).
		Set("collection", collection.Hex()).
		Set("owner", rec.Owner.Hex()).
		Set("approved", spender.Hex()).
		Set("id", strconv.FormatUint(id, 10))))
	return nil
}

// GetApproved returns the single-token approval for id.
func (r *Registry) GetApproved(collection ethcommon.Address, id uint64) (ethcommon.Address, error) {
	rec, err := r.loadToken(collection, id)
	if err != nil {
		return ethcommon.Address{}, err
	}
	return rec.Approved, nil
}

// SetApprovalForAll toggles operator rights over every token of owner.
func (r *Registry) SetApprovalForAll(collection, owner, operator ethcommon.Address, approved bool) error {
	if r.state == nil {
		return errNilState
	}
	if operator == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	key := operatorKey(collection, owner, operator)
	var err error
	if approved {
		err = r.state.Store(key, true)
	} else {
		err = r.state.Remove(key)
	}
	if err != nil {
		return err
	}
	r.emitter.Emit(events.Wrap(types.NewEvent(EventTypeNFTOperator).
		Set("collection", collection.Hex()).
		Set("owner", owner.Hex()).
		Set("operator", operator.Hex()).
		Set("approved", strconv.FormatBool(approved))))
	return nil
}

// IsApprovedForAll reports whether operator controls every token of owner.
func (r *Registry) IsApprovedForAll(collection, owner, operator ethcommon.Address) bool {
	if r.state == nil {
		return false
	}
	var approved bool
	ok, err := r.state.Load(operatorKey(collection, owner, operator), &approved)
	return err == nil && ok && approved
}

// IsApprovedOrOwner reports whether spender may move token id.
func (r *Registry) IsApprovedOrOwner(collection, spender ethcommon.Address, id uint64) (bool, error) {
	rec, err := r.loadToken(collection, id)
	if err != nil {
		return false, err
	}
	if spender == rec.Owner || spender == rec.Approved {
		return true, nil
	}
	return r.IsApprovedForAll(collection, rec.Owner, spender), nil
}

// TransferFrom moves token id from from to to on behalf of caller.
func (r *Registry) TransferFrom(collection, caller, from, to ethcommon.Address, id uint64) error {
	rec, err := r.loadToken(collection, id)
	if err != nil {
		return err
	}
	if rec.Owner != from {
		return ErrWrongFrom
	}
	if to == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	if caller != rec.Owner && caller != rec.Approved && !r.IsApprovedForAll(collection, rec.Owner, caller) {
		return ErrNotOwnerNorApproved
	}
	if err := r.state.Store(tokenKey(collection, id), &tokenRecord{Owner: to}); err != nil {
		return err
	}
	if from != to {
		if err := r.adjustBalance(collection, from, -1); err != nil {
			return err
		}
		if err := r.adjustBalance(collection, to, 1); err != nil {
			return err
		}
	}
	r.emitTransfer(collection, from, to, id)
	return nil
}

// SafeTransferFrom transfers and then notifies the recipient's receiver. The
// notification is the final step so receivers observe completed state.
func (r *Registry) SafeTransferFrom(collection, caller, from, to ethcommon.Address, id uint64, data []byte) error {
	if err := r.TransferFrom(collection, caller, from, to, id); err != nil {
		return err
	}
	return r.notify(collection, caller, from, to, id, data)
}

func (r *Registry) notify(collection, operator, from, to ethcommon.Address, id uint64, data []byte) error {
	receiver, ok := r.receivers[to]
	if !ok {
		return nil
	}
	if err := receiver.OnNFTReceived(operator, from, collection, id, data); err != nil {
		return err
	}
	return nil
}

func (r *Registry) emitTransfer(collection, from, to ethcommon.Address, id uint64) {
	r.emitter.Emit(events.Wrap(types.NewEvent(EventTypeNFTTransfer).
		Set("collection", collection.Hex()).
		Set("from", from.Hex()).
		Set("to", to.Hex()).
		Set("id", strconv.FormatUint(id, 10))))
}
