package tokens

import (
	"errors"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/core/state"
	"collarfi/storage"
)

var (
	asset      = ethcommon.HexToAddress("0xa1")
	collection = ethcommon.HexToAddress("0xc1")
	alice      = ethcommon.HexToAddress("0x01")
	bob        = ethcommon.HexToAddress("0x02")
	carol      = ethcommon.HexToAddress("0x03")
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l := NewLedger()
	l.SetState(state.NewManager(storage.NewMemDB()))
	return l
}

func requireBalance(t *testing.T, l *Ledger, holder ethcommon.Address, want int64) {
	t.Helper()
	got, err := l.BalanceOf(asset, holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("balance of %s: want %d got %s", holder.Hex(), want, got)
	}
}

func TestLedgerTransferAndAllowance(t *testing.T) {
	l := newLedger(t)
	if err := l.Mint(asset, alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Transfer(asset, alice, bob, big.NewInt(30)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	requireBalance(t, l, alice, 70)
	requireBalance(t, l, bob, 30)

	if err := l.Transfer(asset, bob, alice, big.NewInt(31)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if err := l.TransferFrom(asset, carol, alice, carol, big.NewInt(10)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	if err := l.Approve(asset, alice, carol, big.NewInt(15)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := l.TransferFrom(asset, carol, alice, carol, big.NewInt(10)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	remaining, _ := l.Allowance(asset, alice, carol)
	if remaining.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("expected allowance 5, got %s", remaining)
	}
	requireBalance(t, l, alice, 60)
	requireBalance(t, l, carol, 10)
	supply, _ := l.TotalSupply(asset)
	if supply.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected supply %s", supply)
	}
}

func TestLedgerHookRunsAfterUpdate(t *testing.T) {
	l := newLedger(t)
	if err := l.Mint(asset, alice, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	var observed *big.Int
	l.SetTransferHook(asset, func(_, _, to ethcommon.Address, _ *big.Int) error {
		observed, _ = l.BalanceOf(asset, to)
		return nil
	})
	if err := l.Transfer(asset, alice, bob, big.NewInt(4)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if observed == nil || observed.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("hook should observe updated balance, got %v", observed)
	}
	boom := errors.New("hook failure")
	l.SetTransferHook(asset, func(ethcommon.Address, ethcommon.Address, ethcommon.Address, *big.Int) error { return boom })
	if err := l.Transfer(asset, alice, bob, big.NewInt(1)); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
}

type recordingReceiver struct {
	calls  int
	reject bool
	owner  func() ethcommon.Address
	seen   ethcommon.Address
}

func (r *recordingReceiver) OnNFTReceived(_, _, _ ethcommon.Address, _ uint64, _ []byte) error {
	r.calls++
	if r.owner != nil {
		r.seen = r.owner()
	}
	if r.reject {
		return ErrReceiverRejected
	}
	return nil
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()
	reg.SetState(state.NewManager(storage.NewMemDB()))

	if err := reg.Mint(collection, alice, 1); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := reg.Mint(collection, bob, 1); !errors.Is(err, ErrTokenExists) {
		t.Fatalf("expected duplicate mint to fail, got %v", err)
	}
	if err := reg.TransferFrom(collection, bob, alice, bob, 1); !errors.Is(err, ErrNotOwnerNorApproved) {
		t.Fatalf("expected unauthorised transfer to fail, got %v", err)
	}
	if err := reg.Approve(collection, alice, bob, 1); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := reg.TransferFrom(collection, bob, alice, bob, 1); err != nil {
		t.Fatalf("approved transfer: %v", err)
	}
	if approved, _ := reg.GetApproved(collection, 1); approved != (ethcommon.Address{}) {
		t.Fatalf("approval must clear on transfer")
	}
	if n, _ := reg.BalanceOf(collection, bob); n != 1 {
		t.Fatalf("expected bob to hold one token, got %d", n)
	}
	if n, _ := reg.BalanceOf(collection, alice); n != 0 {
		t.Fatalf("expected alice to hold nothing, got %d", n)
	}

	if err := reg.SetApprovalForAll(collection, bob, carol, true); err != nil {
		t.Fatalf("set operator: %v", err)
	}
	if ok, _ := reg.IsApprovedOrOwner(collection, carol, 1); !ok {
		t.Fatalf("expected operator approval")
	}
	if err := reg.Burn(collection, 1); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if _, err := reg.OwnerOf(collection, 1); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected burnt token gone, got %v", err)
	}
}

func TestRegistrySafeTransferNotifiesLast(t *testing.T) {
	reg := NewRegistry()
	reg.SetState(state.NewManager(storage.NewMemDB()))
	recv := &recordingReceiver{}
	recv.owner = func() ethcommon.Address {
		owner, _ := reg.OwnerOf(collection, 9)
		return owner
	}
	reg.RegisterReceiver(bob, recv)

	if err := reg.SafeMint(collection, alice, alice, 9, nil); err != nil {
		t.Fatalf("safe mint to plain account: %v", err)
	}
	if err := reg.SafeTransferFrom(collection, alice, alice, bob, 9, nil); err != nil {
		t.Fatalf("safe transfer: %v", err)
	}
	if recv.calls != 1 || recv.seen != bob {
		t.Fatalf("receiver should run once after ownership moved: calls=%d seen=%s", recv.calls, recv.seen.Hex())
	}
	recv.reject = true
	if err := reg.SafeMint(collection, alice, bob, 10, nil); !errors.Is(err, ErrReceiverRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}
