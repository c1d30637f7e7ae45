package confighub

import (
	"errors"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/core/state"
	"collarfi/native/common"
	"collarfi/storage"
)

var (
	owner    = ethcommon.HexToAddress("0x0a")
	guardian = ethcommon.HexToAddress("0x0b")
	stranger = ethcommon.HexToAddress("0x0c")
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	hub.SetState(state.NewManager(storage.NewMemDB()))
	if err := hub.Initialize(owner); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return hub
}

func TestRangesRequireOwnerAndBounds(t *testing.T) {
	hub := newTestHub(t)
	if hub.IsValidLTV(5000) {
		t.Fatalf("expected no LTV valid before configuration")
	}
	if err := hub.SetLTVRange(stranger, 2000, 9000); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := hub.SetLTVRange(owner, 999, 9000); !errors.Is(err, ErrInvalidLTVRange) {
		t.Fatalf("expected invalid LTV range, got %v", err)
	}
	if err := hub.SetLTVRange(owner, 9000, 2000); !errors.Is(err, ErrInvalidLTVRange) {
		t.Fatalf("expected inverted range to fail, got %v", err)
	}
	if err := hub.SetLTVRange(owner, 2000, 9000); err != nil {
		t.Fatalf("set LTV range: %v", err)
	}
	if !hub.IsValidLTV(9000) || hub.IsValidLTV(9001) || hub.IsValidLTV(1999) {
		t.Fatalf("unexpected LTV validity")
	}
	if err := hub.SetCollarDurationRange(owner, 299, 3600); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected invalid duration, got %v", err)
	}
	if err := hub.SetCollarDurationRange(owner, 300, 5*common.YEAR); err != nil {
		t.Fatalf("set duration range: %v", err)
	}
	if !hub.IsValidCollarDuration(300) || hub.IsValidCollarDuration(5*common.YEAR+1) {
		t.Fatalf("unexpected duration validity")
	}
}

func TestProtocolFeeParams(t *testing.T) {
	hub := newTestHub(t)
	recipient := ethcommon.HexToAddress("0xfee")
	if err := hub.SetProtocolFeeParams(owner, 101, recipient); !errors.Is(err, ErrFeeTooHigh) {
		t.Fatalf("expected fee too high, got %v", err)
	}
	if err := hub.SetProtocolFeeParams(owner, 50, ethcommon.Address{}); !errors.Is(err, ErrFeeRecipient) {
		t.Fatalf("expected recipient required, got %v", err)
	}
	if err := hub.SetProtocolFeeParams(owner, 0, ethcommon.Address{}); err != nil {
		t.Fatalf("zero fee without recipient: %v", err)
	}
	if err := hub.SetProtocolFeeParams(owner, 100, recipient); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	fee, to, err := hub.ProtocolFee(big.NewInt(1_000_000), common.YEAR)
	if err != nil {
		t.Fatalf("protocol fee: %v", err)
	}
	if fee.Cmp(big.NewInt(10_000)) != 0 || to != recipient {
		t.Fatalf("unexpected fee %s to %s", fee, to.Hex())
	}
}

func TestPairAllowList(t *testing.T) {
	hub := newTestHub(t)
	u := ethcommon.HexToAddress("0x01")
	c := ethcommon.HexToAddress("0x02")
	target := ethcommon.HexToAddress("0x03")
	if hub.CanOpenPair(u, c, target) {
		t.Fatalf("expected pair closed by default")
	}
	if err := hub.SetCanOpenPair(owner, u, c, target, true); err != nil {
		t.Fatalf("set pair: %v", err)
	}
	if !hub.CanOpenPair(u, c, target) || hub.CanOpenPair(c, u, target) {
		t.Fatalf("unexpected pair validity")
	}
	if err := hub.SetCanOpenPair(owner, u, AnyAsset, target, true); err != nil {
		t.Fatalf("set single: %v", err)
	}
	if !hub.CanOpenSingle(u, target) {
		t.Fatalf("expected single asset allowed")
	}
	if err := hub.SetCanOpenPair(owner, u, c, target, false); err != nil {
		t.Fatalf("unset pair: %v", err)
	}
	if hub.CanOpenPair(u, c, target) {
		t.Fatalf("expected pair revoked")
	}
}

func TestPauseAndOwnership(t *testing.T) {
	hub := newTestHub(t)
	if err := hub.SetPauseGuardian(owner, guardian); err != nil {
		t.Fatalf("set guardian: %v", err)
	}
	if err := hub.Pause(stranger, common.ModuleTaker); !errors.Is(err, ErrNotGuardian) {
		t.Fatalf("expected ErrNotGuardian, got %v", err)
	}
	if err := hub.Pause(guardian, common.ModuleTaker); err != nil {
		t.Fatalf("guardian pause: %v", err)
	}
	if err := common.Guard(hub, common.ModuleTaker); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected taker paused, got %v", err)
	}
	if err := hub.Unpause(guardian, common.ModuleTaker); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected guardian unable to unpause, got %v", err)
	}
	if err := hub.Unpause(owner, common.ModuleTaker); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if hub.IsPaused(common.ModuleTaker) {
		t.Fatalf("expected taker unpaused")
	}

	if err := hub.TransferOwnership(owner, stranger); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	if hub.Owner() != owner {
		t.Fatalf("ownership must not move before acceptance")
	}
	if err := hub.AcceptOwnership(guardian); !errors.Is(err, ErrNotPendingOwner) {
		t.Fatalf("expected ErrNotPendingOwner, got %v", err)
	}
	if err := hub.AcceptOwnership(stranger); err != nil {
		t.Fatalf("accept ownership: %v", err)
	}
	if hub.Owner() != stranger {
		t.Fatalf("expected new owner")
	}
	if err := hub.SetLTVRange(owner, 2000, 9000); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected previous owner rejected, got %v", err)
	}
}
