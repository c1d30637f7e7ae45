package state

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"collarfi/storage"
)

type sampleRecord struct {
	Owner   common.Address
	Amount  *big.Int
	Expires uint64
	Settled bool
}

func TestManagerStoreLoadCommit(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	key := Key("sample", Uint64Bytes(7))

	rec := sampleRecord{Owner: common.HexToAddress("0x01"), Amount: big.NewInt(1_000), Expires: 99}
	if err := mgr.Store(key, &rec); err != nil {
		t.Fatalf("store: %v", err)
	}
	if db.Len() != 0 {
		t.Fatalf("expected no writes before commit, got %d", db.Len())
	}

	var loaded sampleRecord
	ok, err := mgr.Load(key, &loaded)
	if err != nil || !ok {
		t.Fatalf("load pending: ok=%v err=%v", ok, err)
	}
	if loaded.Amount.Cmp(rec.Amount) != 0 || loaded.Owner != rec.Owner || loaded.Expires != 99 {
		t.Fatalf("unexpected record: %+v", loaded)
	}

	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if db.Len() != 1 {
		t.Fatalf("expected one committed key, got %d", db.Len())
	}

	fresh := NewManager(db)
	var again sampleRecord
	ok, err = fresh.Load(key, &again)
	if err != nil || !ok {
		t.Fatalf("load committed: ok=%v err=%v", ok, err)
	}
	if again.Amount.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected committed amount %s", again.Amount)
	}
}

func TestManagerDiscardRevertsWrites(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	key := Key("sample", []byte("a"))
	if err := mgr.Store(key, &sampleRecord{Amount: big.NewInt(1)}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := mgr.Store(key, &sampleRecord{Amount: big.NewInt(2)}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := mgr.Remove(Key("sample", []byte("a"))); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ok, _ := mgr.Load(key, &sampleRecord{}); ok {
		t.Fatalf("expected pending delete to hide the record")
	}
	mgr.Discard()

	var rec sampleRecord
	ok, err := mgr.Load(key, &rec)
	if err != nil || !ok {
		t.Fatalf("expected committed record after discard: ok=%v err=%v", ok, err)
	}
	if rec.Amount.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected committed amount 1, got %s", rec.Amount)
	}
}

func TestManagerCommitDelete(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	key := Key("sample", []byte("gone"))
	mgr.PutRaw(key, []byte{0x80})
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = mgr.Remove(key)
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit delete: %v", err)
	}
	if db.Len() != 0 {
		t.Fatalf("expected key deleted from backend")
	}
}

func TestKeyDistinguishesParts(t *testing.T) {
	a := Key("offer", Uint64Bytes(1))
	b := Key("offer", Uint64Bytes(2))
	c := Key("position", Uint64Bytes(1))
	if string(a) == string(b) || string(a) == string(c) {
		t.Fatalf("expected distinct keys")
	}
	if len(a) != 32 {
		t.Fatalf("expected keccak-sized key, got %d", len(a))
	}
}
