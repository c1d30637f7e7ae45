package rolls

import (
	"errors"
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/core/state"
	"collarfi/native/common"
	"collarfi/native/confighub"
	"collarfi/native/oracle"
	"collarfi/native/provider"
	"collarfi/native/taker"
	"collarfi/native/tokens"
	"collarfi/storage"
)

var (
	owner        = ethcommon.HexToAddress("0x0001")
	supplier     = ethcommon.HexToAddress("0x0002")
	user         = ethcommon.HexToAddress("0x0003")
	stranger     = ethcommon.HexToAddress("0x0004")
	feeSink      = ethcommon.HexToAddress("0x0005")
	underlying   = ethcommon.HexToAddress("0x1001")
	cashAsset    = ethcommon.HexToAddress("0x1002")
	takerAddr    = ethcommon.HexToAddress("0x2001")
	providerAddr = ethcommon.HexToAddress("0x2002")
	rollsAddr    = ethcommon.HexToAddress("0x2004")
)

type fixture struct {
	engine   *Engine
	taker    *taker.Engine
	provider *provider.Engine
	hub      *confighub.Hub
	ledger   *tokens.Ledger
	nfts     *tokens.Registry
	feed     *oracle.ManualFeed
	now      int64
	takerID  uint64
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// newFixture opens a 100 cash taker position at price 1000 with strikes at
// 90% and 120%, so the provider leg locks 200.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	f := &fixture{now: 1_000_000}
	nowFn := func() int64 { return f.now }

	f.hub = confighub.NewHub()
	f.hub.SetState(mgr)
	f.ledger = tokens.NewLedger()
	f.ledger.SetState(mgr)
	f.nfts = tokens.NewRegistry()
	f.nfts.SetState(mgr)
	mustNoErr(t, f.hub.Initialize(owner))
	mustNoErr(t, f.hub.SetLTVRange(owner, 2_000, 9_900))
	mustNoErr(t, f.hub.SetCollarDurationRange(owner, 300, common.YEAR))
	mustNoErr(t, f.hub.SetProtocolFeeParams(owner, 100, feeSink))
	for _, target := range []ethcommon.Address{takerAddr, providerAddr, rollsAddr} {
		mustNoErr(t, f.hub.SetCanOpenPair(owner, underlying, cashAsset, target, true))
	}

	f.provider = provider.NewEngine(provider.Config{Address: providerAddr, Underlying: underlying, Cash: cashAsset, Taker: takerAddr})
	f.provider.SetState(mgr)
	f.provider.SetConfigHub(f.hub)
	f.provider.SetTokens(f.ledger)
	f.provider.SetNFTs(f.nfts)
	f.provider.SetNowFunc(nowFn)

	f.feed = oracle.NewManualFeed()
	f.feed.Set(big.NewInt(1_000), uint64(f.now))
	priceOracle, err := oracle.NewFeedOracle(oracle.Config{
		Base:           underlying,
		Quote:          cashAsset,
		BaseUnitAmount: big.NewInt(1_000),
		MaxAge:         24 * time.Hour,
	}, f.feed)
	mustNoErr(t, err)
	priceOracle.SetNowFunc(nowFn)

	f.taker = taker.NewEngine(taker.Config{Address: takerAddr, Underlying: underlying, Cash: cashAsset})
	f.taker.SetState(mgr)
	f.taker.SetConfigHub(f.hub)
	f.taker.SetTokens(f.ledger)
	f.taker.SetNFTs(f.nfts)
	f.taker.SetProvider(f.provider)
	f.taker.SetNowFunc(nowFn)
	mustNoErr(t, f.taker.SetOracle(priceOracle))

	f.engine = NewEngine(Config{Address: rollsAddr})
	f.engine.SetState(mgr)
	f.engine.SetConfigHub(f.hub)
	f.engine.SetTokens(f.ledger)
	f.engine.SetNFTs(f.nfts)
	f.engine.SetTaker(f.taker)
	f.engine.SetProvider(f.provider)
	f.engine.SetNowFunc(nowFn)

	mustNoErr(t, f.ledger.Mint(cashAsset, supplier, big.NewInt(100_000)))
	mustNoErr(t, f.ledger.Approve(cashAsset, supplier, providerAddr, big.NewInt(100_000)))
	mustNoErr(t, f.ledger.Mint(cashAsset, user, big.NewInt(10_000)))
	mustNoErr(t, f.ledger.Approve(cashAsset, user, takerAddr, big.NewInt(10_000)))
	offerID, err := f.provider.CreateOffer(supplier, 12_000, big.NewInt(50_000), 9_000, 3_600, nil)
	mustNoErr(t, err)
	f.takerID, _, err = f.taker.OpenPairedPosition(user, big.NewInt(100), offerID)
	mustNoErr(t, err)
	return f
}

func (f *fixture) cash(t *testing.T, holder ethcommon.Address) int64 {
	t.Helper()
	bal, err := f.ledger.BalanceOf(cashAsset, holder)
	mustNoErr(t, err)
	return bal.Int64()
}

func (f *fixture) params(fee int64) OfferParams {
	return OfferParams{
		TakerID:       f.takerID,
		FeeAmount:     big.NewInt(fee),
		MinPrice:      big.NewInt(500),
		MaxPrice:      big.NewInt(2_000),
		MinToProvider: big.NewInt(-1_000),
		Deadline:      uint64(f.now) + 600,
	}
}

func (f *fixture) createOffer(t *testing.T, params OfferParams) uint64 {
	t.Helper()
	pos, err := f.taker.Position(params.TakerID)
	mustNoErr(t, err)
	mustNoErr(t, f.nfts.Approve(providerAddr, supplier, rollsAddr, pos.ProviderID))
	id, err := f.engine.CreateOffer(supplier, params)
	mustNoErr(t, err)
	return id
}

func (f *fixture) movePrice(price int64) {
	f.now += 300
	f.feed.Set(big.NewInt(price), uint64(f.now))
}

func TestCalculateRollFee(t *testing.T) {
	offer := &Offer{
		FeeAmount:          common.NewSignedAmount(big.NewInt(100)),
		FeeDeltaFactorBips: common.NewSignedAmount(big.NewInt(5_000)),
		FeeReferencePrice:  big.NewInt(1_000),
	}
	cases := []struct {
		price  int64
		factor int64
		fee    int64
		want   int64
	}{
		{1_000, 5_000, 100, 100},
		{1_100, 5_000, 100, 105},
		{900, 5_000, 100, 95},
		{1_100, -10_000, 100, 90},
		{1_100, 5_000, 3, 3},
		{900, 5_000, 3, 3},
		{1_200, 10_000, -50, -60},
	}
	for _, tc := range cases {
		offer.FeeAmount = common.NewSignedAmount(big.NewInt(tc.fee))
		offer.FeeDeltaFactorBips = common.NewSignedAmount(big.NewInt(tc.factor))
		if got := CalculateRollFee(offer, big.NewInt(tc.price)); got.Int64() != tc.want {
			t.Fatalf("fee %d factor %d price %d: want %d got %s", tc.fee, tc.factor, tc.price, tc.want, got)
		}
	}
}

func TestCreateOfferValidation(t *testing.T) {
	f := newFixture(t)
	bad := f.params(5)
	bad.FeeDeltaFactorBips = 10_001
	if _, err := f.engine.CreateOffer(supplier, bad); !errors.Is(err, ErrFeeDeltaFactor) {
		t.Fatalf("expected ErrFeeDeltaFactor, got %v", err)
	}
	bad = f.params(5)
	bad.MinPrice = big.NewInt(3_000)
	if _, err := f.engine.CreateOffer(supplier, bad); !errors.Is(err, ErrPriceRange) {
		t.Fatalf("expected ErrPriceRange, got %v", err)
	}
	bad = f.params(5)
	bad.Deadline = uint64(f.now) - 1
	if _, err := f.engine.CreateOffer(supplier, bad); !errors.Is(err, ErrDeadlinePassed) {
		t.Fatalf("expected ErrDeadlinePassed, got %v", err)
	}
	if _, err := f.engine.CreateOffer(stranger, f.params(5)); !errors.Is(err, ErrNotProviderOwner) {
		t.Fatalf("expected ErrNotProviderOwner, got %v", err)
	}

	id := f.createOffer(t, f.params(5))
	pos, _ := f.taker.Position(f.takerID)
	holder, err := f.nfts.OwnerOf(providerAddr, pos.ProviderID)
	mustNoErr(t, err)
	if holder != rollsAddr {
		t.Fatalf("provider token should be held by the roll engine")
	}
	offer, err := f.engine.Offer(id)
	mustNoErr(t, err)
	if !offer.Active || offer.FeeReferencePrice.Int64() != 1_000 || offer.Provider != supplier {
		t.Fatalf("unexpected offer %+v", offer)
	}
}

func TestPreviewAndExecuteRoll(t *testing.T) {
	f := newFixture(t)
	id := f.createOffer(t, f.params(5))
	f.movePrice(1_100)

	preview, err := f.engine.PreviewRoll(id, big.NewInt(1_100))
	mustNoErr(t, err)
	if preview.TakerSettled.Int64() != 200 || preview.ProviderSettled.Int64() != 100 {
		t.Fatalf("unexpected settlement %s / %s", preview.TakerSettled, preview.ProviderSettled)
	}
	if preview.NewTakerLocked.Int64() != 110 || preview.NewProviderLocked.Int64() != 220 || preview.ProtocolFee.Int64() != 1 {
		t.Fatalf("unexpected new pair %+v", preview)
	}
	if preview.ToTaker.Int64() != 85 || preview.ToProvider.Int64() != -116 {
		t.Fatalf("unexpected transfers %s / %s", preview.ToTaker, preview.ToProvider)
	}

	if _, err := f.engine.ExecuteRoll(user, id, big.NewInt(86)); !errors.Is(err, ErrTakerSlippage) {
		t.Fatalf("expected ErrTakerSlippage, got %v", err)
	}
	if _, err := f.engine.ExecuteRoll(stranger, id, big.NewInt(85)); !errors.Is(err, ErrNotTakerOwner) {
		t.Fatalf("expected ErrNotTakerOwner, got %v", err)
	}

	mustNoErr(t, f.nfts.Approve(takerAddr, user, rollsAddr, f.takerID))
	mustNoErr(t, f.ledger.Approve(cashAsset, supplier, rollsAddr, big.NewInt(116)))
	userBefore, supplierBefore := f.cash(t, user), f.cash(t, supplier)
	result, err := f.engine.ExecuteRoll(user, id, preview.ToTaker)
	mustNoErr(t, err)
	if f.cash(t, user)-userBefore != 85 || supplierBefore-f.cash(t, supplier) != 116 {
		t.Fatalf("unexpected cash movement")
	}
	if f.cash(t, rollsAddr) != 0 {
		t.Fatalf("roll engine must not retain cash, holds %d", f.cash(t, rollsAddr))
	}

	newPos, err := f.taker.Position(result.NewTakerID)
	mustNoErr(t, err)
	if newPos.TakerLocked.Int64() != 110 || newPos.ProviderLocked.Int64() != 220 || newPos.StartPrice.Int64() != 1_100 {
		t.Fatalf("unexpected new position %+v", newPos)
	}
	if newPos.Expiration != uint64(f.now)+3_600 {
		t.Fatalf("new position should restart its duration")
	}
	takerHolder, _ := f.nfts.OwnerOf(takerAddr, result.NewTakerID)
	providerHolder, _ := f.nfts.OwnerOf(providerAddr, result.NewProviderID)
	if takerHolder != user || providerHolder != supplier {
		t.Fatalf("new tokens went to %s / %s", takerHolder.Hex(), providerHolder.Hex())
	}
	old, _ := f.taker.Position(f.takerID)
	if !old.Settled {
		t.Fatalf("old position should be closed")
	}
	if _, err := f.engine.ExecuteRoll(user, id, big.NewInt(0)); !errors.Is(err, ErrInvalidOffer) {
		t.Fatalf("expected single-use offer, got %v", err)
	}
}

func TestExecuteRollProviderSlippage(t *testing.T) {
	f := newFixture(t)
	params := f.params(5)
	params.MinToProvider = big.NewInt(-100)
	id := f.createOffer(t, params)
	f.movePrice(1_100)
	mustNoErr(t, f.nfts.Approve(takerAddr, user, rollsAddr, f.takerID))
	if _, err := f.engine.ExecuteRoll(user, id, big.NewInt(0)); !errors.Is(err, ErrProviderSlippage) {
		t.Fatalf("expected ErrProviderSlippage, got %v", err)
	}
}

func TestExecuteRollBounds(t *testing.T) {
	f := newFixture(t)
	id := f.createOffer(t, f.params(5))
	mustNoErr(t, f.nfts.Approve(takerAddr, user, rollsAddr, f.takerID))

	f.movePrice(2_500)
	if _, err := f.engine.ExecuteRoll(user, id, big.NewInt(-1_000)); !errors.Is(err, ErrPriceTooHigh) {
		t.Fatalf("expected ErrPriceTooHigh, got %v", err)
	}
	f.feed.Set(big.NewInt(400), uint64(f.now))
	if _, err := f.engine.ExecuteRoll(user, id, big.NewInt(-1_000)); !errors.Is(err, ErrPriceTooLow) {
		t.Fatalf("expected ErrPriceTooLow, got %v", err)
	}
	f.movePrice(1_000)
	f.now++
	if _, err := f.engine.ExecuteRoll(user, id, big.NewInt(-1_000)); !errors.Is(err, ErrDeadlinePassed) {
		t.Fatalf("expected ErrDeadlinePassed, got %v", err)
	}
}

func TestCancelOfferReturnsToken(t *testing.T) {
	f := newFixture(t)
	id := f.createOffer(t, f.params(5))
	if err := f.engine.CancelOffer(stranger, id); !errors.Is(err, ErrNotOfferProvider) {
		t.Fatalf("expected ErrNotOfferProvider, got %v", err)
	}
	mustNoErr(t, f.engine.CancelOffer(supplier, id))
	pos, _ := f.taker.Position(f.takerID)
	holder, _ := f.nfts.OwnerOf(providerAddr, pos.ProviderID)
	if holder != supplier {
		t.Fatalf("provider token should be returned")
	}
	if err := f.engine.CancelOffer(supplier, id); !errors.Is(err, ErrInvalidOffer) {
		t.Fatalf("expected ErrInvalidOffer, got %v", err)
	}
	if _, err := f.engine.ExecuteRoll(user, id, big.NewInt(0)); !errors.Is(err, ErrInvalidOffer) {
		t.Fatalf("expected ErrInvalidOffer, got %v", err)
	}
}
