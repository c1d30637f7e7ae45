// Package protocoltest deploys a complete market on an in-memory database with
// a controllable clock, a manual price feed and an inventory swapper.
package protocoltest

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"collarfi/core/events"
	"collarfi/core/protocol"
	"collarfi/native/common"
	"collarfi/native/loans"
	"collarfi/native/oracle"
	"collarfi/native/swap"
	"collarfi/storage"
)

var (
	Owner          = ethcommon.HexToAddress("0x00000000000000000000000000000000000a0001")
	Supplier       = ethcommon.HexToAddress("0x00000000000000000000000000000000000a0002")
	User           = ethcommon.HexToAddress("0x00000000000000000000000000000000000a0003")
	EscrowSupplier = ethcommon.HexToAddress("0x00000000000000000000000000000000000a0004")
	Keeper         = ethcommon.HexToAddress("0x00000000000000000000000000000000000a0005")
	Stranger       = ethcommon.HexToAddress("0x00000000000000000000000000000000000a0006")
	FeeSink        = ethcommon.HexToAddress("0x00000000000000000000000000000000000a0007")

	Underlying = ethcommon.HexToAddress("0x00000000000000000000000000000000000b0001")
	Cash       = ethcommon.HexToAddress("0x00000000000000000000000000000000000b0002")

	SwapperAddress = protocol.DeriveAddress("swapper/inventory")
)

const (
	// StartTime is the clock value of a fresh harness.
	StartTime = 1_000_000
	// BaseUnit is the underlying amount one oracle price refers to.
	BaseUnit = 1_000
	// StartPrice makes one underlying worth one cash.
	StartPrice = 1_000
	// Inventory is minted to the swapper in both assets.
	Inventory = 10_000_000
)

type options struct {
	protocolFeeAPR uint64
	spreadBips     uint64
}

// Option customises a harness.
type Option func(*options)

// WithProtocolFee charges apr bips on provider locked amounts, paid to FeeSink.
func WithProtocolFee(apr uint64) Option { return func(o *options) { o.protocolFeeAPR = apr } }

// WithSpread makes the swapper fill spreadBips below the oracle price.
func WithSpread(bips uint64) Option { return func(o *options) { o.spreadBips = bips } }

// Harness is a deployed market plus its test instruments.
type Harness struct {
	Protocol  *protocol.Protocol
	Feed      *oracle.ManualFeed
	Oracle    *oracle.FeedOracle
	Swapper   *swap.InventorySwapper
	Committed *events.Buffer

	now atomic.Int64
}

// New deploys and configures a market.
func New(t testing.TB, opts ...Option) *Harness {
	t.Helper()
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	h := &Harness{Feed: oracle.NewManualFeed(), Committed: &events.Buffer{}}
	h.now.Store(StartTime)
	h.Feed.Set(big.NewInt(StartPrice), StartTime)

	priceOracle, err := oracle.NewFeedOracle(oracle.Config{
		Base:           Underlying,
		Quote:          Cash,
		BaseUnitAmount: big.NewInt(BaseUnit),
		MaxAge:         365 * 24 * time.Hour,
	}, h.Feed)
	require.NoError(t, err)
	h.Oracle = priceOracle

	p, err := protocol.New(storage.NewMemDB(), protocol.Config{
		Owner:      Owner,
		Underlying: Underlying,
		Cash:       Cash,
		Oracle:     priceOracle,
		Now:        h.now.Load,
	})
	require.NoError(t, err)
	p.SetEmitter(h.Committed)
	h.Protocol = p

	h.Swapper = swap.NewInventorySwapper(SwapperAddress, p.Tokens(), priceOracle, o.spreadBips)
	p.RegisterSwapper(SwapperAddress, h.Swapper)

	require.NoError(t, p.ApplyGenesis(context.Background(), protocol.Genesis{
		MinLTV:         2_000,
		MaxLTV:         9_900,
		MinDuration:    300,
		MaxDuration:    common.YEAR,
		ProtocolFeeAPR: o.protocolFeeAPR,
		FeeRecipient:   FeeSink,
		Swappers:       []ethcommon.Address{SwapperAddress},
		EnableEscrow:   true,
	}))
	h.Mint(t, Underlying, SwapperAddress, Inventory)
	h.Mint(t, Cash, SwapperAddress, Inventory)
	h.Committed.Reset()
	return h
}

// Now returns the harness clock.
func (h *Harness) Now() int64 { return h.now.Load() }

// Advance moves the clock forward by seconds.
func (h *Harness) Advance(seconds int64) { h.now.Add(seconds) }

// SetPrice records a price round at the current time.
func (h *Harness) SetPrice(price int64) { h.Feed.Set(big.NewInt(price), uint64(h.Now())) }

// Try runs fn as a transaction and returns its error.
func (h *Harness) Try(op string, fn func() error) error {
	return h.Protocol.Execute(context.Background(), op, fn)
}

// Do runs fn as a transaction and fails the test on error.
func (h *Harness) Do(t testing.TB, op string, fn func() error) {
	t.Helper()
	require.NoError(t, h.Try(op, fn), op)
}

// Mint credits amount of asset to holder.
func (h *Harness) Mint(t testing.TB, asset, holder ethcommon.Address, amount int64) {
	t.Helper()
	h.Do(t, "test.mint", func() error { return h.Protocol.Tokens().Mint(asset, holder, big.NewInt(amount)) })
}

// Approve sets owner's allowance of asset for spender.
func (h *Harness) Approve(t testing.TB, asset, owner, spender ethcommon.Address, amount int64) {
	t.Helper()
	h.Do(t, "test.approve", func() error {
		return h.Protocol.Tokens().Approve(asset, owner, spender, big.NewInt(amount))
	})
}

// Balance returns holder's committed balance of asset.
func (h *Harness) Balance(t testing.TB, asset, holder ethcommon.Address) int64 {
	t.Helper()
	var out *big.Int
	require.NoError(t, h.Protocol.View(func() error {
		var err error
		out, err = h.Protocol.Tokens().BalanceOf(asset, holder)
		return err
	}))
	return out.Int64()
}

// ProviderOffer funds Supplier and posts a provider offer of amount cash.
func (h *Harness) ProviderOffer(t testing.TB, callStrike, putStrike, duration uint64, amount int64) uint64 {
	t.Helper()
	addr := h.Protocol.Addresses().Provider
	h.Mint(t, Cash, Supplier, amount)
	h.Approve(t, Cash, Supplier, addr, amount)
	var id uint64
	h.Do(t, "provider.createOffer", func() error {
		var err error
		id, err = h.Protocol.Provider().CreateOffer(Supplier, callStrike, big.NewInt(amount), putStrike, duration, nil)
		return err
	})
	return id
}

// EscrowOffer funds EscrowSupplier and posts an escrow offer of amount
// underlying.
func (h *Harness) EscrowOffer(t testing.TB, amount int64, duration, interestAPR, maxGrace, lateFeeAPR uint64) uint64 {
	t.Helper()
	addr := h.Protocol.Addresses().Escrow
	h.Mint(t, Underlying, EscrowSupplier, amount)
	h.Approve(t, Underlying, EscrowSupplier, addr, amount)
	var id uint64
	h.Do(t, "escrow.createOffer", func() error {
		var err error
		id, err = h.Protocol.Escrow().CreateOffer(EscrowSupplier, big.NewInt(amount), duration, interestAPR, maxGrace, lateFeeAPR, big.NewInt(0))
		return err
	})
	return id
}

// SwapParams selects the inventory swapper with the given minimum output.
func SwapParams(minOut int64) loans.SwapParams {
	return loans.SwapParams{Swapper: SwapperAddress, MinAmountOut: big.NewInt(minOut)}
}

// EventTypes lists the committed events delivered since the last call.
func (h *Harness) EventTypes() []string {
	drained := h.Committed.Drain()
	out := make([]string, 0, len(drained))
	for _, evt := range drained {
		out = append(out, evt.EventType())
	}
	return out
}
