package protocol_test

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"collarfi/core/events"
	"collarfi/core/protocol"
	"collarfi/core/protocol/protocoltest"
	"collarfi/native/confighub"
	"collarfi/native/oracle"
	"collarfi/native/tokens"
	"collarfi/storage"
)

func newFeedOracle(t *testing.T) *oracle.FeedOracle {
	t.Helper()
	feed := oracle.NewManualFeed()
	feed.Set(big.NewInt(protocoltest.StartPrice), protocoltest.StartTime)
	o, err := oracle.NewFeedOracle(oracle.Config{
		Base:           protocoltest.Underlying,
		Quote:          protocoltest.Cash,
		BaseUnitAmount: big.NewInt(protocoltest.BaseUnit),
		MaxAge:         time.Hour,
	}, feed)
	require.NoError(t, err)
	return o
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := protocol.New(nil, protocol.Config{})
	require.ErrorIs(t, err, protocol.ErrNilDatabase)

	_, err = protocol.New(storage.NewMemDB(), protocol.Config{
		Owner:      protocoltest.Owner,
		Underlying: protocoltest.Cash,
		Cash:       protocoltest.Cash,
		Oracle:     newFeedOracle(t),
	})
	require.ErrorIs(t, err, protocol.ErrInvalidConfig)

	_, err = protocol.New(storage.NewMemDB(), protocol.Config{
		Owner:      protocoltest.Owner,
		Underlying: protocoltest.Underlying,
		Cash:       protocoltest.Cash,
	})
	require.ErrorIs(t, err, protocol.ErrInvalidConfig)
}

func TestNewReopensExistingDatabase(t *testing.T) {
	db := storage.NewMemDB()
	cfg := protocol.Config{
		Owner:      protocoltest.Owner,
		Underlying: protocoltest.Underlying,
		Cash:       protocoltest.Cash,
		Oracle:     newFeedOracle(t),
		Now:        func() int64 { return protocoltest.StartTime },
	}
	first, err := protocol.New(db, cfg)
	require.NoError(t, err)
	require.Equal(t, protocoltest.Owner, first.Hub().Owner())
	require.NoError(t, first.Execute(context.Background(), "test.mint", func() error {
		return first.Tokens().Mint(protocoltest.Cash, protocoltest.User, big.NewInt(42))
	}))

	cfg.Owner = protocoltest.Stranger
	second, err := protocol.New(db, cfg)
	require.NoError(t, err)
	require.Equal(t, protocoltest.Owner, second.Hub().Owner(), "redeploy must not reinitialise the hub")
	require.NoError(t, second.View(func() error {
		balance, err := second.Tokens().BalanceOf(protocoltest.Cash, protocoltest.User)
		if err != nil {
			return err
		}
		require.Equal(t, int64(42), balance.Int64())
		return nil
	}))
}

func TestExecuteCommitsAndDeliversEvents(t *testing.T) {
	h := protocoltest.New(t)
	h.Mint(t, protocoltest.Cash, protocoltest.User, 500)
	require.Equal(t, int64(500), h.Balance(t, protocoltest.Cash, protocoltest.User))
	require.Equal(t, []string{tokens.EventTypeMinted}, h.EventTypes())
}

func TestExecuteDiscardsFailedTransaction(t *testing.T) {
	h := protocoltest.New(t)
	boom := errors.New("abort")
	err := h.Try("test.abort", func() error {
		if err := h.Protocol.Tokens().Mint(protocoltest.Cash, protocoltest.User, big.NewInt(500)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, int64(0), h.Balance(t, protocoltest.Cash, protocoltest.User))
	require.Empty(t, h.EventTypes(), "events of a reverted transaction must be dropped")

	// The next transaction starts from a clean journal.
	h.Mint(t, protocoltest.Cash, protocoltest.User, 1)
	require.Equal(t, int64(1), h.Balance(t, protocoltest.Cash, protocoltest.User))
	require.Equal(t, []string{tokens.EventTypeMinted}, h.EventTypes())
}

func TestEventsDeliveredOnlyAfterCommit(t *testing.T) {
	h := protocoltest.New(t)
	var seenInside int
	h.Do(t, "test.mint", func() error {
		if err := h.Protocol.Tokens().Mint(protocoltest.Cash, protocoltest.User, big.NewInt(5)); err != nil {
			return err
		}
		seenInside = h.Committed.Len()
		return nil
	})
	require.Zero(t, seenInside)
	require.Equal(t, 1, h.Committed.Len())
}

func TestSetEmitterNilResetsSubscriber(t *testing.T) {
	h := protocoltest.New(t)
	var delivered atomic.Int32
	h.Protocol.SetEmitter(events.EmitterFunc(func(events.Event) { delivered.Add(1) }))
	h.Mint(t, protocoltest.Cash, protocoltest.User, 5)
	require.Equal(t, int32(1), delivered.Load())

	h.Protocol.SetEmitter(nil)
	h.Mint(t, protocoltest.Cash, protocoltest.User, 5)
	require.Equal(t, int32(1), delivered.Load())
}

func TestExecutePinsBlockTime(t *testing.T) {
	h := protocoltest.New(t)
	var before, after int64
	h.Do(t, "test.clock", func() error {
		before = h.Protocol.Now()
		h.Advance(100)
		after = h.Protocol.Now()
		return nil
	})
	require.Equal(t, int64(protocoltest.StartTime), before)
	require.Equal(t, before, after, "time must not move inside a transaction")
	require.Equal(t, int64(protocoltest.StartTime+100), h.Protocol.Now())
}

func TestViewDropsWrites(t *testing.T) {
	h := protocoltest.New(t)
	require.NoError(t, h.Protocol.View(func() error {
		return h.Protocol.Tokens().Mint(protocoltest.Cash, protocoltest.User, big.NewInt(9))
	}))
	require.Equal(t, int64(0), h.Balance(t, protocoltest.Cash, protocoltest.User))
	require.Empty(t, h.EventTypes())
}

func TestExecuteHonoursCancelledContext(t *testing.T) {
	h := protocoltest.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := h.Protocol.Execute(ctx, "test.cancelled", func() error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, ran)
}

func TestApplyGenesisIsAtomic(t *testing.T) {
	p, err := protocol.New(storage.NewMemDB(), protocol.Config{
		Owner:      protocoltest.Owner,
		Underlying: protocoltest.Underlying,
		Cash:       protocoltest.Cash,
		Oracle:     newFeedOracle(t),
	})
	require.NoError(t, err)

	err = p.ApplyGenesis(context.Background(), protocol.Genesis{
		MinLTV:      2_000,
		MaxLTV:      9_000,
		MinDuration: 3_600,
		MaxDuration: 300,
	})
	require.ErrorIs(t, err, confighub.ErrInvalidDuration)
	require.NoError(t, p.View(func() error {
		require.False(t, p.Hub().IsValidLTV(5_000), "LTV range must revert with the failed genesis")
		return nil
	}))

	require.NoError(t, p.ApplyGenesis(context.Background(), protocol.Genesis{
		MinLTV:       2_000,
		MaxLTV:       9_000,
		MinDuration:  300,
		MaxDuration:  3_600,
		EnableEscrow: true,
	}))
	addrs := p.Addresses()
	require.NoError(t, p.View(func() error {
		require.True(t, p.Hub().IsValidLTV(5_000))
		require.True(t, p.Hub().CanOpenPair(protocoltest.Underlying, protocoltest.Cash, addrs.Loans))
		require.True(t, p.Hub().CanOpenSingle(protocoltest.Underlying, addrs.Escrow))
		require.False(t, p.Hub().CanOpenSingle(protocoltest.Cash, addrs.Escrow))
		return nil
	}))
}

func TestDeriveAddress(t *testing.T) {
	require.Equal(t, protocol.DeriveAddress("loans"), protocol.DeriveAddress("loans"))
	require.NotEqual(t, protocol.DeriveAddress("loans"), protocol.DeriveAddress("rolls"))
	require.NotEqual(t, ethcommon.Address{}, protocol.DeriveAddress("escrow"))

	h := protocoltest.New(t)
	addrs := h.Protocol.Addresses()
	require.Equal(t, protocol.DeriveAddress("loans"), addrs.Loans)
}
