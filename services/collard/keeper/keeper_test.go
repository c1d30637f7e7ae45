package keeper

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"collarfi/core/protocol/protocoltest"
	"collarfi/native/common"
	"collarfi/observability/metrics"
)

const positionDuration = 3_600

func openPositions(t *testing.T, h *protocoltest.Harness, n int) {
	t.Helper()
	offer := h.ProviderOffer(t, 12_000, 9_000, positionDuration, 10_000)
	takerAddr := h.Protocol.Addresses().Taker
	for i := 0; i < n; i++ {
		h.Mint(t, protocoltest.Cash, protocoltest.User, 100)
		h.Approve(t, protocoltest.Cash, protocoltest.User, takerAddr, 100)
		h.Do(t, "taker.open", func() error {
			_, _, err := h.Protocol.Taker().OpenPairedPosition(protocoltest.User, big.NewInt(100), offer)
			return err
		})
	}
}

func newKeeper(h *protocoltest.Harness, cfg Config) *Keeper {
	cfg.Address = protocoltest.Keeper
	return New(h.Protocol, NewLocalLocker(), cfg, nil)
}

func settled(t *testing.T, h *protocoltest.Harness, id uint64) bool {
	t.Helper()
	var out bool
	require.NoError(t, h.Protocol.View(func() error {
		pos, err := h.Protocol.Taker().Position(id)
		if err != nil {
			return err
		}
		out = pos.Settled
		return nil
	}))
	return out
}

func TestSweepSettlesExpiredPositions(t *testing.T) {
	h := protocoltest.New(t)
	openPositions(t, h, 2)
	k := newKeeper(h, Config{})

	res, err := k.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Scanned: 2}, res, "nothing is due before expiration")

	h.Advance(positionDuration)
	before := testutil.ToFloat64(metrics.Keeper().Settled().WithLabelValues("taker"))
	res, err = k.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Scanned: 2, Due: 2, Settled: 2}, res)
	require.True(t, settled(t, h, 1))
	require.True(t, settled(t, h, 2))
	require.Equal(t, before+2, testutil.ToFloat64(metrics.Keeper().Settled().WithLabelValues("taker")))

	res, err = k.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{}, res, "settled prefix must not be rescanned")
}

func TestSweepHonoursBatchSize(t *testing.T) {
	h := protocoltest.New(t)
	openPositions(t, h, 3)
	h.Advance(positionDuration)
	k := newKeeper(h, Config{BatchSize: 2})

	res, err := k.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, res.Due)
	require.Equal(t, 2, res.Settled)
	require.False(t, settled(t, h, 3))

	res, err = k.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Scanned: 1, Due: 1, Settled: 1}, res)
}

func TestSweepCountsFailures(t *testing.T) {
	h := protocoltest.New(t)
	openPositions(t, h, 1)
	h.Advance(positionDuration)
	h.Do(t, "confighub.pause", func() error {
		return h.Protocol.Hub().Pause(protocoltest.Owner, common.ModuleTaker)
	})
	k := newKeeper(h, Config{})

	before := testutil.ToFloat64(metrics.Keeper().Failures().WithLabelValues("state"))
	res, err := k.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Scanned: 1, Due: 1, Failed: 1}, res)
	require.False(t, settled(t, h, 1))
	require.Equal(t, before+1, testutil.ToFloat64(metrics.Keeper().Failures().WithLabelValues("state")))
}

func TestSweepSkipsWhileLocked(t *testing.T) {
	h := protocoltest.New(t)
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), "sweep", time.Minute)
	require.NoError(t, err)
	k := New(h.Protocol, locker, Config{Address: protocoltest.Keeper, LockKey: "sweep"}, nil)

	res, err := k.Sweep(context.Background())
	require.NoError(t, err)
	require.True(t, res.Skipped)

	release()
	res, err = k.Sweep(context.Background())
	require.NoError(t, err)
	require.False(t, res.Skipped)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := protocoltest.New(t)
	k := newKeeper(h, Config{Interval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("keeper did not stop")
	}
}
