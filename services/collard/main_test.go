package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	marketconfig "collarfi/config"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestOpenMarketAppliesGenesisOnce(t *testing.T) {
	dir := t.TempDir()
	mcfg := marketconfig.Default()
	mcfg.DataDir = dir
	mcfg.Storage = marketconfig.Storage{Backend: "bolt", Path: filepath.Join(dir, "state.bolt")}

	m, err := openMarket(context.Background(), mcfg, false, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, m.feed, "manual source exposes its feed")
	fresh, err := isFresh(m.proto)
	require.NoError(t, err)
	require.False(t, fresh)
	var allowed bool
	require.NoError(t, m.proto.View(func() error {
		allowed = m.proto.Loans().IsSwapperAllowed(mcfg.InventorySwapper())
		return nil
	}))
	require.True(t, allowed)
	m.Close()

	m, err = openMarket(context.Background(), mcfg, false, discardLogger())
	require.NoError(t, err)
	defer m.Close()
	var maxLTV uint64
	require.NoError(t, m.proto.View(func() error {
		settings, err := m.proto.Hub().Settings()
		maxLTV = settings.MaxLTV
		return err
	}))
	require.Equal(t, mcfg.Genesis.MaxLTV, maxLTV)
}

func TestBuildOracleRedisRequiresConnection(t *testing.T) {
	mcfg := marketconfig.Default()
	mcfg.Oracle.Source = "redis"
	_, _, err := buildOracle(mcfg, nil)
	require.Error(t, err)
}

func TestBuildOracleManualPrice(t *testing.T) {
	mcfg := marketconfig.Default()
	o, feed, err := buildOracle(mcfg, nil)
	require.NoError(t, err)
	require.NotNil(t, feed)
	price, err := o.CurrentPrice()
	require.NoError(t, err)
	require.Equal(t, mcfg.Oracle.InitialPrice, price.String())
}
