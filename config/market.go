package config

import (
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/core/protocol"
	"collarfi/native/oracle"
)

// InventorySwapperLabel derives the address of the built-in swapper.
const InventorySwapperLabel = "swapper/inventory"

func address(value string) ethcommon.Address {
	if value == "" {
		return ethcommon.Address{}
	}
	return ethcommon.HexToAddress(value)
}

func (c *Config) Owner() ethcommon.Address      { return address(c.Market.Owner) }
func (c *Config) Underlying() ethcommon.Address { return address(c.Market.Underlying) }
func (c *Config) Cash() ethcommon.Address       { return address(c.Market.Cash) }

// InventorySwapper returns the built-in swapper's derived address.
func (c *Config) InventorySwapper() ethcommon.Address {
	return protocol.DeriveAddress(InventorySwapperLabel)
}

// Addresses returns the configured engine addresses. Unset entries stay zero
// and are derived by protocol.New.
func (c *Config) Addresses() protocol.Addresses {
	return protocol.Addresses{
		Provider: address(c.Market.Provider),
		Taker:    address(c.Market.Taker),
		Escrow:   address(c.Market.Escrow),
		Rolls:    address(c.Market.Rolls),
		Loans:    address(c.Market.Loans),
	}
}

// ProtocolGenesis converts the genesis section. The inventory swapper is
// allow-listed when enabled.
func (c *Config) ProtocolGenesis() protocol.Genesis {
	g := c.Genesis
	swappers := make([]ethcommon.Address, 0, len(g.Swappers)+1)
	for _, s := range g.Swappers {
		swappers = append(swappers, address(s))
	}
	if c.Swapper.Enabled {
		swappers = append(swappers, c.InventorySwapper())
	}
	return protocol.Genesis{
		MinLTV:         g.MinLTV,
		MaxLTV:         g.MaxLTV,
		MinDuration:    g.MinDurationSecs,
		MaxDuration:    g.MaxDurationSecs,
		ProtocolFeeAPR: g.ProtocolFeeAPR,
		FeeRecipient:   address(g.FeeRecipient),
		PauseGuardian:  address(g.PauseGuardian),
		Swappers:       swappers,
		EnableEscrow:   g.EnableEscrow,
	}
}

// OracleConfig returns the oracle settings for the configured pair. The
// sequencer feed, when any, is attached by the caller.
func (c *Config) OracleConfig() (oracle.Config, error) {
	unit, err := parseUintAmount(c.Oracle.BaseUnitAmount)
	if err != nil {
		return oracle.Config{}, invalid("oracle: BaseUnitAmount: %v", err)
	}
	return oracle.Config{
		Base:           c.Underlying(),
		Quote:          c.Cash(),
		BaseUnitAmount: unit,
		MaxAge:         time.Duration(c.Oracle.MaxAgeSeconds) * time.Second,
		SequencerGrace: time.Duration(c.Oracle.SequencerGraceSecs) * time.Second,
	}, nil
}

// InitialPrice is the starting round of the manual feed.
func (c *Config) InitialPrice() (*big.Int, error) {
	return parseUintAmount(c.Oracle.InitialPrice)
}

// RedisTimeout bounds every feed call.
func (c *Config) RedisTimeout() time.Duration {
	return time.Duration(c.Oracle.RedisTimeoutMs) * time.Millisecond
}
