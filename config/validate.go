package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/native/confighub"
)

// ErrInvalid tags every validation failure.
var ErrInvalid = errors.New("invalid config")

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, args...)...)
}

// Validate checks addresses, ranges and source settings before anything is
// deployed.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "leveldb", "bolt":
	default:
		return invalid("storage: unknown backend %q", c.Storage.Backend)
	}

	required := map[string]string{
		"market.Owner":      c.Market.Owner,
		"market.Underlying": c.Market.Underlying,
		"market.Cash":       c.Market.Cash,
	}
	for field, value := range required {
		if err := checkAddress(field, value, false); err != nil {
			return err
		}
	}
	if ethcommon.HexToAddress(c.Market.Underlying) == ethcommon.HexToAddress(c.Market.Cash) {
		return invalid("market: underlying and cash must differ")
	}
	optional := map[string]string{
		"market.Provider":       c.Market.Provider,
		"market.Taker":          c.Market.Taker,
		"market.Escrow":         c.Market.Escrow,
		"market.Rolls":          c.Market.Rolls,
		"market.Loans":          c.Market.Loans,
		"genesis.FeeRecipient":  c.Genesis.FeeRecipient,
		"genesis.PauseGuardian": c.Genesis.PauseGuardian,
	}
	for field, value := range optional {
		if err := checkAddress(field, value, true); err != nil {
			return err
		}
	}
	for i, swapper := range c.Genesis.Swappers {
		if err := checkAddress(fmt.Sprintf("genesis.Swappers[%d]", i), swapper, false); err != nil {
			return err
		}
	}

	g := c.Genesis
	if g.MinLTV < confighub.MinConfigurableLTV || g.MaxLTV > confighub.MaxConfigurableLTV || g.MinLTV > g.MaxLTV {
		return invalid("genesis: LTV range [%d, %d] outside [%d, %d]", g.MinLTV, g.MaxLTV,
			confighub.MinConfigurableLTV, confighub.MaxConfigurableLTV)
	}
	if g.MinDurationSecs < confighub.MinConfigurableDuration || g.MaxDurationSecs > confighub.MaxConfigurableDuration || g.MinDurationSecs > g.MaxDurationSecs {
		return invalid("genesis: duration range [%d, %d] outside [%d, %d]", g.MinDurationSecs, g.MaxDurationSecs,
			confighub.MinConfigurableDuration, confighub.MaxConfigurableDuration)
	}
	if g.ProtocolFeeAPR > confighub.MaxProtocolFeeBips {
		return invalid("genesis: ProtocolFeeAPR %d above %d", g.ProtocolFeeAPR, confighub.MaxProtocolFeeBips)
	}
	if g.ProtocolFeeAPR > 0 && g.FeeRecipient == "" {
		return invalid("genesis: FeeRecipient required when ProtocolFeeAPR is set")
	}

	switch c.Oracle.Source {
	case "manual":
		if _, err := parseUintAmount(c.Oracle.InitialPrice); err != nil {
			return invalid("oracle: InitialPrice: %v", err)
		}
	case "redis":
		if strings.TrimSpace(c.Oracle.Pair) == "" {
			return invalid("oracle: Pair required for redis source")
		}
	default:
		return invalid("oracle: unknown source %q", c.Oracle.Source)
	}
	unit, err := parseUintAmount(c.Oracle.BaseUnitAmount)
	if err != nil {
		return invalid("oracle: BaseUnitAmount: %v", err)
	}
	if unit.Sign() == 0 {
		return invalid("oracle: BaseUnitAmount must be positive")
	}
	if c.Swapper.SpreadBips >= 10_000 {
		return invalid("swapper: SpreadBips %d must be below 10000", c.Swapper.SpreadBips)
	}
	return nil
}

func checkAddress(field, value string, allowEmpty bool) error {
	value = strings.TrimSpace(value)
	if value == "" {
		if allowEmpty {
			return nil
		}
		return invalid("%s is required", field)
	}
	if !ethcommon.IsHexAddress(value) {
		return invalid("%s: %q is not a hex address", field, value)
	}
	if ethcommon.HexToAddress(value) == (ethcommon.Address{}) {
		return invalid("%s: zero address", field)
	}
	return nil
}

func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("empty amount")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
