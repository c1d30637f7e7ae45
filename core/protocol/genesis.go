package protocol

import (
	"context"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/native/confighub"
)

// Genesis is the owner configuration applied to a freshly deployed market.
type Genesis struct {
	MinLTV         uint64
	MaxLTV         uint64
	MinDuration    uint64
	MaxDuration    uint64
	ProtocolFeeAPR uint64
	FeeRecipient   ethcommon.Address
	PauseGuardian  ethcommon.Address
	// Swappers are allow-listed on the loans engine. They still need a
	// RegisterSwapper call to be resolvable.
	Swappers []ethcommon.Address
	// EnableEscrow allow-lists the escrow engine and escrow-backed loans.
	EnableEscrow bool
}

// ApplyGenesis configures ranges, fees and allow-lists as the hub owner in a
// single transaction.
func (p *Protocol) ApplyGenesis(ctx context.Context, g Genesis) error {
	owner := p.cfg.Owner
	u, c := p.cfg.Underlying, p.cfg.Cash
	addrs := p.cfg.Addresses
	return p.Execute(ctx, "protocol.genesis", func() error {
		if err := p.hub.SetLTVRange(owner, g.MinLTV, g.MaxLTV); err != nil {
			return err
		}
		if err := p.hub.SetCollarDurationRange(owner, g.MinDuration, g.MaxDuration); err != nil {
			return err
		}
		if err := p.hub.SetProtocolFeeParams(owner, g.ProtocolFeeAPR, g.FeeRecipient); err != nil {
			return err
		}
		if g.PauseGuardian != (ethcommon.Address{}) {
			if err := p.hub.SetPauseGuardian(owner, g.PauseGuardian); err != nil {
				return err
			}
		}
		for _, target := range []ethcommon.Address{addrs.Provider, addrs.Taker, addrs.Rolls, addrs.Loans} {
			if err := p.hub.SetCanOpenPair(owner, u, c, target, true); err != nil {
				return err
			}
		}
		if g.EnableEscrow {
			for _, target := range []ethcommon.Address{addrs.Escrow, addrs.Loans} {
				if err := p.hub.SetCanOpenPair(owner, u, confighub.AnyAsset, target, true); err != nil {
					return err
				}
			}
		}
		for _, swapper := range g.Swappers {
			if err := p.loans.SetSwapperAllowed(owner, swapper, true); err != nil {
				return err
			}
		}
		return nil
	})
}
