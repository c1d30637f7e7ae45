package swap

import (
	"math/big"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/native/common"
)

var (
	ErrSlippage        = common.NewError(common.KindEconomic, "swap: slippage exceeded")
	ErrBalanceMismatch = common.NewError(common.KindEconomic, "swap: balance update mismatch")
	ErrUnsupportedPair = common.NewError(common.KindValidation, "swap: unsupported asset pair")
	ErrInvalidAmount   = common.NewError(common.KindValidation, "swap: invalid amount")
	ErrUnknownSwapper  = common.NewError(common.KindAuthorization, "swap: unknown swapper")
)

// Swapper exchanges an exact input amount. The caller must have approved the
// swapper for amountIn of assetIn; the output is sent to the caller.
type Swapper interface {
	Swap(caller, assetIn, assetOut ethcommon.Address, amountIn, minAmountOut *big.Int, extraData []byte) (*big.Int, error)
}

// Params selects a swapper and its bounds for one call.
type Params struct {
	SwapperAddress ethcommon.Address
	MinAmountOut   *big.Int
	ExtraData      []byte
}

// Directory resolves swapper addresses to implementations.
type Directory struct {
	mu       sync.RWMutex
	swappers map[ethcommon.Address]Swapper
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{swappers: make(map[ethcommon.Address]Swapper)}
}

// Register binds addr to swapper.
func (d *Directory) Register(addr ethcommon.Address, swapper Swapper) {
	d.mu.Lock()
	d.swappers[addr] = swapper
	d.mu.Unlock()
}

// Lookup returns the swapper registered at addr.
func (d *Directory) Lookup(addr ethcommon.Address) (Swapper, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	swapper, ok := d.swappers[addr]
	if !ok {
		return nil, ErrUnknownSwapper
	}
	return swapper, nil
}
