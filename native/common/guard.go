package common

// Module names used for pause flags.
const (
	ModuleProvider = "provider"
	ModuleTaker    = "taker"
	ModuleEscrow   = "escrow"
	ModuleRolls    = "rolls"
	ModuleLoans    = "loans"
)

var ErrModulePaused = NewError(KindState, "module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
