package extension

// State represents the lifecycle state of a module.
type State int

// Module states.
const (
	// StateUnloaded - Module is not loaded.
	StateUnloaded State = iota

	// StateLoaded - Module code is mapped and entry points are
	// resolved, but init has not run.
	StateLoaded

	// StateInitialized - Module init succeeded; the module receives
	// notifications and its commands may appear in the menu.
	StateInitialized

	// StateFailed - Module failed during load or init. Terminal;
	// failed modules are discarded and never retried automatically.
	StateFailed

	// StateDisabled - User-driven state suppressing notifications and
	// menu presence without unloading the module.
	StateDisabled
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateInitialized:
		return "initialized"
	case StateFailed:
		return "failed"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Operative reports whether the module receives notifications and
// contributes menu entries.
func (s State) Operative() bool {
	return s == StateInitialized
}
