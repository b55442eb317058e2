// Package extapi defines the contract between the inkpad host and
// extension modules. Module authors import this package; the host's
// extension subsystem never exposes it mutable to modules beyond the
// values passed through the entry points below.
//
// A module is one loadable file. Two kinds are supported:
//
//   - Native modules: Go plugin .so files exporting the symbols named
//     by the Symbol* constants, with the exact types in Exports.
//   - Script modules: single Lua files defining global functions with
//     the names in LuaName* constants.
//
// The metadata and command types carry fixed maximum sizes. The limits
// are part of the module contract and mirror the host's internal
// storage; the host truncates or clamps oversized values at the
// boundary rather than rejecting the module.
package extapi

import (
	"os"
	"path/filepath"
)

// APIVersion is the extension API version supported by this host.
// A module whose Metadata declares a different version is rejected
// with a version-mismatch error at load time.
const APIVersion = 1

// Exported symbol names resolved in native modules.
const (
	SymbolGetInfo      = "ModuleGetInfo"
	SymbolInit         = "ModuleInit"
	SymbolCleanup      = "ModuleCleanup"
	SymbolGetCommands  = "ModuleGetCommands"
	SymbolOnNotify     = "ModuleOnNotify"
	SymbolSetEditor    = "ModuleSetEditor"    // optional
	SymbolShowSettings = "ModuleShowSettings" // optional
)

// Global function names resolved in script modules.
const (
	LuaNameGetInfo      = "get_info"
	LuaNameInit         = "init"
	LuaNameCleanup      = "cleanup"
	LuaNameGetCommands  = "get_commands"
	LuaNameOnNotify     = "on_notify"
	LuaNameSetEditor    = "set_editor"    // optional
	LuaNameShowSettings = "show_settings" // optional
)

// Exports holds a module's resolved entry points as typed closures.
// The five mandatory entry points are non-nil for every module the
// host accepts; SetEditor and ShowSettings may be nil.
type Exports struct {
	// GetInfo fills in the module's metadata.
	GetInfo func(*Metadata)

	// Init initializes the module with the metadata the host accepted.
	// Returning false aborts the load.
	Init func(Metadata) bool

	// Cleanup releases module resources before unload.
	Cleanup func()

	// GetCommands fills in the module's command table.
	GetCommands func(*CommandTable)

	// OnNotify delivers one notification envelope to the module.
	OnNotify func(*Envelope)

	// SetEditor forwards the active editor handle. Optional.
	SetEditor func(EditorHandle)

	// ShowSettings opens the module's settings surface. Optional.
	ShowSettings func()
}

// Complete reports whether all mandatory entry points are resolved.
func (e *Exports) Complete() bool {
	return e.GetInfo != nil &&
		e.Init != nil &&
		e.Cleanup != nil &&
		e.GetCommands != nil &&
		e.OnNotify != nil
}

// MissingSymbols returns the native symbol names of unresolved
// mandatory entry points, in resolution order.
func (e *Exports) MissingSymbols() []string {
	var missing []string
	if e.GetInfo == nil {
		missing = append(missing, SymbolGetInfo)
	}
	if e.Init == nil {
		missing = append(missing, SymbolInit)
	}
	if e.Cleanup == nil {
		missing = append(missing, SymbolCleanup)
	}
	if e.GetCommands == nil {
		missing = append(missing, SymbolGetCommands)
	}
	if e.OnNotify == nil {
		missing = append(missing, SymbolOnNotify)
	}
	return missing
}

// HostHome is the root directory for host data under the user's home.
// Layout:
//
//	~/.inkpad/
//	├── extensions/        ← module files (.so, .lua) and .sig files
//	├── trusted_keys.yaml  ← signing keyring for trust verification
//	└── state.json         ← persisted per-module user state
const HostHome = ".inkpad"

// HomeDir returns the absolute path to ~/.inkpad.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, HostHome), nil
}

// ExtensionsDir returns the user-scoped extension directory, creating
// it if absent.
func ExtensionsDir() (string, error) {
	root, err := HomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, "extensions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// KeyringPath returns the default trusted keyring path.
func KeyringPath() (string, error) {
	root, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "trusted_keys.yaml"), nil
}

// StatePath returns the default persisted state file path.
func StatePath() (string, error) {
	root, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "state.json"), nil
}
