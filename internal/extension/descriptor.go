package extension

import (
	"github.com/google/uuid"

	"github.com/alal76/inkpad/internal/extension/runtime"
	"github.com/alal76/inkpad/pkg/extapi"
)

// Descriptor is the host-side record of one loaded module: its
// metadata, resolved entry points, declared commands, installed menu
// handles, lifecycle state and last error.
//
// Descriptors are owned exclusively by the registry. Callers outside
// this package only observe them through the read-only accessors and
// must not retain one beyond a single call.
type Descriptor struct {
	meta     extapi.Metadata
	path     string
	module   runtime.Module
	commands []extapi.Command

	// declared is the command count the module reported, which may
	// exceed len(commands) when the table was clamped.
	declared int

	menuHandles []uuid.UUID
	state       State
	err         error
}

// Name returns the module's declared name.
func (d *Descriptor) Name() string { return d.meta.Name }

// Meta returns a copy of the module's metadata.
func (d *Descriptor) Meta() extapi.Metadata { return d.meta }

// Path returns the file the module was loaded from.
func (d *Descriptor) Path() string { return d.path }

// State returns the module's lifecycle state.
func (d *Descriptor) State() State { return d.state }

// Err returns the last error recorded for the module, if any.
func (d *Descriptor) Err() error { return d.err }

// Commands returns the module's declared commands, clamped to the
// table maximum.
func (d *Descriptor) Commands() []extapi.Command {
	out := make([]extapi.Command, len(d.commands))
	copy(out, d.commands)
	return out
}

// DeclaredCommands returns the command count the module reported
// before clamping.
func (d *Descriptor) DeclaredCommands() int { return d.declared }

// MenuHandles returns the identifiers of the module's installed menu
// entries.
func (d *Descriptor) MenuHandles() []uuid.UUID {
	out := make([]uuid.UUID, len(d.menuHandles))
	copy(out, d.menuHandles)
	return out
}

// exports returns the module's resolved entry points. Mandatory entry
// points are non-nil for every state at or past StateLoaded.
func (d *Descriptor) exports() *extapi.Exports {
	if d.module == nil {
		return nil
	}
	return d.module.Exports()
}
