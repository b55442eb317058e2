package extension

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alal76/inkpad/internal/extension/runtime"
	"github.com/alal76/inkpad/internal/extension/trust"
	"github.com/alal76/inkpad/internal/log"
	"github.com/alal76/inkpad/pkg/extapi"
)

// Loader maps module files into the process and drives their
// lifecycle hooks. Verification runs strictly before any module code
// is mapped; every failure path after mapping releases the module
// before returning.
type Loader struct {
	registry *Registry
	runtimes *runtime.Set
	verifier *trust.Verifier
	logger   *log.Logger
	editor   extapi.EditorHandle
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithRuntimes sets the backend set used to open module files.
func WithRuntimes(s *runtime.Set) LoaderOption {
	return func(l *Loader) {
		l.runtimes = s
	}
}

// WithVerifier sets the trust verifier run before loading.
func WithVerifier(v *trust.Verifier) LoaderOption {
	return func(l *Loader) {
		l.verifier = v
	}
}

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(logger *log.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger.WithComponent("loader")
	}
}

// NewLoader creates a loader registering into the given registry.
func NewLoader(registry *Registry, opts ...LoaderOption) *Loader {
	l := &Loader{
		registry: registry,
		runtimes: runtime.DefaultSet(),
		verifier: trust.NewVerifier(),
		logger:   log.Discard,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Runtimes returns the loader's backend set.
func (l *Loader) Runtimes() *runtime.Set {
	return l.runtimes
}

// Verifier returns the loader's trust verifier.
func (l *Loader) Verifier() *trust.Verifier {
	return l.verifier
}

// SetEditorHandle records the editor handle forwarded to modules
// loaded from now on.
func (l *Loader) SetEditorHandle(h extapi.EditorHandle) {
	l.editor = h
}

// Load verifies, maps and initializes the module at path, registering
// its descriptor on success.
func (l *Loader) Load(path string) (*Descriptor, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	// Trust verification runs before the file is mapped.
	if err := l.verifier.Verify(path); err != nil {
		return nil, err
	}

	mod, err := l.runtimes.Open(path)
	if err != nil {
		switch {
		case errors.Is(err, runtime.ErrSymbol):
			return nil, fmt.Errorf("%w: %v", ErrMissingSymbol, err)
		case errors.Is(err, runtime.ErrUnsupported):
			return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, path)
		default:
			return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
		}
	}

	d := &Descriptor{path: path, module: mod, state: StateLoaded}
	exports := mod.Exports()

	var meta extapi.Metadata
	if err := guard(filepath.Base(path), "get-info", func() { exports.GetInfo(&meta) }); err != nil {
		return nil, l.fail(d, fmt.Errorf("%w: %v", ErrInvalidFormat, err))
	}
	meta.Clamp()
	if err := meta.Validate(); err != nil {
		return nil, l.fail(d, fmt.Errorf("%w: %s: %v", ErrInvalidFormat, path, err))
	}
	if meta.APIVersion != extapi.APIVersion {
		return nil, l.fail(d, fmt.Errorf("%w: module %q declares API version %d, host supports %d",
			ErrVersionMismatch, meta.Name, meta.APIVersion, extapi.APIVersion))
	}
	d.meta = meta

	if _, exists := l.registry.Get(meta.Name); exists {
		return nil, l.fail(d, fmt.Errorf("module %q: %w", meta.Name, ErrAlreadyLoaded))
	}

	initOK := false
	if err := guard(meta.Name, "init", func() { initOK = exports.Init(meta) }); err != nil {
		return nil, l.fail(d, fmt.Errorf("%w: %v", ErrInitFailed, err))
	}
	if !initOK {
		return nil, l.fail(d, fmt.Errorf("module %q: %w", meta.Name, ErrInitFailed))
	}
	d.state = StateInitialized

	var table extapi.CommandTable
	if err := guard(meta.Name, "get-commands", func() { exports.GetCommands(&table) }); err != nil {
		// Initialized module with a faulting command hook keeps
		// running without menu entries.
		l.logger.Warn("%v", err)
	}
	cmds, declared := table.Commands()
	if declared > len(cmds) {
		l.logger.Warn("module %s declared %d commands, clamped to %d",
			meta.Name, declared, extapi.MaxCommands)
	}
	d.commands = cmds
	d.declared = declared

	if l.editor.Valid() && exports.SetEditor != nil {
		if err := guard(meta.Name, "set-editor", func() { exports.SetEditor(l.editor) }); err != nil {
			l.logger.Warn("%v", err)
		}
	}

	if err := l.registry.Add(d); err != nil {
		return nil, l.fail(d, err)
	}

	l.logger.Info("loaded module %s %s from %s", meta.Name, meta.Version, path)
	return d, nil
}

// Unload runs the module's cleanup hook, releases it and removes it
// from the registry. Idempotent: an unknown name returns false.
func (l *Loader) Unload(name string) bool {
	d, ok := l.registry.Get(name)
	if !ok {
		return false
	}

	if exports := d.exports(); exports != nil {
		if err := guard(name, "cleanup", func() { exports.Cleanup() }); err != nil {
			l.logger.Warn("%v", err)
		}
		if err := d.module.Close(); err != nil {
			l.logger.Warn("module %s: release failed: %v", name, err)
		}
	}
	d.module = nil
	d.state = StateUnloaded
	l.registry.Remove(name)

	l.logger.Info("unloaded module %s", name)
	return true
}

// Reload unloads the named module and loads it again from the same
// path.
func (l *Loader) Reload(name string) (*Descriptor, error) {
	d, ok := l.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	path := d.Path()

	l.Unload(name)
	return l.Load(path)
}

// fail releases a partially loaded module and records the failure on
// its descriptor. A module that already initialized gets its cleanup
// hook before release, as on a normal unload. Returns err for
// convenient propagation.
func (l *Loader) fail(d *Descriptor, err error) error {
	if d.state == StateInitialized {
		if exports := d.exports(); exports != nil {
			if cerr := guard(d.meta.Name, "cleanup", func() { exports.Cleanup() }); cerr != nil {
				l.logger.Warn("%v", cerr)
			}
		}
	}
	d.state = StateFailed
	d.err = err
	if d.module != nil {
		if cerr := d.module.Close(); cerr != nil {
			l.logger.Warn("release after failed load: %v", cerr)
		}
		d.module = nil
	}
	return err
}
