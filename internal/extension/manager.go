package extension

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/alal76/inkpad/internal/extension/runtime"
	"github.com/alal76/inkpad/internal/extension/trust"
	"github.com/alal76/inkpad/internal/log"
	"github.com/alal76/inkpad/pkg/extapi"
)

// Manager orchestrates the extension subsystem: it discovers
// candidates, sequences verifier, loader, menu bridge and bus, and
// exclusively owns the module registry. The host constructs one
// Manager at startup and injects it; there is no package-level
// instance.
//
// All discovery, loading and notification dispatch are expected to
// run on the host's single control thread. Reentrant Manager calls
// from inside a module callback are caller responsibility and may
// corrupt an in-progress broadcast.
type Manager struct {
	dir       string
	statePath string
	logger    *log.Logger

	registry *Registry
	loader   *Loader
	bus      *Bus
	bridge   *Bridge

	state  *UserState
	editor extapi.EditorHandle
}

// ManagerConfig configures the extension manager.
type ManagerConfig struct {
	// Directory is the extension directory, created if absent.
	Directory string

	// StatePath is where per-module user state is persisted.
	StatePath string

	// Runtimes is the module backend set.
	Runtimes *runtime.Set

	// Verifier checks candidate signatures before loading.
	Verifier *trust.Verifier

	// Menu receives the extension menu section.
	Menu MenuSink

	// ManagementAction backs the trailing management menu entry.
	ManagementAction func()

	// Logger receives subsystem logs.
	Logger *log.Logger
}

// DefaultManagerConfig returns the user-scoped default configuration.
func DefaultManagerConfig() (ManagerConfig, error) {
	dir, err := extapi.ExtensionsDir()
	if err != nil {
		return ManagerConfig{}, err
	}
	statePath, err := extapi.StatePath()
	if err != nil {
		return ManagerConfig{}, err
	}
	return ManagerConfig{
		Directory: dir,
		StatePath: statePath,
		Runtimes:  runtime.DefaultSet(),
		Verifier:  trust.NewVerifier(),
		Menu:      NewMenu(),
		Logger:    log.Discard,
	}, nil
}

// NewManager creates a manager from the given configuration. Missing
// fields fall back to defaults; persisted user state is read eagerly
// so disable flags survive restarts.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Directory == "" {
		dir, err := extapi.ExtensionsDir()
		if err != nil {
			return nil, err
		}
		cfg.Directory = dir
	}
	if cfg.StatePath == "" {
		statePath, err := extapi.StatePath()
		if err != nil {
			return nil, err
		}
		cfg.StatePath = statePath
	}
	if cfg.Runtimes == nil {
		cfg.Runtimes = runtime.DefaultSet()
	}
	if cfg.Verifier == nil {
		cfg.Verifier = trust.NewVerifier()
	}
	if cfg.Menu == nil {
		cfg.Menu = NewMenu()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard
	}

	registry := NewRegistry()
	m := &Manager{
		dir:       cfg.Directory,
		statePath: cfg.StatePath,
		logger:    cfg.Logger.WithComponent("extension"),
		registry:  registry,
		loader: NewLoader(registry,
			WithRuntimes(cfg.Runtimes),
			WithVerifier(cfg.Verifier),
			WithLoaderLogger(cfg.Logger)),
		bus: NewBus(registry, cfg.Logger),
	}
	m.bridge = NewBridge(registry, cfg.Menu, cfg.Logger,
		WithManagementAction(cfg.ManagementAction))

	st, err := LoadState(cfg.StatePath)
	if err != nil {
		m.logger.Warn("user state unavailable: %v", err)
		st = NewUserState()
	}
	m.state = st

	return m, nil
}

// Discover lists module candidates: a non-recursive listing of the
// extension directory filtered by the backends' file extensions,
// sorted. The directory is created if absent.
func (m *Manager) Discover() ([]string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create extension directory: %w", err)
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read extension directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !m.loader.Runtimes().Handles(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(m.dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Load loads one module and installs its menu entries. A failure is
// recorded in the persisted user state; a module the user disabled in
// a previous run comes up disabled.
func (m *Manager) Load(path string) (*Descriptor, error) {
	d, err := m.loader.Load(path)
	if err != nil {
		m.state.Errors[filepath.Base(path)] = err.Error()
		m.saveState()
		return nil, err
	}
	delete(m.state.Errors, filepath.Base(path))

	if m.state.Disabled[d.Name()] {
		d.state = StateDisabled
		m.logger.Info("module %s loaded disabled", d.Name())
	} else {
		m.bridge.Install(d)
	}
	return d, nil
}

// LoadAll discovers and loads every candidate. The first load error
// is recorded and returned while the remaining candidates still load;
// partial success is normal. Afterwards it broadcasts system-ready,
// rebuilds the menu and persists state. Returns the success count.
func (m *Manager) LoadAll() (int, error) {
	paths, err := m.Discover()
	if err != nil {
		return 0, err
	}

	count := 0
	var firstErr error
	for _, path := range paths {
		if _, err := m.Load(path); err != nil {
			m.logger.Error("load %s: %v", path, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			continue
		}
		count++
	}

	m.bus.Broadcast(extapi.EventSystemReady, nil)
	m.bridge.Rebuild()
	m.saveState()

	m.logger.Info("loaded %d of %d modules", count, len(paths))
	return count, firstErr
}

// Unload removes one module: menu entries out, cleanup hook, release.
// Idempotent; an unknown name returns false.
func (m *Manager) Unload(name string) bool {
	if d, ok := m.registry.Get(name); ok {
		m.bridge.Uninstall(d)
	}
	return m.loader.Unload(name)
}

// UnloadAll broadcasts system-shutdown, then unloads every registered
// module. Invoked once at host shutdown.
func (m *Manager) UnloadAll() {
	m.bus.Broadcast(extapi.EventSystemShutdown, nil)

	for _, name := range m.registry.Names() {
		m.Unload(name)
	}
	m.saveState()
}

// Reload unloads the named module and loads it again from the same
// path, then rebuilds the menu.
func (m *Manager) Reload(name string) (*Descriptor, error) {
	d, ok := m.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	m.bridge.Uninstall(d)

	nd, err := m.loader.Reload(name)
	if err != nil {
		m.bridge.Rebuild()
		return nil, err
	}
	if m.state.Disabled[name] {
		nd.state = StateDisabled
	}
	m.bridge.Rebuild()
	return nd, nil
}

// List returns all registered modules in name order.
func (m *Manager) List() []*Descriptor {
	return m.registry.Descriptors()
}

// Find returns the named module.
func (m *Manager) Find(name string) (*Descriptor, bool) {
	return m.registry.Get(name)
}

// Count returns the number of registered modules.
func (m *Manager) Count() int {
	return m.registry.Len()
}

// IsLoaded reports whether the named module is registered.
func (m *Manager) IsLoaded(name string) bool {
	_, ok := m.registry.Get(name)
	return ok
}

// Disable suppresses the named module's notifications and menu
// presence without unloading it. Persisted across runs.
func (m *Manager) Disable(name string) error {
	d, ok := m.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if d.state == StateDisabled {
		return nil
	}
	d.state = StateDisabled
	m.state.Disabled[name] = true
	m.bridge.Rebuild()
	m.saveState()
	return nil
}

// Enable returns a disabled module to operation.
func (m *Manager) Enable(name string) error {
	d, ok := m.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if d.state == StateDisabled {
		d.state = StateInitialized
	}
	delete(m.state.Disabled, name)
	m.bridge.Rebuild()
	m.saveState()
	return nil
}

// SetEditorHandle records the editor handle and forwards it to every
// loaded module exporting the optional setter. Modules loaded later
// receive it during load.
func (m *Manager) SetEditorHandle(h extapi.EditorHandle) {
	m.editor = h
	m.loader.SetEditorHandle(h)

	for _, d := range m.registry.Descriptors() {
		exports := d.exports()
		if exports == nil || exports.SetEditor == nil {
			continue
		}
		if err := guard(d.Name(), "set-editor", func() { exports.SetEditor(h) }); err != nil {
			m.logger.Warn("%v", err)
		}
	}
}

// Broadcast delivers the event to every operative module.
func (m *Manager) Broadcast(kind extapi.EventKind, data any) {
	m.bus.Broadcast(kind, data)
}

// BroadcastCancellable delivers the event, stopping at the first
// module that cancels. Returns false when the host operation should
// not proceed.
func (m *Manager) BroadcastCancellable(kind extapi.EventKind, data any) bool {
	return m.bus.BroadcastCancellable(kind, data)
}

// Notify delivers the event to one named module.
func (m *Manager) Notify(name string, kind extapi.EventKind, data any) error {
	return m.bus.Notify(name, kind, data)
}

// ShowSettings invokes the named module's optional settings entry
// point.
func (m *Manager) ShowSettings(name string) error {
	d, ok := m.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	exports := d.exports()
	if exports == nil || exports.ShowSettings == nil {
		return fmt.Errorf("module %q has no settings entry point", name)
	}
	if err := guard(name, "show-settings", func() { exports.ShowSettings() }); err != nil {
		m.logger.Warn("%v", err)
	}
	return nil
}

// Directory returns the extension directory.
func (m *Manager) Directory() string {
	return m.dir
}

// Verifier returns the trust verifier in use.
func (m *Manager) Verifier() *trust.Verifier {
	return m.loader.Verifier()
}

// Errors returns the recorded last load error per candidate file.
func (m *Manager) Errors() map[string]string {
	out := make(map[string]string, len(m.state.Errors))
	for k, v := range m.state.Errors {
		out[k] = v
	}
	return out
}

// saveState persists user state; failures are logged, never fatal.
func (m *Manager) saveState() {
	if err := SaveState(m.statePath, m.state); err != nil {
		m.logger.Warn("persist user state: %v", err)
	}
}
