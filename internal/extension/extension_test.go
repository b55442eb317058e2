package extension

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alal76/inkpad/internal/extension/runtime"
	"github.com/alal76/inkpad/internal/extension/trust"
	"github.com/alal76/inkpad/pkg/extapi"
)

// fakeModule is an in-process runtime.Module for tests.
type fakeModule struct {
	path    string
	exports *extapi.Exports
	onClose func()
	closed  bool
}

func (m *fakeModule) Path() string             { return m.path }
func (m *fakeModule) Exports() *extapi.Exports { return m.exports }

func (m *fakeModule) Close() error {
	if !m.closed {
		m.closed = true
		if m.onClose != nil {
			m.onClose()
		}
	}
	return nil
}

// moduleSpec describes the behavior of one fake module, keyed by its
// file name without extension.
type moduleSpec struct {
	meta          extapi.Metadata
	initOK        bool
	initPanics    bool
	onInit        func()
	commands      []extapi.Command
	onNotify      func(*extapi.Envelope)
	setEditor     func(extapi.EditorHandle)
	showSettings  func()
	onCleanup     func()
	missingSymbol bool

	closes int
}

func testMeta(name string) extapi.Metadata {
	return extapi.Metadata{
		APIVersion:  extapi.APIVersion,
		Name:        name,
		Version:     "1.0.0",
		Author:      "Tester",
		Description: "test module",
	}
}

// fakeBackend serves modules from a spec table, standing in for the
// dynamic loader.
type fakeBackend struct {
	specs map[string]*moduleSpec
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{specs: make(map[string]*moduleSpec)}
}

// add registers a spec under the given file base name. An empty meta
// gets defaults with the same name.
func (b *fakeBackend) add(name string, spec *moduleSpec) *moduleSpec {
	if spec.meta.Name == "" && spec.meta.APIVersion == 0 {
		spec.meta = testMeta(name)
	}
	b.specs[name] = spec
	return spec
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Extensions() []string { return []string{".mod"} }

func (b *fakeBackend) Open(path string) (runtime.Module, error) {
	name := strings.TrimSuffix(filepath.Base(path), ".mod")
	spec, ok := b.specs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", runtime.ErrOpen, path)
	}
	if spec.missingSymbol {
		return nil, fmt.Errorf("%w: %s", runtime.ErrSymbol, extapi.SymbolOnNotify)
	}

	exports := &extapi.Exports{
		GetInfo: func(m *extapi.Metadata) { *m = spec.meta },
		Init: func(extapi.Metadata) bool {
			if spec.initPanics {
				panic("init exploded")
			}
			if spec.onInit != nil {
				spec.onInit()
			}
			return spec.initOK
		},
		Cleanup: func() {
			if spec.onCleanup != nil {
				spec.onCleanup()
			}
		},
		GetCommands: func(t *extapi.CommandTable) {
			for _, cmd := range spec.commands {
				t.Add(cmd)
			}
		},
		OnNotify: func(env *extapi.Envelope) {
			if spec.onNotify != nil {
				spec.onNotify(env)
			}
		},
		SetEditor:    spec.setEditor,
		ShowSettings: spec.showSettings,
	}

	return &fakeModule{
		path:    path,
		exports: exports,
		onClose: func() { spec.closes++ },
	}, nil
}

// touchModule creates an empty candidate file the fake backend will
// serve by name.
func touchModule(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name+".mod")
	if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// newTestManager builds a manager over a fake backend with
// verification disabled and an in-memory menu.
func newTestManager(t *testing.T, backend runtime.Backend) (*Manager, *Menu, string) {
	t.Helper()
	dir := t.TempDir()
	menu := NewMenu()
	m, err := NewManager(ManagerConfig{
		Directory: dir,
		StatePath: filepath.Join(t.TempDir(), "state.json"),
		Runtimes:  runtime.NewSet(backend),
		Verifier:  trust.NewVerifier(trust.WithVerificationDisabled()),
		Menu:      menu,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m, menu, dir
}

// newTestLoader builds a bare loader over a fake backend.
func newTestLoader(backend runtime.Backend) (*Loader, *Registry) {
	registry := NewRegistry()
	loader := NewLoader(registry,
		WithRuntimes(runtime.NewSet(backend)),
		WithVerifier(trust.NewVerifier(trust.WithVerificationDisabled())))
	return loader, registry
}
