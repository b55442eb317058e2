package runtime

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alal76/inkpad/pkg/extapi"
)

const sampleModule = `
state = { initialized = false, cleaned = false, notified = 0, activated = 0 }

function get_info()
    return {
        api_version = 1,
        name = "sample",
        version = "1.2.0",
        author = "Tester",
        description = "Sample script module",
        homepage = "https://example.com/sample",
    }
end

function init(meta)
    state.initialized = true
    state.init_name = meta.name
    return true
end

function cleanup()
    state.cleaned = true
end

function get_commands()
    return {
        { label = "Do Thing", key = 116, ctrl = true, callback = function() state.activated = state.activated + 1 end },
        { label = "Other", separator = true, callback = function() end },
    }
end

function on_notify(env)
    state.notified = state.notified + 1
    state.last_kind = env.kind_name
    if env.cancellable and env.data and env.data.path == "/veto.txt" then
        env.cancelled = true
    end
end
`

func writeModule(t *testing.T, name, code string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func openSample(t *testing.T) Module {
	t.Helper()
	path := writeModule(t, "sample.lua", sampleModule)
	m, err := NewLuaBackend().Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestLuaBackendOpenResolvesExports(t *testing.T) {
	m := openSample(t)

	exports := m.Exports()
	if !exports.Complete() {
		t.Fatalf("exports incomplete, missing %v", exports.MissingSymbols())
	}
	if exports.SetEditor != nil {
		t.Error("SetEditor resolved but module does not define set_editor")
	}
	if exports.ShowSettings != nil {
		t.Error("ShowSettings resolved but module does not define show_settings")
	}
}

func TestLuaBackendGetInfo(t *testing.T) {
	m := openSample(t)

	var meta extapi.Metadata
	m.Exports().GetInfo(&meta)

	if meta.APIVersion != 1 {
		t.Errorf("APIVersion = %d, want 1", meta.APIVersion)
	}
	if meta.Name != "sample" {
		t.Errorf("Name = %q, want %q", meta.Name, "sample")
	}
	if meta.Version != "1.2.0" {
		t.Errorf("Version = %q, want %q", meta.Version, "1.2.0")
	}
	if meta.Homepage != "https://example.com/sample" {
		t.Errorf("Homepage = %q", meta.Homepage)
	}
}

func TestLuaBackendInitAndCleanup(t *testing.T) {
	m := openSample(t)
	exports := m.Exports()

	if !exports.Init(extapi.Metadata{Name: "sample"}) {
		t.Fatal("Init() = false")
	}
	exports.Cleanup()
}

func TestLuaBackendCommands(t *testing.T) {
	m := openSample(t)

	var table extapi.CommandTable
	m.Exports().GetCommands(&table)

	cmds, declared := table.Commands()
	if declared != 2 || len(cmds) != 2 {
		t.Fatalf("declared = %d, len = %d, want 2, 2", declared, len(cmds))
	}
	if cmds[0].Label != "Do Thing" {
		t.Errorf("cmds[0].Label = %q", cmds[0].Label)
	}
	if cmds[0].Key != 116 || !cmds[0].Mods.Has(extapi.ModCtrl) {
		t.Errorf("cmds[0] shortcut = key %d mods %b", cmds[0].Key, cmds[0].Mods)
	}
	if !cmds[1].SeparatorAfter {
		t.Error("cmds[1].SeparatorAfter = false")
	}
	if cmds[0].Callback == nil {
		t.Fatal("cmds[0].Callback is nil")
	}
	// Callback must run inside the module's state without error.
	cmds[0].Callback()
}

func TestLuaBackendOnNotify(t *testing.T) {
	m := openSample(t)
	exports := m.Exports()

	env := &extapi.Envelope{Kind: extapi.EventDocumentSaved, Data: extapi.FileEvent{Path: "/a.txt"}}
	exports.OnNotify(env)
	if env.Cancelled() {
		t.Error("non-cancellable envelope cancelled")
	}

	veto := &extapi.Envelope{
		Kind:        extapi.EventBeforeSave,
		Cancellable: true,
		Data:        extapi.FileEvent{Path: "/veto.txt"},
	}
	exports.OnNotify(veto)
	if !veto.Cancelled() {
		t.Error("module veto did not cancel envelope")
	}

	pass := &extapi.Envelope{
		Kind:        extapi.EventBeforeSave,
		Cancellable: true,
		Data:        extapi.FileEvent{Path: "/ok.txt"},
	}
	exports.OnNotify(pass)
	if pass.Cancelled() {
		t.Error("module cancelled an envelope it should pass")
	}
}

func TestLuaBackendOptionalExports(t *testing.T) {
	code := sampleModule + `
editor_calls = 0
function set_editor(ed)
    if ed.valid then
        editor_calls = ed.send(2006, 0, 0)
    end
end
function show_settings()
end
`
	path := writeModule(t, "withopt.lua", code)
	m, err := NewLuaBackend().Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer m.Close()

	exports := m.Exports()
	if exports.SetEditor == nil || exports.ShowSettings == nil {
		t.Fatal("optional exports not resolved")
	}

	handle := extapi.EditorHandle{
		Direct: func(ctx any, code uint32, w, l uintptr) uintptr {
			if code == 2006 {
				return 42
			}
			return 0
		},
	}
	exports.SetEditor(handle)
	exports.ShowSettings()
}

func TestLuaBackendMissingEntryPoint(t *testing.T) {
	code := `
function get_info() return { name = "partial" } end
function init() return true end
function cleanup() end
function get_commands() return {} end
-- on_notify deliberately absent
`
	path := writeModule(t, "partial.lua", code)
	_, err := NewLuaBackend().Open(path)
	if !errors.Is(err, ErrSymbol) {
		t.Errorf("Open() error = %v, want ErrSymbol", err)
	}
}

func TestLuaBackendBrokenScript(t *testing.T) {
	path := writeModule(t, "broken.lua", "this is not lua (")
	_, err := NewLuaBackend().Open(path)
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Open() error = %v, want ErrOpen", err)
	}
}

func TestLuaBackendScriptFaultPanics(t *testing.T) {
	code := `
function get_info() return { name = "faulty", api_version = 1 } end
function init() return true end
function cleanup() end
function get_commands() return {} end
function on_notify(env) error("module exploded") end
`
	path := writeModule(t, "faulty.lua", code)
	m, err := NewLuaBackend().Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer m.Close()

	defer func() {
		if recover() == nil {
			t.Error("script fault did not surface as a panic")
		}
	}()
	m.Exports().OnNotify(&extapi.Envelope{Kind: extapi.EventSystemReady})
}

func TestLuaBackendCloseIdempotent(t *testing.T) {
	m := openSample(t)
	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestSetRouting(t *testing.T) {
	set := DefaultSet()

	exts := set.Extensions()
	if len(exts) != 2 || exts[0] != ".lua" || exts[1] != ".so" {
		t.Errorf("Extensions() = %v, want [.lua .so]", exts)
	}

	if b, ok := set.ForPath("/x/mod.lua"); !ok || b.Name() != "lua" {
		t.Errorf("ForPath(.lua) = %v, %v", b, ok)
	}
	if b, ok := set.ForPath("/x/mod.SO"); !ok || b.Name() != "native" {
		t.Errorf("ForPath(.SO) = %v, %v", b, ok)
	}
	if set.Handles("/x/readme.txt") {
		t.Error("Handles(.txt) = true")
	}

	if _, err := set.Open("/x/readme.txt"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Open(.txt) error = %v, want ErrUnsupported", err)
	}
}

func TestNativeBackendOpenErrors(t *testing.T) {
	b := NewNativeBackend()

	if _, err := b.Open(filepath.Join(t.TempDir(), "missing.so")); !errors.Is(err, ErrOpen) {
		t.Errorf("Open(missing) error = %v, want ErrOpen", err)
	}

	// A file that is not a shared object cannot be mapped.
	path := filepath.Join(t.TempDir(), "fake.so")
	if err := os.WriteFile(path, []byte("not an object"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Open(path); !errors.Is(err, ErrOpen) {
		t.Errorf("Open(fake) error = %v, want ErrOpen", err)
	}
}
