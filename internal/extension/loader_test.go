package extension

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alal76/inkpad/internal/extension/runtime"
	"github.com/alal76/inkpad/internal/extension/trust"
	"github.com/alal76/inkpad/pkg/extapi"
)

func TestLoaderLoadRegistersInitializedModule(t *testing.T) {
	backend := newFakeBackend()
	backend.add("word-count", &moduleSpec{initOK: true})
	loader, registry := newTestLoader(backend)

	path := touchModule(t, t.TempDir(), "word-count")
	d, err := loader.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if d.State() != StateInitialized {
		t.Errorf("State() = %v, want %v", d.State(), StateInitialized)
	}
	if d.Name() != "word-count" {
		t.Errorf("Name() = %q, want %q", d.Name(), "word-count")
	}
	if registry.Len() != 1 {
		t.Errorf("registry.Len() = %d, want 1", registry.Len())
	}
	// Every initialized module has all mandatory entry points.
	if exports := d.exports(); exports == nil || !exports.Complete() {
		t.Error("initialized module has incomplete exports")
	}
}

func TestLoaderLoadMissingFile(t *testing.T) {
	loader, _ := newTestLoader(newFakeBackend())

	_, err := loader.Load(filepath.Join(t.TempDir(), "ghost.mod"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestLoaderLoadUnsupportedExtension(t *testing.T) {
	loader, _ := newTestLoader(newFakeBackend())

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("not a module"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := loader.Load(path)
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Load() error = %v, want ErrInvalidFormat", err)
	}
}

func TestLoaderLoadMissingSymbol(t *testing.T) {
	backend := newFakeBackend()
	backend.add("broken", &moduleSpec{missingSymbol: true})
	loader, registry := newTestLoader(backend)

	_, err := loader.Load(touchModule(t, t.TempDir(), "broken"))
	if !errors.Is(err, ErrMissingSymbol) {
		t.Errorf("Load() error = %v, want ErrMissingSymbol", err)
	}
	if registry.Len() != 0 {
		t.Errorf("registry.Len() = %d, want 0", registry.Len())
	}
}

func TestLoaderLoadVersionMismatch(t *testing.T) {
	backend := newFakeBackend()
	meta := testMeta("futuristic")
	meta.APIVersion = extapi.APIVersion + 1
	spec := backend.add("futuristic", &moduleSpec{meta: meta, initOK: true})
	loader, registry := newTestLoader(backend)

	_, err := loader.Load(touchModule(t, t.TempDir(), "futuristic"))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("Load() error = %v, want ErrVersionMismatch", err)
	}
	// Fully released, not left resident.
	if registry.Len() != 0 {
		t.Errorf("registry.Len() = %d, want 0", registry.Len())
	}
	if spec.closes != 1 {
		t.Errorf("module closed %d times, want 1", spec.closes)
	}
}

func TestLoaderLoadInvalidMetadata(t *testing.T) {
	backend := newFakeBackend()
	meta := testMeta("bad")
	meta.Name = "Not A Valid Name"
	backend.add("bad", &moduleSpec{meta: meta, initOK: true})
	loader, registry := newTestLoader(backend)

	_, err := loader.Load(touchModule(t, t.TempDir(), "bad"))
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Load() error = %v, want ErrInvalidFormat", err)
	}
	if registry.Len() != 0 {
		t.Errorf("registry.Len() = %d, want 0", registry.Len())
	}
}

func TestLoaderLoadInitFailure(t *testing.T) {
	tests := []struct {
		name string
		spec *moduleSpec
	}{
		{"init returns false", &moduleSpec{initOK: false}},
		{"init panics", &moduleSpec{initPanics: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			spec := backend.add("flaky", tt.spec)
			loader, registry := newTestLoader(backend)

			_, err := loader.Load(touchModule(t, t.TempDir(), "flaky"))
			if !errors.Is(err, ErrInitFailed) {
				t.Errorf("Load() error = %v, want ErrInitFailed", err)
			}
			if registry.Len() != 0 {
				t.Errorf("registry.Len() = %d, want 0", registry.Len())
			}
			if spec.closes != 1 {
				t.Errorf("module closed %d times, want 1", spec.closes)
			}
		})
	}
}

func TestLoaderLoadDuplicateName(t *testing.T) {
	backend := newFakeBackend()
	backend.add("twin", &moduleSpec{initOK: true})
	other := backend.add("twin-copy", &moduleSpec{meta: testMeta("twin"), initOK: true})
	loader, registry := newTestLoader(backend)

	dir := t.TempDir()
	if _, err := loader.Load(touchModule(t, dir, "twin")); err != nil {
		t.Fatalf("first Load() error = %v", err)
	}

	_, err := loader.Load(touchModule(t, dir, "twin-copy"))
	if !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("second Load() error = %v, want ErrAlreadyLoaded", err)
	}
	if registry.Len() != 1 {
		t.Errorf("registry.Len() = %d, want 1", registry.Len())
	}
	if other.closes != 1 {
		t.Errorf("duplicate closed %d times, want 1", other.closes)
	}
}

func TestLoaderCleanupOnPostInitCollision(t *testing.T) {
	// A module whose init reentrantly loads a rival claiming the same
	// name fails registration after its own init succeeded. That exit
	// must still run the module's cleanup hook before release.
	backend := newFakeBackend()
	loader, registry := newTestLoader(backend)
	dir := t.TempDir()

	backend.add("rival", &moduleSpec{meta: testMeta("shadow"), initOK: true})
	rivalPath := touchModule(t, dir, "rival")

	cleaned := 0
	slow := backend.add("slow", &moduleSpec{
		meta:      testMeta("shadow"),
		initOK:    true,
		onCleanup: func() { cleaned++ },
		onInit: func() {
			if _, err := loader.Load(rivalPath); err != nil {
				t.Errorf("rival Load() error = %v", err)
			}
		},
	})

	_, err := loader.Load(touchModule(t, dir, "slow"))
	if !errors.Is(err, ErrAlreadyLoaded) {
		t.Fatalf("Load() error = %v, want ErrAlreadyLoaded", err)
	}
	if cleaned != 1 {
		t.Errorf("cleanup ran %d times, want 1", cleaned)
	}
	if slow.closes != 1 {
		t.Errorf("module closed %d times, want 1", slow.closes)
	}
	if registry.Len() != 1 {
		t.Errorf("registry.Len() = %d, want 1", registry.Len())
	}
}

func TestLoaderLoadClampsCommandOverflow(t *testing.T) {
	backend := newFakeBackend()
	cmds := make([]extapi.Command, extapi.MaxCommands+5)
	for i := range cmds {
		cmds[i] = extapi.Command{Label: "entry", Callback: func() {}}
	}
	backend.add("greedy", &moduleSpec{initOK: true, commands: cmds})
	loader, _ := newTestLoader(backend)

	d, err := loader.Load(touchModule(t, t.TempDir(), "greedy"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := len(d.Commands()); got != extapi.MaxCommands {
		t.Errorf("len(Commands()) = %d, want %d", got, extapi.MaxCommands)
	}
}

func TestLoaderLoadTruncatesOversizedMetadata(t *testing.T) {
	backend := newFakeBackend()
	meta := testMeta("chatty")
	for len(meta.Description) <= extapi.MaxDescriptionLen {
		meta.Description += " more words"
	}
	backend.add("chatty", &moduleSpec{meta: meta, initOK: true})
	loader, _ := newTestLoader(backend)

	d, err := loader.Load(touchModule(t, t.TempDir(), "chatty"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := len(d.Meta().Description); got > extapi.MaxDescriptionLen {
		t.Errorf("description length = %d, want <= %d", got, extapi.MaxDescriptionLen)
	}
}

func TestLoaderUnloadIdempotent(t *testing.T) {
	backend := newFakeBackend()
	cleaned := 0
	spec := backend.add("tidy", &moduleSpec{initOK: true, onCleanup: func() { cleaned++ }})
	loader, registry := newTestLoader(backend)

	if _, err := loader.Load(touchModule(t, t.TempDir(), "tidy")); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !loader.Unload("tidy") {
		t.Error("Unload() = false, want true")
	}
	if cleaned != 1 {
		t.Errorf("cleanup ran %d times, want 1", cleaned)
	}
	if spec.closes != 1 {
		t.Errorf("module closed %d times, want 1", spec.closes)
	}
	if registry.Len() != 0 {
		t.Errorf("registry.Len() = %d, want 0", registry.Len())
	}

	if loader.Unload("tidy") {
		t.Error("second Unload() = true, want false")
	}
	if loader.Unload("never-loaded") {
		t.Error("Unload(unknown) = true, want false")
	}
}

func TestLoaderReloadKeepsOneEntry(t *testing.T) {
	backend := newFakeBackend()
	backend.add("stable", &moduleSpec{initOK: true})
	loader, registry := newTestLoader(backend)

	d, err := loader.Load(touchModule(t, t.TempDir(), "stable"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	before := d.Meta()

	nd, err := loader.Reload("stable")
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if nd.Meta() != before {
		t.Errorf("Reload() metadata = %+v, want %+v", nd.Meta(), before)
	}
	if registry.Len() != 1 {
		t.Errorf("registry.Len() = %d, want 1", registry.Len())
	}

	if _, err := loader.Reload("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reload(missing) error = %v, want ErrNotFound", err)
	}
}

func TestLoaderForwardsEditorHandleOnLoad(t *testing.T) {
	backend := newFakeBackend()
	var got extapi.EditorHandle
	backend.add("editor-aware", &moduleSpec{
		initOK:    true,
		setEditor: func(h extapi.EditorHandle) { got = h },
	})
	loader, _ := newTestLoader(backend)

	loader.SetEditorHandle(extapi.EditorHandle{
		Direct: func(ctx any, code uint32, w, l uintptr) uintptr { return 7 },
	})

	if _, err := loader.Load(touchModule(t, t.TempDir(), "editor-aware")); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !got.Valid() {
		t.Error("editor handle not forwarded during load")
	}
}

func TestLoaderVerificationGate(t *testing.T) {
	dir := t.TempDir()
	backend := newFakeBackend()
	backend.add("signed", &moduleSpec{initOK: true})
	path := touchModule(t, dir, "signed")

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	keyring := trust.NewKeyring()
	if err := keyring.Add("release", pub); err != nil {
		t.Fatal(err)
	}

	registry := NewRegistry()
	loader := NewLoader(registry,
		WithRuntimes(runtime.NewSet(backend)),
		WithVerifier(trust.NewVerifier(trust.WithKeyring(keyring))))

	// Unsigned candidate is rejected before loading.
	if _, err := loader.Load(path); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Load(unsigned) error = %v, want ErrSignatureInvalid", err)
	}
	if registry.Len() != 0 {
		t.Errorf("registry.Len() = %d, want 0", registry.Len())
	}

	// With a valid signature the same candidate loads.
	if err := trust.Sign(path, "release", priv); err != nil {
		t.Fatal(err)
	}
	if _, err := loader.Load(path); err != nil {
		t.Errorf("Load(signed) error = %v", err)
	}
}
