package runtime

import (
	"fmt"
	"plugin"

	"github.com/alal76/inkpad/pkg/extapi"
)

// NativeBackend loads Go plugin shared objects through the platform
// dynamic loader. Symbols are resolved by name and type-asserted to
// the extapi entry-point signatures; a present symbol with the wrong
// type is treated the same as a missing one.
type NativeBackend struct{}

// NewNativeBackend creates the native .so backend.
func NewNativeBackend() *NativeBackend {
	return &NativeBackend{}
}

// Name implements Backend.
func (b *NativeBackend) Name() string { return "native" }

// Extensions implements Backend.
func (b *NativeBackend) Extensions() []string { return []string{".so"} }

// Open implements Backend.
func (b *NativeBackend) Open(path string) (Module, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}

	exports, err := resolveNative(p)
	if err != nil {
		// The Go runtime keeps the image mapped; dropping references
		// is the strongest release available here.
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &nativeModule{path: path, exports: exports}, nil
}

// resolveNative looks up the exported entry points of a Go plugin.
func resolveNative(p *plugin.Plugin) (*extapi.Exports, error) {
	var resolveErr error

	mandatory := func(name string) plugin.Symbol {
		sym, err := p.Lookup(name)
		if err != nil && resolveErr == nil {
			resolveErr = fmt.Errorf("%w: %s", ErrSymbol, name)
		}
		return sym
	}
	mistyped := func(name string) {
		if resolveErr == nil {
			resolveErr = fmt.Errorf("%w: %s has the wrong type", ErrSymbol, name)
		}
	}

	exports := &extapi.Exports{}

	if sym := mandatory(extapi.SymbolGetInfo); sym != nil {
		if fn, ok := sym.(func(*extapi.Metadata)); ok {
			exports.GetInfo = fn
		} else {
			mistyped(extapi.SymbolGetInfo)
		}
	}
	if sym := mandatory(extapi.SymbolInit); sym != nil {
		if fn, ok := sym.(func(extapi.Metadata) bool); ok {
			exports.Init = fn
		} else {
			mistyped(extapi.SymbolInit)
		}
	}
	if sym := mandatory(extapi.SymbolCleanup); sym != nil {
		if fn, ok := sym.(func()); ok {
			exports.Cleanup = fn
		} else {
			mistyped(extapi.SymbolCleanup)
		}
	}
	if sym := mandatory(extapi.SymbolGetCommands); sym != nil {
		if fn, ok := sym.(func(*extapi.CommandTable)); ok {
			exports.GetCommands = fn
		} else {
			mistyped(extapi.SymbolGetCommands)
		}
	}
	if sym := mandatory(extapi.SymbolOnNotify); sym != nil {
		if fn, ok := sym.(func(*extapi.Envelope)); ok {
			exports.OnNotify = fn
		} else {
			mistyped(extapi.SymbolOnNotify)
		}
	}

	if resolveErr != nil {
		return nil, resolveErr
	}

	// Optional entry points resolve best-effort; a lookup miss is
	// fine, a type mismatch is still a hard failure.
	if sym, err := p.Lookup(extapi.SymbolSetEditor); err == nil {
		fn, ok := sym.(func(extapi.EditorHandle))
		if !ok {
			return nil, fmt.Errorf("%w: %s has the wrong type", ErrSymbol, extapi.SymbolSetEditor)
		}
		exports.SetEditor = fn
	}
	if sym, err := p.Lookup(extapi.SymbolShowSettings); err == nil {
		fn, ok := sym.(func())
		if !ok {
			return nil, fmt.Errorf("%w: %s has the wrong type", ErrSymbol, extapi.SymbolShowSettings)
		}
		exports.ShowSettings = fn
	}

	return exports, nil
}

type nativeModule struct {
	path    string
	exports *extapi.Exports
}

func (m *nativeModule) Path() string             { return m.path }
func (m *nativeModule) Exports() *extapi.Exports { return m.exports }

// Close implements Module. The Go runtime provides no dlclose; the
// image stays mapped for the life of the process and the host simply
// stops referencing it.
func (m *nativeModule) Close() error {
	m.exports = &extapi.Exports{}
	return nil
}
