// Package runtime maps module files into the process and resolves
// their entry points. Each Backend handles one module kind, keyed by
// file extension; everything above this package is backend-agnostic
// and works only with the resolved, typed Exports.
package runtime

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alal76/inkpad/pkg/extapi"
)

// Runtime errors. Backends wrap these so the loader can map them onto
// its own failure taxonomy.
var (
	// ErrOpen is wrapped when a module file cannot be mapped into
	// the process.
	ErrOpen = errors.New("cannot open module")

	// ErrSymbol is wrapped when a mandatory entry point is missing
	// or has the wrong type.
	ErrSymbol = errors.New("missing or mistyped entry point")

	// ErrUnsupported is returned for a path no backend handles.
	ErrUnsupported = errors.New("unsupported module file type")
)

// Module is one loaded module image with resolved entry points.
type Module interface {
	// Path returns the on-disk path the module was loaded from.
	Path() string

	// Exports returns the resolved entry points. The five mandatory
	// entry points are non-nil on every module a backend returns.
	Exports() *extapi.Exports

	// Close releases the module. For script modules this tears down
	// the interpreter state; for native modules the Go runtime keeps
	// the image mapped and Close only drops the references.
	Close() error
}

// Set routes module paths to backends by file extension.
type Set struct {
	byExt map[string]Backend
}

// NewSet builds a backend set. Later backends do not override earlier
// ones for the same extension.
func NewSet(backends ...Backend) *Set {
	s := &Set{byExt: make(map[string]Backend)}
	for _, b := range backends {
		for _, ext := range b.Extensions() {
			ext = strings.ToLower(ext)
			if _, exists := s.byExt[ext]; !exists {
				s.byExt[ext] = b
			}
		}
	}
	return s
}

// DefaultSet returns the standard backends: native Go plugins and Lua
// script modules.
func DefaultSet() *Set {
	return NewSet(NewNativeBackend(), NewLuaBackend())
}

// Backend loads one kind of module file.
type Backend interface {
	// Name identifies the backend in logs and diagnostics.
	Name() string

	// Extensions lists the file extensions (with dot) it handles.
	Extensions() []string

	// Open maps the module file and resolves its entry points.
	Open(path string) (Module, error)
}

// ForPath returns the backend handling the path's extension.
func (s *Set) ForPath(path string) (Backend, bool) {
	b, ok := s.byExt[strings.ToLower(filepath.Ext(path))]
	return b, ok
}

// Open loads a module via the backend for its extension.
func (s *Set) Open(path string) (Module, error) {
	b, ok := s.ForPath(path)
	if !ok {
		return nil, ErrUnsupported
	}
	return b.Open(path)
}

// Extensions returns every handled extension, sorted.
func (s *Set) Extensions() []string {
	exts := make([]string, 0, len(s.byExt))
	for ext := range s.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Handles reports whether any backend accepts the path.
func (s *Set) Handles(path string) bool {
	_, ok := s.ForPath(path)
	return ok
}
