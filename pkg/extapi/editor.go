package extapi

// EditorFunc is the editor engine's direct-call entry: a message code
// with two parameters, returning an integer result, called against
// the engine's context pointer.
type EditorFunc func(ctx any, code uint32, wparam, lparam uintptr) uintptr

// EditorHandle grants a module direct access to the editor engine's
// message protocol. The host forwards it verbatim to every module
// exporting the optional SetEditor entry point. A zero handle means
// no editor is active.
type EditorHandle struct {
	// Object is the opaque editor object.
	Object any

	// Direct is the engine's direct-call function.
	Direct EditorFunc

	// Context is the context pointer passed to Direct.
	Context any
}

// Valid reports whether the handle carries a callable editor.
func (h EditorHandle) Valid() bool {
	return h.Direct != nil
}

// Send calls the editor engine directly. It returns 0 on an invalid
// handle.
func (h EditorHandle) Send(code uint32, wparam, lparam uintptr) uintptr {
	if h.Direct == nil {
		return 0
	}
	return h.Direct(h.Context, code, wparam, lparam)
}
