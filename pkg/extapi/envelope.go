package extapi

// EventKind identifies a host notification delivered to modules.
type EventKind int

// Notification kinds, in the order events occur over a host session.
const (
	// EventSystemReady is broadcast once all startup modules loaded.
	EventSystemReady EventKind = iota + 1

	// EventSystemShutdown is broadcast before modules are unloaded.
	EventSystemShutdown

	// EventDocumentOpened carries a FileEvent payload.
	EventDocumentOpened

	// EventDocumentClosed carries a FileEvent payload.
	EventDocumentClosed

	// EventDocumentSaved carries a FileEvent payload.
	EventDocumentSaved

	// EventBeforeSave carries a FileEvent payload and is cancellable:
	// any module may veto the save.
	EventBeforeSave

	// EventBufferSwitched carries a BufferEvent payload.
	EventBufferSwitched

	// EventLanguageChanged carries a LanguageEvent payload.
	EventLanguageChanged

	// EventContentModified carries a BufferEvent payload.
	EventContentModified

	// EventSelectionChanged carries a BufferEvent payload.
	EventSelectionChanged

	// EventEditorNative carries an EditorMessage payload forwarded
	// verbatim from the editor engine.
	EventEditorNative
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventSystemReady:
		return "system-ready"
	case EventSystemShutdown:
		return "system-shutdown"
	case EventDocumentOpened:
		return "document-opened"
	case EventDocumentClosed:
		return "document-closed"
	case EventDocumentSaved:
		return "document-saved"
	case EventBeforeSave:
		return "before-save"
	case EventBufferSwitched:
		return "buffer-switched"
	case EventLanguageChanged:
		return "language-changed"
	case EventContentModified:
		return "content-modified"
	case EventSelectionChanged:
		return "selection-changed"
	case EventEditorNative:
		return "editor-native"
	default:
		return "unknown"
	}
}

// Cancellable reports whether the kind supports module veto.
func (k EventKind) Cancellable() bool {
	return k == EventBeforeSave
}

// Envelope is one notification delivered to a module's OnNotify.
// The host constructs envelopes; a module may only set the cancelled
// flag, and only when Cancellable is true.
type Envelope struct {
	// Kind identifies the notification.
	Kind EventKind

	// Data is the payload, interpreted per kind: FileEvent,
	// BufferEvent, LanguageEvent or EditorMessage. May be nil.
	Data any

	// Size is the payload size hint in bytes (0 when unknown).
	Size int

	// Cancellable reports whether the receiving module may veto the
	// in-progress host operation.
	Cancellable bool

	cancelled bool
}

// Cancel vetoes the in-progress operation. It has no effect on a
// non-cancellable envelope.
func (e *Envelope) Cancel() {
	if e.Cancellable {
		e.cancelled = true
	}
}

// Cancelled reports whether a module vetoed the operation.
func (e *Envelope) Cancelled() bool {
	return e.cancelled
}

// FileEvent is the payload for document-opened, document-closed,
// document-saved and before-save.
type FileEvent struct {
	Path string
}

// BufferEvent is the payload for buffer-switched, content-modified
// and selection-changed.
type BufferEvent struct {
	BufferID int64
}

// LanguageEvent is the payload for language-changed.
type LanguageEvent struct {
	BufferID int64
	Language string
}

// EditorMessage is the payload for editor-native passthrough events:
// an untranslated message from the editor engine's own protocol.
type EditorMessage struct {
	Code   uint32
	WParam uintptr
	LParam uintptr
}
