package extension

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/google/uuid"

	"github.com/alal76/inkpad/internal/log"
	"github.com/alal76/inkpad/pkg/extapi"
)

// ManagementLabel is the trailing entry of the extension menu section.
const ManagementLabel = "Manage Extensions"

// MenuEntry is one item in the host menu's extension section.
type MenuEntry struct {
	ID          uuid.UUID
	Module      string
	Label       string
	Accelerator string
	Separator   bool
	Activate    func()
}

// MenuSink receives the extension section of the host menu. The repo
// ships Menu, an in-memory implementation; a real menu-bar toolkit
// would provide its own.
type MenuSink interface {
	Insert(entry MenuEntry)
	Remove(id uuid.UUID)
}

// Bridge converts each module's declared commands into menu entries
// bound to thunks invoking the module callback, and keeps the menu
// section in sync with the registry.
type Bridge struct {
	registry *Registry
	sink     MenuSink
	logger   *log.Logger

	manage func()

	mu        sync.Mutex
	manageID  uuid.UUID
	hasManage bool
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithManagementAction sets the callback behind the trailing
// management entry.
func WithManagementAction(fn func()) BridgeOption {
	return func(b *Bridge) {
		b.manage = fn
	}
}

// NewBridge creates a bridge feeding the given sink.
func NewBridge(registry *Registry, sink MenuSink, logger *log.Logger, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		registry: registry,
		sink:     sink,
		logger:   logger.WithComponent("menu"),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Install converts the descriptor's commands into menu entries,
// followed by a trailing separator. A module with zero commands
// contributes nothing.
func (b *Bridge) Install(d *Descriptor) {
	cmds := d.Commands()
	if len(cmds) == 0 {
		return
	}

	handles := make([]uuid.UUID, 0, len(cmds)+1)
	for _, cmd := range cmds {
		entry := MenuEntry{
			ID:          uuid.New(),
			Module:      d.Name(),
			Label:       cmd.Label,
			Accelerator: AcceleratorLabel(cmd.Key, cmd.Mods),
			Activate:    b.thunk(d, cmd.Callback),
		}
		b.sink.Insert(entry)
		handles = append(handles, entry.ID)

		if cmd.SeparatorAfter {
			sep := MenuEntry{ID: uuid.New(), Module: d.Name(), Separator: true}
			b.sink.Insert(sep)
			handles = append(handles, sep.ID)
		}
	}

	// Trailing separator closes the module's block.
	sep := MenuEntry{ID: uuid.New(), Module: d.Name(), Separator: true}
	b.sink.Insert(sep)
	handles = append(handles, sep.ID)

	d.menuHandles = handles
}

// Uninstall removes the descriptor's installed menu entries.
func (b *Bridge) Uninstall(d *Descriptor) {
	for _, id := range d.menuHandles {
		b.sink.Remove(id)
	}
	d.menuHandles = nil
}

// Rebuild clears and regenerates the extension menu section from the
// current registry in name order, ending with the management entry.
// Disabled modules contribute nothing.
func (b *Bridge) Rebuild() {
	b.mu.Lock()
	if b.hasManage {
		b.sink.Remove(b.manageID)
		b.hasManage = false
	}
	b.mu.Unlock()

	for _, d := range b.registry.Descriptors() {
		b.Uninstall(d)
	}
	for _, d := range b.registry.Descriptors() {
		if d.State().Operative() {
			b.Install(d)
		}
	}

	entry := MenuEntry{
		ID:    uuid.New(),
		Label: ManagementLabel,
		Activate: func() {
			if b.manage != nil {
				b.manage()
			}
		},
	}
	b.sink.Insert(entry)

	b.mu.Lock()
	b.manageID = entry.ID
	b.hasManage = true
	b.mu.Unlock()
}

// thunk wraps a command callback so activation is gated on the state
// machine and faults stay contained.
func (b *Bridge) thunk(d *Descriptor, callback func()) func() {
	return func() {
		if !d.State().Operative() || callback == nil {
			return
		}
		if err := guard(d.Name(), "command", func() { callback() }); err != nil {
			b.logger.Warn("%v", err)
		}
	}
}

// AcceleratorLabel renders a shortcut as a display string, e.g.
// "Ctrl+Shift+F5". Returns "" for commands without a shortcut.
func AcceleratorLabel(key int, mods extapi.Mods) string {
	if key == 0 {
		return ""
	}

	var parts []string
	if mods.Has(extapi.ModCtrl) {
		parts = append(parts, "Ctrl")
	}
	if mods.Has(extapi.ModAlt) {
		parts = append(parts, "Alt")
	}
	if mods.Has(extapi.ModShift) {
		parts = append(parts, "Shift")
	}
	if mods.Has(extapi.ModCmd) {
		parts = append(parts, "Cmd")
	}
	parts = append(parts, keyName(key))
	return strings.Join(parts, "+")
}

// keyName names a key code, preferring the terminal key vocabulary
// for named keys.
func keyName(key int) string {
	if name, ok := tcell.KeyNames[tcell.Key(key)]; ok {
		return name
	}
	if key == ' ' {
		return "Space"
	}
	if key > ' ' && key < 0x7f {
		return strings.ToUpper(string(rune(key)))
	}
	return fmt.Sprintf("Key(%d)", key)
}

// Menu is the in-memory MenuSink used by the CLI and tests.
type Menu struct {
	mu      sync.Mutex
	entries []MenuEntry
}

// NewMenu creates an empty in-memory menu.
func NewMenu() *Menu {
	return &Menu{}
}

// Insert implements MenuSink.
func (m *Menu) Insert(entry MenuEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

// Remove implements MenuSink.
func (m *Menu) Remove(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, entry := range m.entries {
		if entry.ID == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

// Entries returns a snapshot of the menu section.
func (m *Menu) Entries() []MenuEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MenuEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Len returns the number of entries in the section.
func (m *Menu) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
