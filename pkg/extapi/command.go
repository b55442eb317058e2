package extapi

// MaxCommands is the maximum number of commands one module may
// declare. Declarations past the limit are clamped by the host.
const MaxCommands = 32

// MaxCommandLabelLen is the maximum byte length of a command label.
const MaxCommandLabelLen = 64

// Mods is a bitmask of keyboard modifier flags for command shortcuts.
type Mods uint8

// Modifier flags.
const (
	ModShift Mods = 1 << iota
	ModCtrl
	ModAlt
	ModCmd
)

// Has reports whether all flags in mask are set.
func (m Mods) Has(mask Mods) bool {
	return m&mask == mask
}

// Command declares one menu command contributed by a module.
type Command struct {
	// Label is the display name in the extensions menu.
	Label string

	// Callback is invoked when the menu entry is activated.
	Callback func()

	// Key is the shortcut key code (0 = no shortcut). Printable keys
	// use their rune value; function and navigation keys use the
	// host's key codes.
	Key int

	// Mods are the required modifier flags for the shortcut.
	Mods Mods

	// SeparatorAfter inserts a separator after this entry.
	SeparatorAfter bool
}

// CommandTable is the fixed-capacity command declaration array a
// module fills in from GetCommands.
type CommandTable struct {
	// Count is the number of valid entries in Items.
	Count int

	// Items holds the declarations. Entries at index >= Count are
	// ignored.
	Items [MaxCommands]Command
}

// Add appends a command if capacity remains and reports whether it
// was stored. Overflowing declarations are dropped; the host logs the
// clamp when it reads the table.
func (t *CommandTable) Add(cmd Command) bool {
	if t.Count < 0 {
		t.Count = 0
	}
	if t.Count >= MaxCommands {
		return false
	}
	t.Items[t.Count] = cmd
	t.Count++
	return true
}

// Commands returns the valid declarations with labels clamped to
// MaxCommandLabelLen. A negative or oversized Count is clamped; the
// second result is the count as declared, for overflow reporting.
func (t *CommandTable) Commands() ([]Command, int) {
	declared := t.Count
	n := declared
	if n < 0 {
		n = 0
	}
	if n > MaxCommands {
		n = MaxCommands
	}
	out := make([]Command, n)
	copy(out, t.Items[:n])
	for i := range out {
		out[i].Label = TruncateString(out[i].Label, MaxCommandLabelLen)
	}
	return out, declared
}
