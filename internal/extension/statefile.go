package extension

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// UserState is the per-module user state persisted across runs: which
// modules the user disabled, and the last load error per candidate.
type UserState struct {
	Disabled map[string]bool
	Errors   map[string]string
}

// NewUserState creates an empty user state.
func NewUserState() *UserState {
	return &UserState{
		Disabled: make(map[string]bool),
		Errors:   make(map[string]string),
	}
}

// LoadState reads state.json at path. A missing file is empty state,
// not an error.
func LoadState(path string) (*UserState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewUserState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("state file %s: not valid JSON", path)
	}

	st := NewUserState()
	for _, v := range gjson.GetBytes(data, "disabled").Array() {
		if name := v.String(); name != "" {
			st.Disabled[name] = true
		}
	}
	gjson.GetBytes(data, "errors").ForEach(func(key, value gjson.Result) bool {
		st.Errors[key.String()] = value.String()
		return true
	})
	return st, nil
}

// SaveState writes the state to path, creating the parent directory
// if absent. Keys are written in sorted order so the file is stable
// between runs.
func SaveState(path string, st *UserState) error {
	disabled := make([]string, 0, len(st.Disabled))
	for name, off := range st.Disabled {
		if off {
			disabled = append(disabled, name)
		}
	}
	sort.Strings(disabled)

	doc := []byte(`{}`)
	var err error
	if doc, err = sjson.SetBytes(doc, "disabled", disabled); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	names := make([]string, 0, len(st.Errors))
	for name := range st.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if doc, err = sjson.SetBytes(doc, "errors."+escapePathKey(name), st.Errors[name]); err != nil {
			return fmt.Errorf("encode state: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// escapePathKey escapes path metacharacters in a literal map key.
// Error entries are keyed by module file name, and "broken.so" must
// address one flat key under "errors", not a nested object.
func escapePathKey(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(key[i])
	}
	return b.String()
}
