package runtime

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/alal76/inkpad/pkg/extapi"
)

// LuaBackend loads single-file Lua script modules. A script module
// defines the entry points as global functions (extapi.LuaName*
// constants); the backend wraps them in typed closures so the rest of
// the subsystem cannot tell script and native modules apart.
//
// Unlike native modules, a script module has true unload semantics:
// Close tears down the interpreter state.
type LuaBackend struct{}

// NewLuaBackend creates the Lua script backend.
func NewLuaBackend() *LuaBackend {
	return &LuaBackend{}
}

// Name implements Backend.
func (b *LuaBackend) Name() string { return "lua" }

// Extensions implements Backend.
func (b *LuaBackend) Extensions() []string { return []string{".lua"} }

// Open implements Backend.
func (b *LuaBackend) Open(path string) (Module, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}

	m := &luaModule{path: path, state: L}
	exports, err := m.resolve()
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.exports = exports

	return m, nil
}

// openSafeLibraries opens base, table, string and math. io, os, debug
// and package stay closed; module code has no business in them.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// luaModule wraps one Lua state. The state is not goroutine-safe; the
// mutex serializes Go-side access.
type luaModule struct {
	mu      sync.Mutex
	path    string
	state   *lua.LState
	exports *extapi.Exports
	closed  bool
}

func (m *luaModule) Path() string             { return m.path }
func (m *luaModule) Exports() *extapi.Exports { return m.exports }

func (m *luaModule) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.state.Close()
	m.exports = &extapi.Exports{}
	return nil
}

// resolve finds the module's global entry-point functions and wraps
// them into extapi closures.
func (m *luaModule) resolve() (*extapi.Exports, error) {
	getFn := func(name string) (*lua.LFunction, bool) {
		v := m.state.GetGlobal(name)
		fn, ok := v.(*lua.LFunction)
		return fn, ok
	}

	for _, name := range []string{
		extapi.LuaNameGetInfo,
		extapi.LuaNameInit,
		extapi.LuaNameCleanup,
		extapi.LuaNameGetCommands,
		extapi.LuaNameOnNotify,
	} {
		if _, ok := getFn(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrSymbol, name)
		}
	}

	exports := &extapi.Exports{
		GetInfo: func(meta *extapi.Metadata) {
			ret, err := m.callWith(extapi.LuaNameGetInfo, 1)
			if err != nil {
				return
			}
			if tbl, ok := ret.(*lua.LTable); ok {
				metadataFromTable(tbl, meta)
			}
		},
		Init: func(meta extapi.Metadata) bool {
			m.mu.Lock()
			tbl := metadataToTable(m.state, meta)
			m.mu.Unlock()
			ret, err := m.callWith(extapi.LuaNameInit, 1, tbl)
			if err != nil {
				return false
			}
			return lua.LVAsBool(ret)
		},
		Cleanup: func() {
			_, _ = m.callWith(extapi.LuaNameCleanup, 0)
		},
		GetCommands: func(table *extapi.CommandTable) {
			ret, err := m.callWith(extapi.LuaNameGetCommands, 1)
			if err != nil {
				return
			}
			if tbl, ok := ret.(*lua.LTable); ok {
				m.commandsFromTable(tbl, table)
			}
		},
		OnNotify: func(env *extapi.Envelope) {
			m.mu.Lock()
			tbl := envelopeToTable(m.state, env)
			m.mu.Unlock()
			if _, err := m.callWith(extapi.LuaNameOnNotify, 0, tbl); err != nil {
				return
			}
			m.mu.Lock()
			cancelled := lua.LVAsBool(tbl.RawGetString("cancelled"))
			m.mu.Unlock()
			if cancelled {
				env.Cancel()
			}
		},
	}

	if _, ok := getFn(extapi.LuaNameSetEditor); ok {
		exports.SetEditor = func(h extapi.EditorHandle) {
			m.mu.Lock()
			tbl := editorToTable(m.state, h)
			m.mu.Unlock()
			_, _ = m.callWith(extapi.LuaNameSetEditor, 0, tbl)
		}
	}
	if _, ok := getFn(extapi.LuaNameShowSettings); ok {
		exports.ShowSettings = func() {
			_, _ = m.callWith(extapi.LuaNameShowSettings, 0)
		}
	}

	return exports, nil
}

// callWith invokes a global function, returning the first result when
// nret is 1. A Lua runtime error is raised as a Go panic so the
// dispatch boundary above treats it like any other callback fault.
func (m *luaModule) callWith(name string, nret int, args ...lua.LValue) (lua.LValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return lua.LNil, fmt.Errorf("module %s is closed", m.path)
	}

	fn := m.state.GetGlobal(name)
	if _, ok := fn.(*lua.LFunction); !ok {
		return lua.LNil, fmt.Errorf("%w: %s", ErrSymbol, name)
	}

	if err := m.state.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		// Propagate as a panic so the dispatch boundary above treats
		// a script error exactly like a native callback fault.
		panic(fmt.Sprintf("lua module %s: %s: %v", m.path, name, err))
	}

	if nret == 0 {
		return lua.LNil, nil
	}
	ret := m.state.Get(-1)
	m.state.Pop(1)
	return ret, nil
}

// metadataFromTable fills meta from a get_info result table.
func metadataFromTable(tbl *lua.LTable, meta *extapi.Metadata) {
	meta.APIVersion = int(lua.LVAsNumber(tbl.RawGetString("api_version")))
	meta.Name = lua.LVAsString(tbl.RawGetString("name"))
	meta.Version = lua.LVAsString(tbl.RawGetString("version"))
	meta.Author = lua.LVAsString(tbl.RawGetString("author"))
	meta.Description = lua.LVAsString(tbl.RawGetString("description"))
	meta.Homepage = lua.LVAsString(tbl.RawGetString("homepage"))
}

// metadataToTable converts accepted metadata for the init call.
func metadataToTable(L *lua.LState, meta extapi.Metadata) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "api_version", lua.LNumber(meta.APIVersion))
	L.SetField(tbl, "name", lua.LString(meta.Name))
	L.SetField(tbl, "version", lua.LString(meta.Version))
	L.SetField(tbl, "author", lua.LString(meta.Author))
	L.SetField(tbl, "description", lua.LString(meta.Description))
	L.SetField(tbl, "homepage", lua.LString(meta.Homepage))
	return tbl
}

// commandsFromTable converts a get_commands result array. Entries
// mirror the native declaration: label, callback, key, shift, ctrl,
// alt, cmd, separator.
func (m *luaModule) commandsFromTable(tbl *lua.LTable, out *extapi.CommandTable) {
	n := tbl.Len()
	out.Count = n
	for i := 1; i <= n; i++ {
		entry, ok := tbl.RawGetInt(i).(*lua.LTable)
		if !ok {
			continue
		}
		if i > extapi.MaxCommands {
			// Count stays as declared so the host can log the clamp.
			continue
		}

		cmd := extapi.Command{
			Label:          lua.LVAsString(entry.RawGetString("label")),
			Key:            int(lua.LVAsNumber(entry.RawGetString("key"))),
			SeparatorAfter: lua.LVAsBool(entry.RawGetString("separator")),
		}
		if lua.LVAsBool(entry.RawGetString("shift")) {
			cmd.Mods |= extapi.ModShift
		}
		if lua.LVAsBool(entry.RawGetString("ctrl")) {
			cmd.Mods |= extapi.ModCtrl
		}
		if lua.LVAsBool(entry.RawGetString("alt")) {
			cmd.Mods |= extapi.ModAlt
		}
		if lua.LVAsBool(entry.RawGetString("cmd")) {
			cmd.Mods |= extapi.ModCmd
		}

		if fn, ok := entry.RawGetString("callback").(*lua.LFunction); ok {
			cmd.Callback = func() {
				_, _ = m.callFunction(fn)
			}
		}

		out.Items[i-1] = cmd
	}
}

// callFunction invokes a stored Lua function value.
func (m *luaModule) callFunction(fn *lua.LFunction) (lua.LValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return lua.LNil, fmt.Errorf("module %s is closed", m.path)
	}
	if err := m.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		panic(fmt.Sprintf("lua module %s: command callback: %v", m.path, err))
	}
	return lua.LNil, nil
}

// envelopeToTable converts a notification envelope for on_notify.
func envelopeToTable(L *lua.LState, env *extapi.Envelope) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "kind", lua.LNumber(env.Kind))
	L.SetField(tbl, "kind_name", lua.LString(env.Kind.String()))
	L.SetField(tbl, "cancellable", lua.LBool(env.Cancellable))
	L.SetField(tbl, "cancelled", lua.LBool(false))
	L.SetField(tbl, "size", lua.LNumber(env.Size))

	switch data := env.Data.(type) {
	case extapi.FileEvent:
		d := L.NewTable()
		L.SetField(d, "path", lua.LString(data.Path))
		L.SetField(tbl, "data", d)
	case extapi.BufferEvent:
		d := L.NewTable()
		L.SetField(d, "buffer_id", lua.LNumber(data.BufferID))
		L.SetField(tbl, "data", d)
	case extapi.LanguageEvent:
		d := L.NewTable()
		L.SetField(d, "buffer_id", lua.LNumber(data.BufferID))
		L.SetField(d, "language", lua.LString(data.Language))
		L.SetField(tbl, "data", d)
	case extapi.EditorMessage:
		d := L.NewTable()
		L.SetField(d, "code", lua.LNumber(data.Code))
		L.SetField(d, "wparam", lua.LNumber(data.WParam))
		L.SetField(d, "lparam", lua.LNumber(data.LParam))
		L.SetField(tbl, "data", d)
	case string:
		L.SetField(tbl, "data", lua.LString(data))
	case nil:
		// No payload.
	}
	return tbl
}

// editorToTable exposes the editor handle as a table with a send
// function calling straight into the engine.
func editorToTable(L *lua.LState, h extapi.EditorHandle) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "valid", lua.LBool(h.Valid()))
	L.SetField(tbl, "send", L.NewFunction(func(ls *lua.LState) int {
		code := uint32(ls.CheckNumber(1))
		wparam := uintptr(ls.CheckNumber(2))
		lparam := uintptr(ls.CheckNumber(3))
		ls.Push(lua.LNumber(h.Send(code, wparam, lparam)))
		return 1
	}))
	return tbl
}
