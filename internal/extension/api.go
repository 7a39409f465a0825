package extension

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/hearthbot/hearth/internal/command"
	"github.com/hearthbot/hearth/internal/settings"
)

// installAPI builds the host API table an entry point's setup function
// receives. Everything registered through it is tracked on the instance so
// a failed load or an unload can take it all back out.
func (ld *Loader) installAPI(inst *instance) *lua.LTable {
	L := inst.state.Raw()

	api := L.NewTable()
	L.SetField(api, "command", L.NewFunction(inst.apiCommand))
	L.SetField(api, "on", L.NewFunction(inst.apiOn))
	L.SetField(api, "storage_path", L.NewFunction(inst.apiStoragePath))

	set := L.NewTable()
	L.SetField(set, "get", L.NewFunction(inst.apiSettingsGet))
	L.SetField(set, "set", L.NewFunction(inst.apiSettingsSet))
	L.SetField(set, "observe", L.NewFunction(inst.apiSettingsObserve))
	L.SetField(api, "settings", set)

	mlog := inst.module.Logger()
	log := L.NewTable()
	L.SetField(log, "debug", inst.logFn(L, func(msg string) { mlog.Debug().Msg(msg) }))
	L.SetField(log, "info", inst.logFn(L, func(msg string) { mlog.Info().Msg(msg) }))
	L.SetField(log, "warn", inst.logFn(L, func(msg string) { mlog.Warn().Msg(msg) }))
	L.SetField(log, "error", inst.logFn(L, func(msg string) { mlog.Error().Msg(msg) }))
	L.SetField(api, "log", log)

	return api
}

// moduleTable describes the module to its own setup function.
func (ld *Loader) moduleTable(inst *instance) *lua.LTable {
	L := inst.state.Raw()
	manifest := inst.module.Manifest()

	tbl := L.NewTable()
	L.SetField(tbl, "id", lua.LString(manifest.ID))
	L.SetField(tbl, "name", lua.LString(manifest.Name))
	L.SetField(tbl, "description", lua.LString(manifest.Description))
	L.SetField(tbl, "path", lua.LString(inst.module.Path()))
	if manifest.Version != nil {
		L.SetField(tbl, "version", lua.LString(manifest.Version.String()))
	}
	return tbl
}

// apiCommand implements hearth.command(name, [description,] handler).
func (inst *instance) apiCommand(L *lua.LState) int {
	name := L.CheckString(1)
	description := ""
	var fn *lua.LFunction
	if L.GetTop() >= 3 {
		description = L.CheckString(2)
		fn = L.CheckFunction(3)
	} else {
		fn = L.CheckFunction(2)
	}

	err := inst.loader.registrar.Register(command.Command{
		Name:        name,
		Description: description,
		Owner:       inst.module.ID(),
		Handler:     inst.commandHandler(fn),
	})
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	inst.commands = append(inst.commands, name)
	return 0
}

// commandHandler adapts a Lua function to the registrar's handler type.
// A string returned by the Lua handler is sent as the reply. The whole
// exchange, invocation table included, runs under the state lock.
func (inst *instance) commandHandler(fn *lua.LFunction) command.Handler {
	return func(_ context.Context, inv command.Invocation) error {
		var reply string
		var hasReply bool
		err := inst.state.Do(func(L *lua.LState) error {
			tbl := L.NewTable()
			args := L.NewTable()
			for i, a := range inv.Args {
				args.RawSetInt(i+1, lua.LString(a))
			}
			L.SetField(tbl, "args", args)
			L.SetField(tbl, "channel", lua.LString(inv.Channel))
			L.SetField(tbl, "sender", lua.LString(inv.Sender))

			if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, tbl); err != nil {
				return err
			}
			ret := L.Get(-1)
			L.Pop(1)
			if s, ok := ret.(lua.LString); ok {
				reply, hasReply = string(s), true
			}
			return nil
		})
		inst.flushChanges()
		if err != nil {
			return err
		}
		if hasReply && inv.Reply != nil {
			return inv.Reply(reply)
		}
		return nil
	}
}

// apiOn implements hearth.on(event, handler).
func (inst *instance) apiOn(L *lua.LState) int {
	event := L.CheckString(1)
	fn := L.CheckFunction(2)
	inst.loader.addHandler(event, inst, fn)
	return 0
}

// apiStoragePath implements hearth.storage_path().
func (inst *instance) apiStoragePath(L *lua.LState) int {
	path, err := inst.module.StoragePath()
	if err != nil {
		L.RaiseError("storage path: %s", err.Error())
		return 0
	}
	L.Push(lua.LString(path))
	return 1
}

// apiSettingsGet implements hearth.settings.get(path) against the module's
// own subtree. Dotted paths reach nested groups.
func (inst *instance) apiSettingsGet(L *lua.LState) int {
	path := L.CheckString(1)
	s, err := inst.resolve(path)
	if err != nil {
		L.RaiseError("setting %q: %s", path, err.Error())
		return 0
	}
	L.Push(valueToLua(L, s.Value()))
	return 1
}

// apiSettingsSet implements hearth.settings.set(path, value). Writes are
// strict: a module cannot invent settings its schema never declared.
//
// The write itself lands immediately, but observer delivery is held back
// and queued on the instance. The queue drains after the enclosing Lua
// call returns and the state lock is released, so observers can run Lua
// without re-entering a held lock.
func (inst *instance) apiSettingsSet(L *lua.LState) int {
	path := L.CheckString(1)
	v, err := luaToValue(L.CheckAny(2))
	if err != nil {
		L.RaiseError("setting %q: %s", path, err.Error())
		return 0
	}
	group, err := inst.module.Settings()
	if err != nil {
		L.RaiseError("setting %q: %s", path, err.Error())
		return 0
	}
	s, err := group.Resolve(path)
	if err != nil {
		L.RaiseError("setting %q: %s", path, err.Error())
		return 0
	}
	changes, err := group.CollectChanges(func() error { return s.Set(v) })
	if err != nil {
		L.RaiseError("setting %q: %s", path, err.Error())
		return 0
	}
	inst.queueChanges(changes)
	return 0
}

// apiSettingsObserve implements hearth.settings.observe(path, handler).
// The handler receives (old, new). Delivery goes through the state lock,
// so observers fired from a host goroutine never race a command or event
// handler running in the same state.
func (inst *instance) apiSettingsObserve(L *lua.LState) int {
	path := L.CheckString(1)
	fn := L.CheckFunction(2)

	s, err := inst.resolve(path)
	if err != nil {
		L.RaiseError("setting %q: %s", path, err.Error())
		return 0
	}
	sub := s.Observe(func(oldValue, newValue settings.Value) {
		err := inst.state.Do(func(L *lua.LState) error {
			return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true},
				valueToLua(L, oldValue), valueToLua(L, newValue))
		})
		if err != nil {
			mlog := inst.module.Logger()
			mlog.Error().Err(err).Str("setting", path).Msg("settings observer failed")
		}
		// The handler may have written settings of its own.
		inst.flushChanges()
	})
	inst.subs = append(inst.subs, sub)
	return 0
}

// resolve finds a setting by dotted path inside the module's subtree.
func (inst *instance) resolve(path string) (*settings.Setting, error) {
	group, err := inst.module.Settings()
	if err != nil {
		return nil, err
	}
	return group.Resolve(path)
}

func (inst *instance) logFn(L *lua.LState, emit func(string)) *lua.LFunction {
	return L.NewFunction(func(L *lua.LState) int {
		emit(L.CheckString(1))
		return 0
	})
}
