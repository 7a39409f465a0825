package extension

import (
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/hearthbot/hearth/internal/settings"
)

// valueToLua converts a settings value to its Lua representation.
func valueToLua(L *lua.LState, v settings.Value) lua.LValue {
	switch v.Kind() {
	case settings.KindBool:
		b, _ := v.Bool()
		return lua.LBool(b)
	case settings.KindInt:
		i, _ := v.Int()
		return lua.LNumber(i)
	case settings.KindFloat:
		f, _ := v.Float()
		return lua.LNumber(f)
	case settings.KindString:
		s, _ := v.Str()
		return lua.LString(s)
	case settings.KindList:
		elems, _ := v.Slice()
		tbl := L.NewTable()
		for i, e := range elems {
			tbl.RawSetInt(i+1, valueToLua(L, e))
		}
		return tbl
	default:
		return lua.LNil
	}
}

// luaToValue converts a Lua value to a settings value. Whole numbers come
// back as ints so writes against int-typed settings keep their kind.
func luaToValue(lv lua.LValue) (settings.Value, error) {
	switch v := lv.(type) {
	case lua.LBool:
		return settings.Bool(bool(v)), nil
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return settings.Int(int64(f)), nil
		}
		return settings.Float(f), nil
	case lua.LString:
		return settings.String(string(v)), nil
	case *lua.LTable:
		var elems []settings.Value
		var convErr error
		v.ForEach(func(_, item lua.LValue) {
			if convErr != nil {
				return
			}
			e, err := luaToValue(item)
			if err != nil {
				convErr = err
				return
			}
			elems = append(elems, e)
		})
		if convErr != nil {
			return settings.Value{}, convErr
		}
		return settings.List(elems...), nil
	default:
		return settings.Value{}, fmt.Errorf("%w: %s", ErrBadValue, lv.Type())
	}
}

// anyToLua converts a Go value to its Lua representation. Used for event
// payloads handed to Lua handlers.
func anyToLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case []any:
		tbl := L.NewTable()
		for i, e := range x {
			tbl.RawSetInt(i+1, anyToLua(L, e))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for i, e := range x {
			tbl.RawSetInt(i+1, lua.LString(e))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, e := range x {
			tbl.RawSetString(k, anyToLua(L, e))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(x))
	}
}
