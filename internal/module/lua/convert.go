// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"fmt"
	"math"
	"slices"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/devicekit/pkg/device"
)

// toLua converts a Go value into a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case time.Time:
		return lua.LString(val.UTC().Format(time.RFC3339Nano))
	case device.Params:
		return mapToLua(L, val)
	case device.Result:
		return mapToLua(L, val)
	case map[string]any:
		return mapToLua(L, val)
	case []string:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(lua.LString(item))
		}
		return t
	case []any:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(toLua(L, item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

func mapToLua(L *lua.LState, m map[string]any) *lua.LTable {
	t := L.CreateTable(0, len(m))
	for k, v := range m {
		t.RawSetString(k, toLua(L, v))
	}
	return t
}

// fromLua converts a Lua value into plain Go values. Sequences and empty
// tables become []any, other tables map[string]any, and integral numbers
// int64.
func fromLua(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case *lua.LTable:
		return tableFromLua(val)
	default:
		return val.String()
	}
}

func tableFromLua(t *lua.LTable) any {
	if countKeys(t) == 0 {
		return []any{}
	}
	if n := t.MaxN(); n > 0 && n == t.Len() && countKeys(t) == n {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, fromLua(t.RawGetInt(i)))
		}
		return out
	}
	out := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		out[k.String()] = fromLua(v)
	})
	return out
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

// functionNames lists the function-valued string keys of t.
func functionNames(t *lua.LTable) []string {
	var names []string
	t.ForEach(func(k, v lua.LValue) {
		if name, ok := k.(lua.LString); ok && v.Type() == lua.LTFunction {
			names = append(names, string(name))
		}
	})
	slices.Sort(names)
	return names
}
