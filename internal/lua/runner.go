package lua

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// RunTool runs the Lua script at scriptPath, calling the global run(args) function.
// args is passed as a table. The script must return a string, a number, a boolean
// or a table; tables come back as map[string]any, or []any when they are arrays.
// Scripts can use os.getenv for environment variables (e.g. an API token).
// Cancelling ctx aborts the script.
func RunTool(ctx context.Context, scriptPath string, args map[string]any) (any, error) {
	lState, err := newState(ctx)
	if err != nil {
		return nil, err
	}
	defer lState.Close()

	absPath, err := filepath.Abs(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("script path: %w", err)
	}
	if err := lState.DoFile(absPath); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}

	fn := lState.GetGlobal("run")
	if fn.Type() == lua.LTNil {
		return nil, fmt.Errorf("script must define global function run(args)")
	}
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("run must be a function, got %s", fn.Type().String())
	}

	lState.Push(fn)
	lState.Push(toLua(lState, args))
	if err := lState.PCall(1, 1, nil); err != nil {
		return nil, fmt.Errorf("run(): %w", err)
	}

	ret := lState.Get(-1)
	lState.Pop(1)

	switch ret.Type() {
	case lua.LTString, lua.LTNumber, lua.LTBool, lua.LTTable:
		return fromLua(ret, map[*lua.LTable]bool{})
	default:
		return nil, fmt.Errorf("run() must return a string, number, boolean or table, got %s", ret.Type().String())
	}
}

// newState opens only the safe standard libraries. The os module is
// replaced by osModuleLoader so scripts cannot execute commands or touch files.
func newState(ctx context.Context) (*lua.LState, error) {
	lState := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := lState.CallByParam(lua.P{Fn: lState.NewFunction(lib.open), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			lState.Close()
			return nil, fmt.Errorf("open %s: %w", lib.name, err)
		}
	}
	lState.PreloadModule("os", osModuleLoader)
	if err := lState.DoString(`os = require("os")`); err != nil {
		lState.Close()
		return nil, fmt.Errorf("load os module: %w", err)
	}
	lState.SetContext(ctx)
	return lState, nil
}

func toLua(ls *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(t)
	case bool:
		return lua.LBool(t)
	case float64:
		return lua.LNumber(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case []any:
		tbl := ls.NewTable()
		for _, item := range t {
			tbl.Append(toLua(ls, item))
		}
		return tbl
	case []string:
		tbl := ls.NewTable()
		for _, item := range t {
			tbl.Append(lua.LString(item))
		}
		return tbl
	case map[string]any:
		tbl := ls.NewTable()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tbl.RawSetString(k, toLua(ls, t[k]))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(t))
	}
}

// fromLua converts a script result. open holds the tables on the current path;
// meeting one again means the table contains itself.
func fromLua(v lua.LValue, open map[*lua.LTable]bool) (any, error) {
	switch t := v.(type) {
	case lua.LString:
		return string(t), nil
	case lua.LNumber:
		return float64(t), nil
	case lua.LBool:
		return bool(t), nil
	case *lua.LTable:
		if open[t] {
			return nil, fmt.Errorf("run() returned a table that references itself")
		}
		open[t] = true
		defer delete(open, t)

		if n := t.MaxN(); n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				item, err := fromLua(t.RawGetInt(i), open)
				if err != nil {
					return nil, err
				}
				arr = append(arr, item)
			}
			return arr, nil
		}
		m := make(map[string]any)
		var err error
		t.ForEach(func(k, val lua.LValue) {
			if err != nil {
				return
			}
			m[k.String()], err = fromLua(val, open)
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, nil
	}
}

// osModuleLoader provides a minimal os module: getenv and time (for math.randomseed).
func osModuleLoader(lState *lua.LState) int {
	mod := lState.NewTable()
	lState.SetField(mod, "getenv", lState.NewFunction(func(ls *lua.LState) int {
		key := ls.CheckString(1)
		val := os.Getenv(key)
		ls.Push(lua.LString(val))
		return 1
	}))
	lState.SetField(mod, "time", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	lState.Push(mod)
	return 1
}
