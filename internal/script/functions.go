package script

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"tide-controller/internal/command"
	"tide-controller/internal/core"
)

// registerGoFunctions exposes the command routes and helpers to L. Every route is
// available as tide.<name>; it is also a global unless that would hide a Lua
// builtin such as load.
func (e *Engine) registerGoFunctions(ctx context.Context, L *lua.LState, log *slog.Logger) {
	tide := L.NewTable()
	for _, route := range e.routes {
		fn := L.NewFunction(e.routeFunction(ctx, route))
		L.SetField(tide, string(route.Name), fn)
		if L.GetGlobal(string(route.Name)) == lua.LNil {
			L.SetGlobal(string(route.Name), fn)
		}
	}
	L.SetGlobal("tide", tide)

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		log.Info(strings.Join(parts, "\t"))
		return 0
	}))

	L.SetGlobal("sleep", L.NewFunction(func(L *lua.LState) int {
		ms := L.CheckInt(1)
		if cancellableSleep(ctx, time.Duration(ms)*time.Millisecond) {
			L.RaiseError("script cancelled")
		}
		return 0
	}))

	L.SetGlobal("should_stop", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(ctx.Err() != nil))
		return 1
	}))
}

// routeFunction returns a Lua function that dispatches route. It returns true, or
// false and an error message.
func (e *Engine) routeFunction(ctx context.Context, route command.Route) lua.LGFunction {
	field := route.Shape.Field()
	return func(L *lua.LState) int {
		if ctx.Err() != nil {
			L.RaiseError("script cancelled")
			return 0
		}

		var body []byte
		if field != "" {
			b, err := json.Marshal(map[string]string{field: L.CheckString(1)})
			if err != nil {
				L.Push(lua.LFalse)
				L.Push(lua.LString(err.Error()))
				return 2
			}
			body = b
		}

		if _, err := e.dispatcher.Dispatch(ctx, string(route.Name), body, core.Meta{Source: core.SourceScript}); err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}
}

// cancellableSleep reports whether ctx was cancelled during the sleep.
func cancellableSleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return false
	case <-ctx.Done():
		return true
	}
}
