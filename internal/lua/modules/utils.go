package modules

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// UtilsModule provides utility functions to Lua
type UtilsModule struct {
	now func() time.Time
}

// NewUtilsModule creates a new utils module
func NewUtilsModule() *UtilsModule {
	return &UtilsModule{now: time.Now}
}

// Loader is the module loader for Lua
func (m *UtilsModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "sleep", L.NewFunction(m.sleep))
	L.SetField(mod, "now", L.NewFunction(m.nowMillis))

	L.Push(mod)
	return 1
}

// sleep(ms) blocks the script; cancelling the run context interrupts it.
func (m *UtilsModule) sleep(L *lua.LState) int {
	d := time.Duration(L.CheckInt(1)) * time.Millisecond

	timer := time.NewTimer(d)
	defer timer.Stop()

	ctx := stateContext(L)
	select {
	case <-timer.C:
	case <-ctx.Done():
		L.RaiseError("sleep interrupted: %s", ctx.Err().Error())
	}
	return 0
}

// now() -> Unix milliseconds
func (m *UtilsModule) nowMillis(L *lua.LState) int {
	L.Push(lua.LNumber(m.now().UnixMilli()))
	return 1
}
