package modules

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/segcache/internal/cache"
)

// CacheModule provides the cache module to Lua.
// Failed operations raise Lua errors, so scripts can use pcall.
type CacheModule struct {
	conn *cache.Connection
}

// NewCacheModule creates a new cache module bound to conn.
func NewCacheModule(conn *cache.Connection) *CacheModule {
	return &CacheModule{conn: conn}
}

// Loader is the module loader for Lua.
func (m *CacheModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "start", L.NewFunction(m.start))
	L.SetField(mod, "stop", L.NewFunction(m.stop))
	L.SetField(mod, "ready", L.NewFunction(m.ready))
	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "set", L.NewFunction(m.set))
	L.SetField(mod, "drop", L.NewFunction(m.drop))
	L.SetField(mod, "validate", L.NewFunction(m.validate))

	L.Push(mod)
	return 1
}

// checkKey reads (segment, id) starting at the given stack position.
func checkKey(L *lua.LState, pos int) cache.Key {
	return cache.Key{
		Segment: L.CheckString(pos),
		ID:      L.CheckString(pos + 1),
	}
}

// start() -> nil
func (m *CacheModule) start(L *lua.LState) int {
	if err := m.conn.Start(stateContext(L)); err != nil {
		L.RaiseError("cache start: %s", err.Error())
	}
	return 0
}

// stop() -> nil
func (m *CacheModule) stop(L *lua.LState) int {
	if err := m.conn.Stop(); err != nil {
		L.RaiseError("cache stop: %s", err.Error())
	}
	return 0
}

// ready() -> bool
func (m *CacheModule) ready(L *lua.LState) int {
	L.Push(lua.LBool(m.conn.IsReady()))
	return 1
}

// get(segment, id) -> {item, stored, ttl} | nil
func (m *CacheModule) get(L *lua.LState) int {
	key := checkKey(L, 1)

	env, err := m.conn.Get(stateContext(L), key)
	if err != nil {
		L.RaiseError("cache get %s: %s", key, err.Error())
		return 0
	}

	if env == nil {
		L.Push(lua.LNil)
		return 1
	}

	tbl := L.NewTable()
	L.SetField(tbl, "item", GoToLuaValue(L, env.Item))
	L.SetField(tbl, "stored", lua.LNumber(env.Stored))
	L.SetField(tbl, "ttl", lua.LNumber(env.TTL))
	L.Push(tbl)
	return 1
}

// set(segment, id, value, ttl_ms) -> nil
func (m *CacheModule) set(L *lua.LState) int {
	key := checkKey(L, 1)
	value := LuaToGo(L.CheckAny(3))
	ttl := time.Duration(L.CheckNumber(4)) * time.Millisecond

	if err := m.conn.Set(stateContext(L), key, value, ttl); err != nil {
		L.RaiseError("cache set %s: %s", key, err.Error())
	}
	return 0
}

// drop(segment, id) -> nil
func (m *CacheModule) drop(L *lua.LState) int {
	key := checkKey(L, 1)

	if err := m.conn.Drop(stateContext(L), key); err != nil {
		L.RaiseError("cache drop %s: %s", key, err.Error())
	}
	return 0
}

// validate(name) -> nil | message
func (m *CacheModule) validate(L *lua.LState) int {
	name := L.CheckString(1)

	if err := cache.ValidateSegmentName(name); err != nil {
		L.Push(lua.LString(err.Error()))
		return 1
	}
	L.Push(lua.LNil)
	return 1
}
