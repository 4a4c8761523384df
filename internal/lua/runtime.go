package lua

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/segcache/internal/cache"
	"github.com/dokzlo13/segcache/internal/lua/modules"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = fmt.Errorf("lua runtime closed")

// Runtime drives a cache connection from Lua scripts.
// An LState is not goroutine-safe, so every call holds mu.
type Runtime struct {
	L    *lua.LState
	conn *cache.Connection

	mu     sync.Mutex
	closed bool
}

// NewRuntime creates a Lua runtime with the cache, log and utils modules preloaded.
func NewRuntime(conn *cache.Connection) *Runtime {
	r := &Runtime{
		L:    lua.NewState(),
		conn: conn,
	}
	r.registerModules("")
	return r
}

// registerModules registers all Lua modules
func (r *Runtime) registerModules(script string) {
	logModule := modules.NewLogModule(script)
	r.L.PreloadModule("log", logModule.Loader)

	cacheModule := modules.NewCacheModule(r.conn)
	r.L.PreloadModule("cache", cacheModule.Loader)

	utilsModule := modules.NewUtilsModule()
	r.L.PreloadModule("utils", utilsModule.Loader)
}

// LoadScript executes the Lua script at path.
func (r *Runtime) LoadScript(ctx context.Context, path string) error {
	log.Info().Str("path", path).Msg("Loading Lua script")

	err := r.do(ctx, func(L *lua.LState) error {
		// Tag script log entries with the path
		r.registerModules(path)
		return L.DoFile(path)
	})
	if err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}

	log.Info().Msg("Lua script finished")
	return nil
}

// DoString executes a chunk of Lua source.
func (r *Runtime) DoString(ctx context.Context, src string) error {
	return r.do(ctx, func(L *lua.LState) error {
		return L.DoString(src)
	})
}

// do runs fn on the VM with ctx attached, so modules can read it via L.Context().
func (r *Runtime) do(ctx context.Context, fn func(L *lua.LState) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRuntimeClosed
	}

	r.L.SetContext(ctx)
	defer r.L.RemoveContext()

	return fn(r.L)
}

// Close closes the Lua state. The cache connection is left to its owner.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.L.Close()
}
