package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	coresys "github.com/l1jgo/chunkkeep/internal/core/system"
	"github.com/l1jgo/chunkkeep/internal/forced"
	"github.com/l1jgo/chunkkeep/internal/world"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Worlds resolves world names for scripts. *world.Server satisfies it.
type Worlds interface {
	World(name string) (*world.World, bool)
}

// Engine wraps a single gopher-lua VM running admin scripts.
// Single-goroutine access only (main loop).
type Engine struct {
	vm     *lua.LState
	keeper *forced.Manager
	worlds Worlds
	log    *zap.Logger

	held map[*scriptTicket]struct{} // tickets scripts have not released yet
	tick uint64
}

// NewEngine creates a Lua engine with the chunks module and loads every
// script in scriptsDir. A missing directory is not an error.
func NewEngine(scriptsDir string, keeper *forced.Manager, worlds Worlds, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState()
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{
		vm:     vm,
		keeper: keeper,
		worlds: worlds,
		log:    log,
		held:   make(map[*scriptTicket]struct{}),
	}
	e.openChunks()

	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// DoString runs a Lua chunk, for the check command and tests.
func (e *Engine) DoString(src string) error {
	return e.vm.DoString(src)
}

// callHook calls a global Lua function if a script defined it.
func (e *Engine) callHook(name string, args ...lua.LValue) error {
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		return nil
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, args...); err != nil {
		return fmt.Errorf("lua %s: %w", name, err)
	}
	return nil
}

// OnEnable calls on_enable().
func (e *Engine) OnEnable() {
	if err := e.callHook("on_enable"); err != nil {
		e.log.Error("lua hook failed", zap.Error(err))
	}
}

// OnDisable calls on_disable() and then releases every ticket the scripts
// still hold.
func (e *Engine) OnDisable() {
	if err := e.callHook("on_disable"); err != nil {
		e.log.Error("lua hook failed", zap.Error(err))
	}
	e.releaseAll()
}

// Phase implements system.System.
func (e *Engine) Phase() coresys.Phase { return coresys.PhaseScript }

// Update calls on_tick(tick) once per loop tick.
func (e *Engine) Update(_ time.Duration) {
	e.tick++
	if err := e.callHook("on_tick", lua.LNumber(e.tick)); err != nil {
		e.log.Error("lua hook failed", zap.Uint64("tick", e.tick), zap.Error(err))
	}
}

// Held returns the number of tickets scripts currently hold.
func (e *Engine) Held() int {
	return len(e.held)
}

func (e *Engine) releaseAll() {
	for st := range e.held {
		st.release(e)
	}
}

func (e *Engine) Close() {
	e.releaseAll()
	e.vm.Close()
}
