package scripting

import (
	"math"

	"github.com/l1jgo/chunkkeep/internal/forced"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

const ticketTypeName = "chunks.ticket"

// scriptTicket is one reference taken by a script. Releasing it twice is a
// no-op so scripts cannot drive the count below what they acquired.
type scriptTicket struct {
	t        *forced.Ticket
	released bool
}

func (st *scriptTicket) release(e *Engine) {
	if st.released {
		return
	}
	st.released = true
	delete(e.held, st)
	st.t.Release()
}

// openChunks installs the chunks module as a global and as require("chunks").
func (e *Engine) openChunks() {
	mt := e.vm.NewTypeMetatable(ticketTypeName)
	e.vm.SetField(mt, "__index", e.vm.SetFuncs(e.vm.NewTable(), map[string]lua.LGFunction{
		"release": e.ticketRelease,
		"forced":  e.ticketForced,
		"loaded":  e.ticketLoaded,
		"x":       e.ticketX,
		"z":       e.ticketZ,
		"world":   e.ticketWorld,
	}))

	funcs := map[string]lua.LGFunction{
		"keep":      e.luaKeep,
		"count":     e.luaCount,
		"is_forced": e.luaIsForced,
		"log":       e.luaLog,
	}
	mod := e.vm.SetFuncs(e.vm.NewTable(), funcs)
	e.vm.SetGlobal("chunks", mod)
	e.vm.PreloadModule("chunks", func(L *lua.LState) int {
		L.Push(mod)
		return 1
	})
}

// chunks.keep(world, cx, cz) -> ticket | nil, err
func (e *Engine) luaKeep(L *lua.LState) int {
	name := L.CheckString(1)
	cx := checkCoord(L, 2)
	cz := checkCoord(L, 3)

	w, ok := e.worlds.World(name)
	if !ok {
		L.Push(lua.LNil)
		L.Push(lua.LString("no such world: " + name))
		return 2
	}
	t, err := e.keeper.Acquire(w, cx, cz)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	st := &scriptTicket{t: t}
	e.held[st] = struct{}{}
	ud := L.NewUserData()
	ud.Value = st
	L.SetMetatable(ud, L.GetTypeMetatable(ticketTypeName))
	L.Push(ud)
	return 1
}

// chunks.count() -> number of chunks kept loaded
func (e *Engine) luaCount(L *lua.LState) int {
	L.Push(lua.LNumber(e.keeper.CountForced()))
	return 1
}

// chunks.is_forced(world, cx, cz) -> bool
func (e *Engine) luaIsForced(L *lua.LState) int {
	name := L.CheckString(1)
	cx := checkCoord(L, 2)
	cz := checkCoord(L, 3)
	w, ok := e.worlds.World(name)
	L.Push(lua.LBool(ok && e.keeper.IsForced(w, cx, cz)))
	return 1
}

// chunks.log(msg)
func (e *Engine) luaLog(L *lua.LState) int {
	e.log.Info("lua", zap.String("msg", L.CheckString(1)))
	return 0
}

// checkCoord raises an argument error unless argument n is a whole number
// that fits a chunk coordinate.
func checkCoord(L *lua.LState, n int) int32 {
	v := float64(L.CheckNumber(n))
	if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
		L.ArgError(n, "chunk coordinate out of range")
		return 0
	}
	return int32(v)
}

func checkTicket(L *lua.LState) *scriptTicket {
	ud := L.CheckUserData(1)
	if st, ok := ud.Value.(*scriptTicket); ok {
		return st
	}
	L.ArgError(1, "ticket expected")
	return nil
}

func (e *Engine) ticketRelease(L *lua.LState) int {
	checkTicket(L).release(e)
	return 0
}

func (e *Engine) ticketForced(L *lua.LState) int {
	st := checkTicket(L)
	L.Push(lua.LBool(!st.released && st.t.IsForced()))
	return 1
}

func (e *Engine) ticketLoaded(L *lua.LState) int {
	_, ok, err := checkTicket(L).t.GetAsync().Result()
	L.Push(lua.LBool(ok && err == nil))
	return 1
}

func (e *Engine) ticketX(L *lua.LState) int {
	L.Push(lua.LNumber(checkTicket(L).t.X()))
	return 1
}

func (e *Engine) ticketZ(L *lua.LState) int {
	L.Push(lua.LNumber(checkTicket(L).t.Z()))
	return 1
}

func (e *Engine) ticketWorld(L *lua.LState) int {
	L.Push(lua.LString(checkTicket(L).t.WorldName()))
	return 1
}
