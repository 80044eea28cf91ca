//go:build !no_automation

package automation

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

const maxHandlersPerScript = 100

// registerNodeModule installs the `node` global table:
//
//	node.on(type, [filter], fn)  register an event handler
//	node.log(msg)                write to the process log
//	node.status()                current commissioning status as a table
//	node.after(seconds, fn)      run fn once after a delay
func registerNodeModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return nodeOn(L, vm)
	}))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return nodeLog(L, vm, e)
	}))
	mod.RawSetString("status", L.NewFunction(func(L *lua.LState) int {
		return nodeStatus(L, e)
	}))
	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return nodeAfter(L, vm, e)
	}))

	L.SetGlobal("node", mod)
}

// node.on(type, [filter], fn)
func nodeOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}

	if L.GetTop() >= 3 {
		filter := L.CheckTable(2)
		h.filter = make(map[string]string)
		filter.ForEach(func(k, v lua.LValue) {
			h.filter[k.String()] = v.String()
		})
		h.fn = L.CheckFunction(3)
	} else {
		h.fn = L.CheckFunction(2)
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()
	return 0
}

// node.log(msg)
func nodeLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	e.logger.Info("script log", "id", vm.id, "msg", msg)
	return 0
}

// node.status()
func nodeStatus(L *lua.LState, e *Engine) int {
	if e.status == nil {
		L.Push(L.NewTable())
		return 1
	}
	L.Push(goToLua(L, plainData(e.status())))
	return 1
}

// node.after(seconds, fn)
func nodeAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		ok := vm.submit(func(L *lua.LState) {
			if err := L.CallByParam(lua.P{
				Fn:      fn,
				NRet:    0,
				Protect: true,
			}); err != nil {
				e.logger.Error("after callback error", "id", vm.id, "err", err)
			}
		})
		if !ok {
			e.logger.Warn("after: command queue full or script stopped", "id", vm.id)
		}
	}()

	return 0
}
