//go:build !no_automation

package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"zigbee-go-router/internal/events"
)

// luaEventHandler is a registered Lua callback. An empty eventType or "*"
// matches every event; filter keys must equal the event's data fields.
type luaEventHandler struct {
	eventType string
	filter    map[string]string
	fn        *lua.LFunction
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	id       string
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex // protects handlers
}

// Engine runs one sandboxed Lua VM per script and dispatches bus events to
// the handlers they register.
type Engine struct {
	manager *Manager
	bus     *events.Bus
	status  StatusFunc
	logger  *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM // script ID -> running VM
	unsub func()
}

// NewEngine creates a new automation engine.
func NewEngine(mgr *Manager, bus *events.Bus, status StatusFunc, logger *slog.Logger) *Engine {
	return &Engine{
		manager: mgr,
		bus:     bus,
		status:  status,
		logger:  logger.With("component", "automation"),
		vms:     make(map[string]*scriptVM),
	}
}

// Start loads all enabled scripts and subscribes to the bus. A script that
// fails to load is logged and skipped.
func (e *Engine) Start() {
	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}

	for _, s := range scripts {
		if !s.Meta.Enabled {
			e.logger.Debug("script disabled", "id", s.ID)
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.unsub = e.bus.OnAll(e.dispatchEvent)

	e.logger.Info("automation engine started", "scripts", e.Running())
}

// Stop cancels all VMs and unsubscribes from the bus.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}

	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for id, vm := range e.vms {
		vm.cancel()
		vms = append(vms, vm)
		delete(e.vms, id)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		<-vm.done
	}
	e.logger.Info("automation engine stopped")
}

// Running returns the number of loaded scripts.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.vms)
}

// newSandbox returns a Lua state without filesystem, process or module
// loading access.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
	L.SetGlobal("package", lua.LNil)
	return L
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())

	L := newSandbox()
	L.SetContext(ctx)
	vm := &scriptVM{
		id:       s.ID,
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	registerNodeModule(L, vm, e)

	// Top-level code registers handlers.
	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer close(vm.done)
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent routes a bus event to all matching Lua handlers. It never
// blocks the publisher; a VM with a full queue drops the event.
func (e *Engine) dispatchEvent(event events.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, v := range e.vms {
		vms = append(vms, v)
	}
	e.mu.Unlock()

	data := plainData(event.Data)
	for _, vm := range vms {
		vm.mu.Lock()
		handlers := make([]luaEventHandler, len(vm.handlers))
		copy(handlers, vm.handlers)
		vm.mu.Unlock()

		for _, h := range handlers {
			if !matchesHandler(h, event.Type, data) {
				continue
			}
			fn := h.fn
			if !vm.submit(func(L *lua.LState) { e.callHandler(L, vm.id, fn, event, data) }) {
				e.logger.Warn("script command queue full, dropping event", "id", vm.id, "event", event.Type)
			}
		}
	}
}

// submit queues fn on the VM goroutine. It reports false if the VM is
// stopped or its queue is full.
func (vm *scriptVM) submit(fn func(*lua.LState)) bool {
	select {
	case <-vm.ctx.Done():
		return false
	default:
	}
	select {
	case vm.commands <- fn:
		return true
	default:
		return false
	}
}

func matchesHandler(h luaEventHandler, eventType string, data map[string]interface{}) bool {
	if h.eventType != "" && h.eventType != "*" && h.eventType != eventType {
		return false
	}
	for k, want := range h.filter {
		v, ok := data[k]
		if !ok || fmt.Sprint(v) != want {
			return false
		}
	}
	return true
}

func (e *Engine) callHandler(L *lua.LState, id string, fn *lua.LFunction, event events.Event, data map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "id", id, "err", r)
		}
	}()

	eventTable := L.NewTable()
	for k, v := range data {
		eventTable.RawSetString(k, goToLua(L, v))
	}
	eventTable.RawSetString("type", lua.LString(event.Type))
	eventTable.RawSetString("time", lua.LString(event.Time.Format("2006-01-02T15:04:05.000Z07:00")))

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, eventTable); err != nil {
		e.logger.Error("lua handler error", "id", id, "event", event.Type, "err", err)
	}
}

// plainData converts event data to a map of JSON-like values.
func plainData(v interface{}) map[string]interface{} {
	switch d := v.(type) {
	case nil:
		return map[string]interface{}{}
	case map[string]interface{}:
		return d
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]interface{}{"value": v}
	}
	return m
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case map[string]interface{}:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
