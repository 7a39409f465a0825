// Package extension executes module entry points in per-module sandboxed
// Lua states and exposes the host API they program against.
package extension

import (
	"context"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultExecTimeout bounds a single Lua execution. A module stuck in an
// infinite loop aborts with a context error instead of hanging the host.
const DefaultExecTimeout = 5 * time.Second

// State wraps a gopher-lua state restricted to a safe stdlib subset.
//
// gopher-lua's LState is not goroutine-safe. The mutex serializes access
// from Go; Lua execution itself is single-threaded.
type State struct {
	mu          sync.Mutex
	L           *lua.LState
	closed      bool
	execTimeout time.Duration
}

// StateOption configures a new state.
type StateOption func(*State)

// WithExecTimeout overrides the per-execution budget. Zero or negative
// disables it.
func WithExecTimeout(d time.Duration) StateOption {
	return func(s *State) { s.execTimeout = d }
}

// safeModules are the stdlib modules entry points may require.
var safeModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// NewState creates a sandboxed Lua state. Only the base, table, string and
// math libraries are opened; io, os, debug and package loading from disk
// stay out of reach.
func NewState(opts ...StateOption) *State {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	lua.OpenPackage(L)

	s := &State{L: L, execTimeout: DefaultExecTimeout}
	for _, opt := range opts {
		opt(s)
	}
	s.restrict()
	return s
}

// restrict removes escape hatches from the base library and replaces
// require with a whitelist that resolves only safe stdlib modules and
// modules preloaded by the host.
func (s *State) restrict() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
	}

	originalRequire := s.L.GetGlobal("require")
	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !safeModules[name] {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(originalRequire)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
}

// DoFile executes a Lua file to completion.
func (s *State) DoFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	return s.budgeted(func() error { return s.L.DoFile(path) })
}

// Global returns a global value, LNil when the state is closed.
func (s *State) Global(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// SetGlobal sets a global value.
func (s *State) SetGlobal(name string, v lua.LValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, v)
}

// Call invokes a Lua function with the given arguments and returns up to
// one result.
func (s *State) Call(fn lua.LValue, args ...lua.LValue) (lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil, ErrStateClosed
	}

	var ret lua.LValue = lua.LNil
	err := s.budgeted(func() error {
		if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
			return err
		}
		ret = s.L.Get(-1)
		s.L.Pop(1)
		return nil
	})
	return ret, err
}

// Do runs fn against the underlying state under the state lock, with the
// execution budget applied. It is the entry point for callbacks delivered
// from outside a Call, such as settings observers firing on a host
// goroutine.
func (s *State) Do(fn func(L *lua.LState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	return s.budgeted(func() error { return fn(s.L) })
}

// Raw exposes the underlying LState for API installation during load,
// before the state is reachable from any other goroutine.
func (s *State) Raw() *lua.LState {
	return s.L
}

// IsClosed reports whether Close was called.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. Further operations fail with ErrStateClosed.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.Close()
	s.closed = true
}

// budgeted runs fn with a deadline context installed on the state, so the
// VM aborts runaway scripts. Caller holds the lock.
func (s *State) budgeted(fn func() error) error {
	if s.execTimeout <= 0 {
		return s.recovered(fn)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.execTimeout)
	defer cancel()
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()
	return s.recovered(fn)
}

func (s *State) recovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}
