package extension

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

func writeLua(t *testing.T, code string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.lua")
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecTimeoutStopsRunawayScript(t *testing.T) {
	s := NewState(WithExecTimeout(50 * time.Millisecond))

	path := writeLua(t, "while true do end\n")
	done := make(chan error, 1)
	go func() { done <- s.DoFile(path) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("DoFile returned nil for an infinite loop")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("runaway script was not stopped")
	}
	s.Close()
}

func TestStateUsableAfterTimeout(t *testing.T) {
	s := NewState(WithExecTimeout(50 * time.Millisecond))
	defer s.Close()

	if err := s.DoFile(writeLua(t, "function spin() while true do end end\nspin()\n")); err == nil {
		t.Fatal("DoFile returned nil for an infinite loop")
	}

	// The budget is per execution; the state keeps working.
	err := s.Do(func(L *lua.LState) error {
		L.SetGlobal("answer", lua.LNumber(42))
		return nil
	})
	if err != nil {
		t.Fatalf("Do after timeout: %v", err)
	}
	if got := s.Global("answer"); got != lua.LNumber(42) {
		t.Errorf("answer = %v, want 42", got)
	}
}

func TestDoAfterClose(t *testing.T) {
	s := NewState()
	s.Close()
	if err := s.Do(func(L *lua.LState) error { return nil }); err != ErrStateClosed {
		t.Errorf("Do error = %v, want ErrStateClosed", err)
	}
}
