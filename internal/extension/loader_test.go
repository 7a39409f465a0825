package extension

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hearthbot/hearth/internal/command"
	"github.com/hearthbot/hearth/internal/module"
	"github.com/hearthbot/hearth/internal/settings"
)

// testHost wires a loader, registrar and settings tree together the way
// the application does.
type testHost struct {
	root      *settings.Group
	loader    *Loader
	registrar *command.Registrar
	storage   string
}

func newTestHost(t *testing.T) *testHost {
	t.Helper()
	h := &testHost{
		root:      settings.NewRoot("settings"),
		registrar: command.NewRegistrar(zerolog.Nop()),
		storage:   t.TempDir(),
	}
	h.loader = NewLoader(h.registrar, zerolog.Nop())
	return h
}

func (h *testHost) MergeSettingsSchema(id, schemaPath string) error {
	child, err := h.root.GetChild(id, true)
	if err != nil {
		return err
	}
	return child.LoadSchemaFile(schemaPath)
}

func (h *testHost) ModuleSettings(id string) (*settings.Group, error) {
	return h.root.GetChild(id, false)
}

func (h *testHost) SaveSettings() error { return nil }

func (h *testHost) Extensions() module.ExtensionLoader { return h.loader }

func (h *testHost) Installer() module.Installer { return nil }

func (h *testHost) InstalledPackages() ([]module.Package, error) { return nil, nil }

func (h *testHost) StoragePath(id string) (string, error) {
	dir := filepath.Join(h.storage, id)
	return dir, os.MkdirAll(dir, 0o755)
}

func (h *testHost) Logger() zerolog.Logger { return zerolog.Nop() }

// newModule lays a module on disk and constructs it.
func newModule(t *testing.T, h *testHost, id, entry string, extra map[string]string) *module.Module {
	t.Helper()
	dir := filepath.Join(t.TempDir(), id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		module.ManifestFilename: "manifest_version = 1\n[module]\nid = \"" + id + "\"\nname = \"" + id + "\"\nversion = \"1.0.0\"\n",
		"init.lua":              entry,
	}
	for name, content := range extra {
		files[name] = content
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	m, err := module.New(h, dir)
	if err != nil {
		t.Fatalf("module.New: %v", err)
	}
	return m
}

func TestLoadRegistersCommand(t *testing.T) {
	h := newTestHost(t)
	m := newModule(t, h, "dice", `
function setup(host)
    host.command("roll", "roll some dice", function(inv)
        return "rolled " .. inv.args[1] .. " for " .. inv.sender
    end)
end
`, nil)

	if err := h.loader.Load(context.Background(), m); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !h.loader.Loaded(m.Key()) {
		t.Error("Loaded() = false")
	}

	var reply string
	inv := command.Invocation{
		Args:   []string{"2d6"},
		Sender: "alex",
		Reply:  func(text string) error { reply = text; return nil },
	}
	if err := h.registrar.Dispatch(context.Background(), "roll", inv); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reply != "rolled 2d6 for alex" {
		t.Errorf("reply = %q", reply)
	}

	cmd, _ := h.registrar.Get("roll")
	if cmd.Description != "roll some dice" || cmd.Owner != "dice" {
		t.Errorf("command metadata = %+v", cmd)
	}
}

func TestSetupReceivesModuleTable(t *testing.T) {
	h := newTestHost(t)
	m := newModule(t, h, "aware", `
function setup(host, mod)
    host.command("whoami", function(inv)
        return mod.id .. " v" .. mod.version
    end)
end
`, nil)

	if err := h.loader.Load(context.Background(), m); err != nil {
		t.Fatalf("Load: %v", err)
	}

	var reply string
	inv := command.Invocation{Reply: func(text string) error { reply = text; return nil }}
	if err := h.registrar.Dispatch(context.Background(), "whoami", inv); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reply != "aware v1.0.0" {
		t.Errorf("reply = %q", reply)
	}
}

func TestLoadNoSetup(t *testing.T) {
	h := newTestHost(t)
	m := newModule(t, h, "empty", "local x = 1\n", nil)

	if err := h.loader.Load(context.Background(), m); !errors.Is(err, ErrNoSetup) {
		t.Fatalf("Load error = %v, want ErrNoSetup", err)
	}
	if h.loader.Loaded(m.Key()) {
		t.Error("module reported loaded after failed load")
	}
}

func TestLoadRollsBackOnSetupError(t *testing.T) {
	h := newTestHost(t)
	m := newModule(t, h, "doomed", `
function setup(host)
    host.command("early", function(inv) end)
    host.on("message", function(p) end)
    error("setup exploded")
end
`, nil)

	if err := h.loader.Load(context.Background(), m); err == nil {
		t.Fatal("Load succeeded despite setup error")
	}
	if _, ok := h.registrar.Get("early"); ok {
		t.Error("command survived rolled-back load")
	}
	if h.loader.Loaded(m.Key()) || h.loader.Count() != 0 {
		t.Error("instance survived rolled-back load")
	}
	if len(h.loader.handlers) != 0 {
		t.Errorf("%d event handlers survived rollback", len(h.loader.handlers))
	}
}

func TestUnload(t *testing.T) {
	h := newTestHost(t)
	m := newModule(t, h, "gone", `
function setup(host)
    host.command("bye", function(inv) end)
end
`, nil)

	if err := h.loader.Load(context.Background(), m); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := h.loader.Unload(context.Background(), m); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if _, ok := h.registrar.Get("bye"); ok {
		t.Error("command survived unload")
	}
	if err := h.loader.Unload(context.Background(), m); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("second Unload error = %v, want ErrNotLoaded", err)
	}
}

func TestReloadFailureKeepsOldExtension(t *testing.T) {
	h := newTestHost(t)
	m := newModule(t, h, "sturdy", `
function setup(host)
    host.command("ping", function(inv) return "pong" end)
end
`, nil)

	if err := h.loader.Load(context.Background(), m); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Break the entry point on disk, then attempt a reload.
	if err := os.WriteFile(m.EntryPath(), []byte("this is not lua ("), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.loader.Reload(context.Background(), m); err == nil {
		t.Fatal("Reload succeeded on broken entry point")
	}

	if !h.loader.Loaded(m.Key()) {
		t.Fatal("old extension gone after failed reload")
	}
	var reply string
	inv := command.Invocation{Reply: func(text string) error { reply = text; return nil }}
	if err := h.registrar.Dispatch(context.Background(), "ping", inv); err != nil {
		t.Fatalf("Dispatch after failed reload: %v", err)
	}
	if reply != "pong" {
		t.Errorf("reply = %q", reply)
	}
}

func TestReloadPicksUpNewCode(t *testing.T) {
	h := newTestHost(t)
	m := newModule(t, h, "fresh", `
function setup(host)
    host.command("ver", function(inv) return "one" end)
end
`, nil)

	if err := h.loader.Load(context.Background(), m); err != nil {
		t.Fatalf("Load: %v", err)
	}
	update := `
function setup(host)
    host.command("ver", function(inv) return "two" end)
end
`
	if err := os.WriteFile(m.EntryPath(), []byte(update), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.loader.Reload(context.Background(), m); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	var reply string
	inv := command.Invocation{Reply: func(text string) error { reply = text; return nil }}
	if err := h.registrar.Dispatch(context.Background(), "ver", inv); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reply != "two" {
		t.Errorf("reply = %q, want two", reply)
	}
}

func TestEmitDeliversEvents(t *testing.T) {
	h := newTestHost(t)
	m := newModule(t, h, "listener", `
local last = "nothing"

function setup(host)
    host.on("message", function(p)
        last = p.text
    end)
    host.command("latest", function(inv)
        return last
    end)
end
`, nil)

	if err := h.loader.Load(context.Background(), m); err != nil {
		t.Fatalf("Load: %v", err)
	}

	h.loader.Emit(context.Background(), "message", map[string]any{"text": "hello there"})
	h.loader.Emit(context.Background(), "unrelated", map[string]any{"text": "ignored"})

	var reply string
	inv := command.Invocation{Reply: func(text string) error { reply = text; return nil }}
	if err := h.registrar.Dispatch(context.Background(), "latest", inv); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reply != "hello there" {
		t.Errorf("reply = %q", reply)
	}
}

func TestSettingsAPI(t *testing.T) {
	h := newTestHost(t)
	m := newModule(t, h, "counter", `
function setup(host)
    host.command("bump", function(inv)
        host.settings.set("count", host.settings.get("count") + 1)
        return "count=" .. host.settings.get("count")
    end)
    host.settings.observe("count", function(old, new)
        host.log.info("count moved")
    end)
end
`, map[string]string{
		module.SchemaFilename: "# How many bumps so far\ncount: 0\n",
	})

	// Load through the lifecycle so the schema merges first.
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("module Load: %v", err)
	}

	var reply string
	inv := command.Invocation{Reply: func(text string) error { reply = text; return nil }}
	if err := h.registrar.Dispatch(context.Background(), "bump", inv); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reply != "count=1" {
		t.Errorf("reply = %q", reply)
	}

	sub, err := h.root.GetChild("counter", false)
	if err != nil {
		t.Fatalf("GetChild: %v", err)
	}
	s, err := sub.Get("count")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got, _ := s.Value().Int(); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
	if s.Kind() != settings.KindInt {
		t.Errorf("count kind = %v, want int", s.Kind())
	}
}

func TestObserverDeliveredOnHostWrite(t *testing.T) {
	h := newTestHost(t)
	m := newModule(t, h, "watcher", `
local seen = "none"

function setup(host)
    host.settings.observe("greeting", function(old, new)
        seen = old .. "->" .. new
    end)
    host.command("seen", function(inv) return seen end)
end
`, map[string]string{
		module.SchemaFilename: "greeting: hello\n",
	})

	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("module Load: %v", err)
	}

	// A write from the Go side reaches the Lua observer through the state
	// lock, not around it.
	sub, err := h.root.GetChild("watcher", false)
	if err != nil {
		t.Fatalf("GetChild: %v", err)
	}
	s, err := sub.Get("greeting")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := s.Set(settings.String("howdy")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var reply string
	inv := command.Invocation{Reply: func(text string) error { reply = text; return nil }}
	if err := h.registrar.Dispatch(context.Background(), "seen", inv); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reply != "hello->howdy" {
		t.Errorf("reply = %q, want hello->howdy", reply)
	}
}

func TestObserverMayTouchSettings(t *testing.T) {
	h := newTestHost(t)
	m := newModule(t, h, "tally", `
function setup(host)
    host.settings.observe("count", function(old, new)
        host.settings.set("total", host.settings.get("total") + new)
    end)
    host.command("bump", function(inv)
        host.settings.set("count", host.settings.get("count") + 1)
        return "ok"
    end)
end
`, map[string]string{
		module.SchemaFilename: "count: 0\ntotal: 0\n",
	})

	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("module Load: %v", err)
	}

	inv := command.Invocation{}
	for i := 0; i < 2; i++ {
		if err := h.registrar.Dispatch(context.Background(), "bump", inv); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}

	sub, err := h.root.GetChild("tally", false)
	if err != nil {
		t.Fatalf("GetChild: %v", err)
	}
	s, err := sub.Get("total")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got, _ := s.Value().Int(); got != 3 {
		t.Errorf("total = %d, want 3", got)
	}
}

func TestSandboxBlocksUnsafeModules(t *testing.T) {
	h := newTestHost(t)
	m := newModule(t, h, "sneaky", `
function setup(host)
    local ok, err = pcall(function() return require("os") end)
    if ok then
        error("os module was available")
    end
    local ok2 = pcall(function() return io.open("/etc/passwd") end)
    if ok2 then
        error("io was available")
    end
end
`, nil)

	if err := h.loader.Load(context.Background(), m); err != nil {
		t.Fatalf("Load: %v", err)
	}
}
