package extension

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/rs/zerolog"

	"github.com/hearthbot/hearth/internal/command"
	"github.com/hearthbot/hearth/internal/module"
	"github.com/hearthbot/hearth/internal/settings"
)

// instance is one loaded module extension: its Lua state plus everything it
// registered against the host.
type instance struct {
	loader   *Loader
	module   *module.Module
	state    *State
	commands []string
	subs     []*settings.Subscription

	pmu     sync.Mutex
	pending []settings.Change
}

// queueChanges records settings assignments made from inside Lua whose
// observer delivery must wait until the state lock is released.
func (inst *instance) queueChanges(changes []settings.Change) {
	if len(changes) == 0 {
		return
	}
	inst.pmu.Lock()
	inst.pending = append(inst.pending, changes...)
	inst.pmu.Unlock()
}

// flushChanges delivers queued settings changes. Called after a Lua call
// returns, outside the state lock, so observers may take it again. Drains
// repeatedly because an observer can write further settings.
func (inst *instance) flushChanges() {
	for {
		inst.pmu.Lock()
		pending := inst.pending
		inst.pending = nil
		inst.pmu.Unlock()
		if len(pending) == 0 {
			return
		}
		group, err := inst.module.Settings()
		if err != nil {
			return
		}
		group.NotifyChanges(pending)
	}
}

// eventHandler is one hearth.on registration.
type eventHandler struct {
	event string
	inst  *instance
	fn    *lua.LFunction
}

// Loader runs module entry points, keyed by each module's import key. It
// implements the extension-loading interface the module lifecycle consumes.
type Loader struct {
	mu        sync.Mutex
	registrar *command.Registrar
	logger    zerolog.Logger
	instances map[string]*instance
	handlers  []*eventHandler
}

// NewLoader returns an empty loader registering commands into registrar.
func NewLoader(registrar *command.Registrar, logger zerolog.Logger) *Loader {
	return &Loader{
		registrar: registrar,
		logger:    logger.With().Str("component", "extensions").Logger(),
		instances: make(map[string]*instance),
	}
}

// Load creates a fresh sandboxed state for the module, installs the host
// API, runs the entry file and calls its setup function. On any failure
// every registration the module managed to make is rolled back and the
// state is closed; no partial load survives.
func (ld *Loader) Load(ctx context.Context, m *module.Module) error {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	return ld.load(ctx, m)
}

// load is Load without the lock, shared with Reload.
func (ld *Loader) load(_ context.Context, m *module.Module) error {
	key := m.Key()
	if _, ok := ld.instances[key]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, m.ID())
	}

	inst := &instance{loader: ld, module: m, state: NewState()}
	api := ld.installAPI(inst)

	if err := inst.state.DoFile(m.EntryPath()); err != nil {
		ld.teardown(inst)
		return fmt.Errorf("entry point: %w", err)
	}

	setup, ok := inst.state.Global("setup").(*lua.LFunction)
	if !ok {
		ld.teardown(inst)
		return fmt.Errorf("%w: %s", ErrNoSetup, m.EntryPath())
	}

	// setup(host) or setup(host, module), decided by the function's own
	// parameter count.
	args := []lua.LValue{api}
	if setup.Proto != nil && setup.Proto.NumParameters >= 2 {
		args = append(args, ld.moduleTable(inst))
	}
	_, err := inst.state.Call(setup, args...)
	inst.flushChanges()
	if err != nil {
		ld.teardown(inst)
		return fmt.Errorf("setup: %w", err)
	}

	ld.instances[key] = inst
	return nil
}

// Unload removes everything the module registered and closes its state.
func (ld *Loader) Unload(_ context.Context, m *module.Module) error {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	inst, ok := ld.instances[m.Key()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, m.ID())
	}
	delete(ld.instances, m.Key())
	ld.teardown(inst)
	return nil
}

// Reload tears the module's extension down and loads it fresh. When the
// fresh load fails the previous registrations are restored and the old
// state stays live, so a broken edit never takes a working module out.
func (ld *Loader) Reload(ctx context.Context, m *module.Module) error {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	key := m.Key()
	old, ok := ld.instances[key]
	if !ok {
		return ld.load(ctx, m)
	}

	snapshot := ld.registrar.ByOwner(m.ID())
	snapHandlers := ld.handlersOf(old)

	ld.registrar.UnregisterOwner(m.ID())
	ld.removeHandlers(old)
	delete(ld.instances, key)

	if err := ld.load(ctx, m); err != nil {
		for _, cmd := range snapshot {
			if rerr := ld.registrar.Register(*cmd); rerr != nil {
				ld.logger.Error().Err(rerr).Str("command", cmd.Name).Msg("could not restore command after failed reload")
			}
		}
		ld.handlers = append(ld.handlers, snapHandlers...)
		ld.instances[key] = old
		return fmt.Errorf("reload: %w", err)
	}

	for _, sub := range old.subs {
		sub.Unsubscribe()
	}
	old.state.Close()
	return nil
}

// Emit delivers an event to every handler registered for it, in
// registration order. Handler failures are logged and do not stop
// delivery to the remaining handlers.
func (ld *Loader) Emit(_ context.Context, event string, payload map[string]any) {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	for _, h := range ld.handlers {
		if h.event != event {
			continue
		}
		err := h.inst.state.Do(func(L *lua.LState) error {
			return L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, anyToLua(L, payload))
		})
		h.inst.flushChanges()
		if err != nil {
			mlog := h.inst.module.Logger()
			mlog.Error().Err(err).Str("event", event).Msg("event handler failed")
		}
	}
}

// Loaded reports whether a module key has a live extension.
func (ld *Loader) Loaded(key string) bool {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	_, ok := ld.instances[key]
	return ok
}

// Count returns the number of live extensions.
func (ld *Loader) Count() int {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	return len(ld.instances)
}

// Close unloads everything. Used on shutdown after modules unload, as a
// backstop for instances left behind by lifecycle errors.
func (ld *Loader) Close() {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	for key, inst := range ld.instances {
		delete(ld.instances, key)
		ld.teardown(inst)
	}
}

// addHandler records a hearth.on registration. Called from Lua during setup
// while the loader lock is already held by Load.
func (ld *Loader) addHandler(event string, inst *instance, fn *lua.LFunction) {
	ld.handlers = append(ld.handlers, &eventHandler{event: event, inst: inst, fn: fn})
}

// teardown rolls back every registration an instance made and closes its
// state. Caller holds the lock.
func (ld *Loader) teardown(inst *instance) {
	ld.registrar.UnregisterOwner(inst.module.ID())
	ld.removeHandlers(inst)
	for _, sub := range inst.subs {
		sub.Unsubscribe()
	}
	inst.state.Close()
}

func (ld *Loader) handlersOf(inst *instance) []*eventHandler {
	var out []*eventHandler
	for _, h := range ld.handlers {
		if h.inst == inst {
			out = append(out, h)
		}
	}
	return out
}

func (ld *Loader) removeHandlers(inst *instance) {
	kept := ld.handlers[:0]
	for _, h := range ld.handlers {
		if h.inst != inst {
			kept = append(kept, h)
		}
	}
	ld.handlers = kept
}
