// Package bot wires the settings tree, module registry, extension runtime
// and command registrar into one hosting application with a data directory
// on disk.
package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hearthbot/hearth/internal/command"
	"github.com/hearthbot/hearth/internal/extension"
	"github.com/hearthbot/hearth/internal/module"
	"github.com/hearthbot/hearth/internal/settings"
)

// Data directory layout.
const (
	SettingsFilename = "settings.yml"
	modulesDirName   = "modules"
	packagesDirName  = "packages"
	storageDirName   = "storage"
)

// hostSchema declares the bot's own settings.
const hostSchema = `# Enable debug logging
debug: false

# Prefix chat commands must start with
command_prefix: "!"

# Module ids to load on startup
modules: []
`

// Options configures a Bot.
type Options struct {
	// DataDir is the root of the bot's on-disk state.
	DataDir string

	// SettingsPath overrides the settings file location,
	// <DataDir>/settings.yml by default.
	SettingsPath string

	// ModulePaths are extra module search paths scanned after
	// <DataDir>/modules.
	ModulePaths []string

	// Installer installs module requirements. Defaults to shelling out to
	// luarocks.
	Installer module.Installer

	// Watch reloads the settings file when it changes on disk.
	Watch bool

	// Logger is the base logger.
	Logger zerolog.Logger
}

// Bot is the hosting application.
type Bot struct {
	opts   Options
	logger zerolog.Logger

	// mu guards the settings tree and its persistence. Module loads run
	// concurrently at startup and merge schemas through this lock.
	mu   sync.Mutex
	root *settings.Group

	registry   *module.Registry
	extensions *extension.Loader
	registrar  *command.Registrar
	installer  module.Installer
	watcher    *watcher

	started  bool
	debugSub *settings.Subscription
}

// New builds an unstarted Bot.
func New(opts Options) (*Bot, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if opts.SettingsPath == "" {
		opts.SettingsPath = filepath.Join(opts.DataDir, SettingsFilename)
	}

	b := &Bot{
		opts:   opts,
		logger: opts.Logger,
		root:   settings.NewRoot("settings"),
	}
	b.installer = opts.Installer
	if b.installer == nil {
		b.installer = module.NewExecInstaller("luarocks", "install")
	}
	b.registrar = command.NewRegistrar(b.logger)
	b.extensions = extension.NewLoader(b.registrar, b.logger)
	b.registry = module.NewRegistry(b)
	return b, nil
}

// Start brings the bot up: directory layout, host schema, persisted
// settings, module discovery, pending bundle installs, enabled module loads
// and live observers. When no settings file exists a default is written and
// Start returns ErrNotConfigured without loading any module.
func (b *Bot) Start(ctx context.Context) error {
	if b.started {
		return ErrAlreadyStarted
	}

	if err := b.ensureLayout(); err != nil {
		return err
	}
	if err := b.root.LoadSchema([]byte(hostSchema)); err != nil {
		return fmt.Errorf("host schema: %w", err)
	}

	if _, err := os.Stat(b.opts.SettingsPath); os.IsNotExist(err) {
		if err := b.SaveSettings(); err != nil {
			return err
		}
		b.logger.Warn().Str("path", b.opts.SettingsPath).Msg("wrote default settings file")
		return ErrNotConfigured
	}
	if err := b.mergeSettingsFile(); err != nil {
		return err
	}

	searchPaths := append([]string{b.modulesDir()}, b.opts.ModulePaths...)
	if err := b.registry.Discover(searchPaths...); err != nil {
		b.logger.Error().Err(err).Msg("some modules failed discovery")
	}
	b.installPendingBundles()

	// Merge every discovered module's schema up front so the settings
	// document renders descriptions for disabled modules too.
	for _, m := range b.registry.List() {
		if _, err := os.Stat(m.SchemaPath()); err != nil {
			continue
		}
		if err := b.MergeSettingsSchema(m.ID(), m.SchemaPath()); err != nil {
			b.logger.Error().Err(err).Str("module", m.ID()).Msg("settings schema rejected")
		}
	}

	b.loadEnabled(ctx)
	b.observeDebug()

	if b.opts.Watch {
		w, err := newWatcher(b)
		if err != nil {
			return fmt.Errorf("settings watcher: %w", err)
		}
		b.watcher = w
	}

	b.started = true
	b.logger.Info().Int("modules", b.registry.Count()).Msg("bot started")
	return nil
}

// Stop unloads modules in reverse load order, stops the watcher and saves
// settings. Settings are only persisted after a completed Start so an
// aborted startup never clobbers the operator's file.
func (b *Bot) Stop(ctx context.Context) error {
	if !b.started {
		return ErrNotStarted
	}

	if b.watcher != nil {
		b.watcher.stop()
		b.watcher = nil
	}
	if b.debugSub != nil {
		b.debugSub.Unsubscribe()
		b.debugSub = nil
	}

	mods := b.registry.List()
	for i := len(mods) - 1; i >= 0; i-- {
		m := mods[i]
		if !m.Loaded() {
			continue
		}
		if err := m.Unload(ctx); err != nil {
			b.logger.Error().Err(err).Str("module", m.ID()).Msg("unload failed")
		}
	}
	b.extensions.Close()

	err := b.SaveSettings()
	b.started = false
	b.logger.Info().Msg("bot stopped")
	return err
}

// Settings returns the settings root.
func (b *Bot) Settings() *settings.Group { return b.root }

// Registry returns the module registry.
func (b *Bot) Registry() *module.Registry { return b.registry }

// Commands returns the command registrar.
func (b *Bot) Commands() *command.Registrar { return b.registrar }

// Emit delivers an event to every module handler registered for it.
func (b *Bot) Emit(ctx context.Context, event string, payload map[string]any) {
	b.extensions.Emit(ctx, event, payload)
}

// MergeSettingsSchema implements the module host surface.
func (b *Bot) MergeSettingsSchema(id, schemaPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	child, err := b.root.GetChild(id, true)
	if err != nil {
		return err
	}
	return child.LoadSchemaFile(schemaPath)
}

// ModuleSettings implements the module host surface.
func (b *Bot) ModuleSettings(id string) (*settings.Group, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.root.GetChild(id, false)
}

// SaveSettings writes the settings document, annotating entries no schema
// declares. The write goes through a temp file and rename.
func (b *Bot) SaveSettings() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.root.MarshalDocument(true)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tmp := b.opts.SettingsPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, b.opts.SettingsPath); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Extensions implements the module host surface.
func (b *Bot) Extensions() module.ExtensionLoader { return b.extensions }

// Installer implements the module host surface.
func (b *Bot) Installer() module.Installer { return b.installer }

// InstalledPackages implements the module host surface.
func (b *Bot) InstalledPackages() ([]module.Package, error) {
	return module.ScanPackages(filepath.Join(b.opts.DataDir, packagesDirName))
}

// StoragePath implements the module host surface.
func (b *Bot) StoragePath(id string) (string, error) {
	dir := filepath.Join(b.opts.DataDir, storageDirName, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage dir: %w", err)
	}
	return dir, nil
}

// Logger implements the module host surface.
func (b *Bot) Logger() zerolog.Logger { return b.logger }

func (b *Bot) modulesDir() string {
	return filepath.Join(b.opts.DataDir, modulesDirName)
}

func (b *Bot) ensureLayout() error {
	for _, dir := range []string{
		b.opts.DataDir,
		b.modulesDir(),
		filepath.Join(b.opts.DataDir, packagesDirName),
		filepath.Join(b.opts.DataDir, storageDirName),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("data dir: %w", err)
		}
	}
	return nil
}

// mergeSettingsFile merges the persisted settings document into the tree.
// The merge is non-strict: entries the schema never declared stay in the
// tree and round-trip back to disk with a warning annotation.
//
// Observer delivery happens after b.mu is released. An observer is free to
// come back through the host surface, as module Lua observers do.
func (b *Bot) mergeSettingsFile() error {
	data, err := os.ReadFile(b.opts.SettingsPath)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	parsed, err := settings.ParseDocument(data)
	if err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}

	b.mu.Lock()
	changes, err := b.root.CollectChanges(func() error {
		return b.root.UpdateFromMap(parsed, false)
	})
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.root.NotifyChanges(changes)
	return nil
}

// installPendingBundles installs every bundle file waiting in the modules
// directory. Failures are logged per bundle and do not stop the rest.
func (b *Bot) installPendingBundles() {
	bundles, err := module.PendingBundles(b.modulesDir())
	if err != nil {
		b.logger.Error().Err(err).Msg("could not scan for bundles")
		return
	}
	for _, bundle := range bundles {
		if _, err := b.registry.InstallBundle(bundle, b.modulesDir(), true); err != nil {
			b.logger.Error().Err(err).Str("bundle", bundle).Msg("bundle install failed")
		}
	}
}

// loadEnabled loads the modules listed in the `modules` setting. Loads run
// concurrently and independently: one failing module never stops the
// others. Repeated and unknown entries are logged and skipped.
func (b *Bot) loadEnabled(ctx context.Context) {
	enabled := b.enabledIDs()

	var wg sync.WaitGroup
	for _, id := range enabled {
		m, ok := b.registry.Get(id)
		if !ok {
			b.logger.Warn().Str("module", id).Msg("enabled module not found")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Load(ctx); err != nil {
				b.logger.Error().Err(err).Str("module", m.ID()).Msg("module failed to load")
			}
		}()
	}
	wg.Wait()
}

// enabledIDs reads the `modules` list setting, deduplicated with a warning.
func (b *Bot) enabledIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.root.Get("modules")
	if err != nil {
		return nil
	}
	elems, ok := s.Value().Slice()
	if !ok {
		return nil
	}

	seen := make(map[string]bool, len(elems))
	var out []string
	for _, e := range elems {
		id, ok := e.Str()
		if !ok {
			b.logger.Warn().Str("entry", e.String()).Msg("non-string entry in modules list")
			continue
		}
		if seen[id] {
			b.logger.Warn().Str("module", id).Msg("duplicate entry in modules list")
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// observeDebug switches the global log level live when the debug setting
// changes.
func (b *Bot) observeDebug() {
	s, err := b.root.Get("debug")
	if err != nil {
		return
	}
	apply := func(v settings.Value) {
		if on, _ := v.Bool(); on {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	}
	apply(s.Value())
	b.debugSub = s.Observe(func(_, newValue settings.Value) {
		apply(newValue)
		b.logger.Info().Msg("debug logging toggled")
	})
}
