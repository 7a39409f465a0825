// Package module implements discovery, validation and lifecycle management
// for Hearth modules. A module is a directory holding a manifest.toml, an
// optional settings_schema.yml and a Lua entry point.
package module

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/hearthbot/hearth/internal/settings"
)

// SchemaFilename is the settings schema file inside a module directory.
const SchemaFilename = "settings_schema.yml"

// ExtensionLoader executes module entry points. Implemented by the
// extension runtime; kept as an interface so the lifecycle layer does not
// depend on the Lua bridge.
type ExtensionLoader interface {
	Load(ctx context.Context, m *Module) error
	Unload(ctx context.Context, m *Module) error
	Reload(ctx context.Context, m *Module) error
}

// Host is the surface a module needs from the application hosting it.
type Host interface {
	// MergeSettingsSchema merges the schema document at schemaPath into
	// the settings subtree for id, creating the subtree if absent.
	MergeSettingsSchema(id, schemaPath string) error

	// ModuleSettings returns the settings subtree for id.
	ModuleSettings(id string) (*settings.Group, error)

	// SaveSettings persists the full settings tree to disk.
	SaveSettings() error

	// Extensions is the runtime that executes module entry points.
	Extensions() ExtensionLoader

	// Installer installs external package requirements.
	Installer() Installer

	// InstalledPackages returns the host's installed package inventory.
	InstalledPackages() ([]Package, error)

	// StoragePath returns a module-private directory for persistent data,
	// creating it if needed.
	StoragePath(id string) (string, error)

	// Logger is the host's base logger.
	Logger() zerolog.Logger
}

// Module is a single discovered module and its load state.
type Module struct {
	host     Host
	manifest *Manifest
	path     string
	key      string
	logger   zerolog.Logger
	loaded   bool
}

// New resolves a module directory and validates its manifest. A directory
// with a missing or invalid manifest never produces a Module.
func New(host Host, path string) (*Module, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve module path: %w", err)
	}
	manifest, err := LoadManifestFromDir(abs)
	if err != nil {
		return nil, err
	}
	m := &Module{
		host:     host,
		manifest: manifest,
		path:     abs,
		key:      filepath.ToSlash(abs),
		logger:   host.Logger().With().Str("module", manifest.ID).Logger(),
	}
	return m, nil
}

// ID returns the module's manifest identifier.
func (m *Module) ID() string { return m.manifest.ID }

// Path returns the module's directory.
func (m *Module) Path() string { return m.path }

// Key returns the module's unique extension key, derived from its path.
func (m *Module) Key() string { return m.key }

// Manifest returns the validated manifest.
func (m *Module) Manifest() *Manifest { return m.manifest }

// Loaded reports whether the module's entry point is currently active.
func (m *Module) Loaded() bool { return m.loaded }

// Logger returns the module-scoped logger.
func (m *Module) Logger() zerolog.Logger { return m.logger }

// EntryPath returns the full path of the module's Lua entry point.
func (m *Module) EntryPath() string {
	return filepath.Join(m.path, m.manifest.Entry)
}

// SchemaPath returns the full path of the module's settings schema file.
func (m *Module) SchemaPath() string {
	return filepath.Join(m.path, SchemaFilename)
}

// Settings returns the module's settings subtree.
func (m *Module) Settings() (*settings.Group, error) {
	return m.host.ModuleSettings(m.manifest.ID)
}

// StoragePath returns the module's private storage directory.
func (m *Module) StoragePath() (string, error) {
	return m.host.StoragePath(m.manifest.ID)
}

// Load brings the module up: merge its settings schema, persist settings so
// schema problems surface on disk immediately, install missing requirements,
// then execute the entry point. Any failure leaves the module unloaded.
func (m *Module) Load(ctx context.Context) error {
	if m.loaded {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, m.manifest.ID)
	}

	if err := m.mergeSchema(); err != nil {
		return fmt.Errorf("module %s: %w", m.manifest.ID, err)
	}
	if err := m.host.SaveSettings(); err != nil {
		return fmt.Errorf("module %s: save settings: %w", m.manifest.ID, err)
	}
	if err := m.installRequirements(ctx); err != nil {
		return fmt.Errorf("module %s: %w", m.manifest.ID, err)
	}
	if err := m.host.Extensions().Load(ctx, m); err != nil {
		return fmt.Errorf("module %s: %w", m.manifest.ID, err)
	}

	m.loaded = true
	m.logger.Info().Str("version", versionString(m.manifest)).Msg("module loaded")
	return nil
}

// Unload tears the module's entry point down. Its settings stay in the tree
// so re-enabling the module restores its configuration.
func (m *Module) Unload(ctx context.Context) error {
	if !m.loaded {
		return fmt.Errorf("%w: %s", ErrNotLoaded, m.manifest.ID)
	}
	if err := m.host.Extensions().Unload(ctx, m); err != nil {
		return fmt.Errorf("module %s: %w", m.manifest.ID, err)
	}
	m.loaded = false
	m.logger.Info().Msg("module unloaded")
	return nil
}

// Reload re-reads the module's schema and requirements and restarts its
// entry point. The loaded flag drops first so a failed reload never leaves
// a half-loaded module reported as loaded.
func (m *Module) Reload(ctx context.Context) error {
	m.loaded = false

	manifest, err := LoadManifestFromDir(m.path)
	if err != nil {
		return fmt.Errorf("module %s: reload manifest: %w", m.manifest.ID, err)
	}
	m.manifest = manifest

	if err := m.mergeSchema(); err != nil {
		return fmt.Errorf("module %s: %w", m.manifest.ID, err)
	}
	if err := m.installRequirements(ctx); err != nil {
		return fmt.Errorf("module %s: %w", m.manifest.ID, err)
	}
	if err := m.host.Extensions().Reload(ctx, m); err != nil {
		return fmt.Errorf("module %s: %w", m.manifest.ID, err)
	}

	m.loaded = true
	m.logger.Info().Msg("module reloaded")
	return nil
}

// mergeSchema merges the module's settings schema into the host tree.
// A module without a schema file is valid and merges nothing.
func (m *Module) mergeSchema() error {
	schemaPath := m.SchemaPath()
	if _, err := os.Stat(schemaPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat settings schema: %w", err)
	}
	return m.host.MergeSettingsSchema(m.manifest.ID, schemaPath)
}

// installRequirements installs manifest requirements not already satisfied
// by the host's package inventory. With nothing missing the installer is
// never invoked, keeping repeated loads cheap and offline-safe.
func (m *Module) installRequirements(ctx context.Context) error {
	if len(m.manifest.Requirements) == 0 {
		return nil
	}
	installed, err := m.host.InstalledPackages()
	if err != nil {
		return fmt.Errorf("read package inventory: %w", err)
	}
	missing := missingRequirements(m.manifest.Requirements, installed)
	if len(missing) == 0 {
		return nil
	}
	return m.host.Installer().Install(ctx, missing, m.logger)
}

func versionString(m *Manifest) string {
	if m.Version == nil {
		return "unversioned"
	}
	return m.Version.String()
}
