package module

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/blang/semver/v4"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
)

// ManifestFilename is the manifest file name inside a module directory.
const ManifestFilename = "manifest.toml"

// Manifest describes a module's identity and requirements.
//
// Two manifest shapes are accepted: built-in modules declare a [core_module]
// table, third-party modules declare manifest_version = 1 with a [module]
// table. Both shapes validate through the same rules; the version field is
// optional only for built-in modules.
type Manifest struct {
	// ID is the unique module identifier, lowercase letters and underscores.
	ID string
	// Name is the human-readable module name.
	Name string
	// Description is a short summary shown to operators.
	Description string
	// Authors lists the module's authors.
	Authors []string
	// License is the module's license identifier.
	License string
	// Version is the module version, nil for unversioned built-in modules.
	Version *semver.Version
	// Entry is the relative path of the entry point Lua file.
	Entry string
	// Requirements are external packages the module needs installed.
	Requirements []Requirement
	// Permissions are the chat capabilities the module requests.
	Permissions Permission
	// Core reports whether the manifest used the built-in module shape.
	Core bool
}

// Validation errors.
var (
	ErrMissingID          = fmt.Errorf("%w: id is required", ErrInvalidManifest)
	ErrInvalidID          = fmt.Errorf("%w: id must be 1-32 lowercase letters or underscores", ErrInvalidManifest)
	ErrInvalidDisplayName = fmt.Errorf("%w: name must be 1-64 characters", ErrInvalidManifest)
	ErrInvalidDescription = fmt.Errorf("%w: description must be at most 128 characters", ErrInvalidManifest)
	ErrInvalidAuthor      = fmt.Errorf("%w: author must be 1-32 characters", ErrInvalidManifest)
	ErrMissingVersion     = fmt.Errorf("%w: version is required", ErrInvalidManifest)
	ErrInvalidVersion     = fmt.Errorf("%w: version must be valid semver", ErrInvalidManifest)
	ErrInvalidEntry       = fmt.Errorf("%w: entry must be a .lua file", ErrInvalidManifest)
)

// idPattern validates module identifiers.
var idPattern = regexp.MustCompile(`^[a-z_]+$`)

// rawManifest mirrors the on-disk TOML shapes.
type rawManifest struct {
	ManifestVersion int        `toml:"manifest_version"`
	CoreModule      *rawModule `toml:"core_module"`
	Module          *rawModule `toml:"module"`
}

type rawModule struct {
	ID           string   `toml:"id"`
	Name         string   `toml:"name"`
	Description  string   `toml:"description"`
	Authors      []string `toml:"authors"`
	License      string   `toml:"license"`
	Version      string   `toml:"version"`
	Entry        string   `toml:"entry"`
	Dependencies []string `toml:"dependencies"`
	Permissions  []string `toml:"permissions"`
}

// ParseManifest parses and validates manifest TOML. A manifest that fails
// validation yields no Manifest value at all; errors accumulate so every
// invalid field is reported at once.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	var table *rawModule
	core := false
	switch {
	case raw.CoreModule != nil:
		table = raw.CoreModule
		core = true
	case raw.Module != nil && raw.ManifestVersion == 1:
		table = raw.Module
	case raw.Module != nil:
		return nil, fmt.Errorf("%w: unsupported manifest_version %d", ErrInvalidManifest, raw.ManifestVersion)
	default:
		return nil, fmt.Errorf("%w: no [module] or [core_module] table", ErrInvalidManifest)
	}

	m := &Manifest{
		ID:          strings.TrimSpace(table.ID),
		Name:        strings.TrimSpace(table.Name),
		Description: strings.TrimSpace(table.Description),
		License:     strings.TrimSpace(table.License),
		Entry:       table.Entry,
		Core:        core,
	}
	for _, a := range table.Authors {
		m.Authors = append(m.Authors, strings.TrimSpace(a))
	}
	m.applyDefaults()

	var errs error
	if table.Version != "" {
		v, err := semver.Parse(strings.TrimPrefix(table.Version, "v"))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %q", ErrInvalidVersion, table.Version))
		} else {
			m.Version = &v
		}
	} else if !core {
		errs = multierr.Append(errs, ErrMissingVersion)
	}

	reqs, err := ParseRequirements(table.Dependencies)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	m.Requirements = reqs

	perms, err := ParsePermissions(table.Permissions)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	m.Permissions = perms

	errs = multierr.Append(errs, m.validate())
	if errs != nil {
		return nil, errs
	}
	return m, nil
}

// LoadManifest loads and validates a manifest from a file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// LoadManifestFromDir loads the manifest.toml inside a module directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestFilename))
}

func (m *Manifest) applyDefaults() {
	if m.Entry == "" {
		m.Entry = "init.lua"
	}
	if m.License == "" {
		m.License = "No license specified"
	}
	if m.Core && len(m.Authors) == 0 {
		m.Authors = []string{"Hearth contributors"}
	}
}

func (m *Manifest) validate() error {
	var errs error

	if m.ID == "" {
		errs = multierr.Append(errs, ErrMissingID)
	} else if len(m.ID) > 32 || !idPattern.MatchString(m.ID) {
		errs = multierr.Append(errs, fmt.Errorf("%w: %q", ErrInvalidID, m.ID))
	}

	if m.Name == "" || len(m.Name) > 64 {
		errs = multierr.Append(errs, fmt.Errorf("%w: %q", ErrInvalidDisplayName, m.Name))
	}
	if len(m.Description) > 128 {
		errs = multierr.Append(errs, ErrInvalidDescription)
	}
	for _, a := range m.Authors {
		if a == "" || len(a) > 32 {
			errs = multierr.Append(errs, fmt.Errorf("%w: %q", ErrInvalidAuthor, a))
		}
	}
	if filepath.Ext(m.Entry) != ".lua" {
		errs = multierr.Append(errs, fmt.Errorf("%w: %q", ErrInvalidEntry, m.Entry))
	}

	return errs
}

// String returns "Name vX.Y.Z", or just the name for unversioned modules.
func (m *Manifest) String() string {
	if m.Version == nil {
		return m.Name
	}
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}
