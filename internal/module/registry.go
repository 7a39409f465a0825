package module

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// BundleExt is the file extension of installable module bundles.
const BundleExt = ".ember"

// Registry tracks every discovered module by id, preserving discovery order.
type Registry struct {
	mu      sync.RWMutex
	host    Host
	modules map[string]*Module
	order   []string
	logger  zerolog.Logger
}

// NewRegistry returns an empty registry bound to the host.
func NewRegistry(host Host) *Registry {
	return &Registry{
		host:    host,
		modules: make(map[string]*Module),
		logger:  host.Logger().With().Str("component", "registry").Logger(),
	}
}

// Discover resets the registry and rescans the given search paths. A search
// path may itself be a module directory or a directory of module
// directories; when the path is a module, its subdirectories are not
// scanned. Invalid manifests are logged and skipped, and the accumulated
// errors are returned after the full scan so one broken module never hides
// the rest.
func (r *Registry) Discover(paths ...string) error {
	r.mu.Lock()
	r.modules = make(map[string]*Module)
	r.order = nil
	r.mu.Unlock()

	var errs error
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			r.logger.Warn().Str("path", path).Msg("module search path missing, skipping")
			continue
		}
		errs = errors.Join(errs, r.discoverIn(path))
	}
	return errs
}

func (r *Registry) discoverIn(path string) error {
	if hasManifest(path) {
		return r.addPath(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	var errs error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub := filepath.Join(path, entry.Name())
		if !hasManifest(sub) {
			continue
		}
		errs = errors.Join(errs, r.addPath(sub))
	}
	return errs
}

func (r *Registry) addPath(path string) error {
	m, err := New(r.host, path)
	if err != nil {
		r.logger.Error().Err(err).Str("path", path).Msg("skipping module with invalid manifest")
		return err
	}
	r.Add(m)
	return nil
}

// Add registers a module. When the id is already taken the first
// registration wins and the duplicate is logged and dropped.
func (r *Registry) Add(m *Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.modules[m.ID()]; ok {
		r.logger.Warn().
			Str("module", m.ID()).
			Str("kept", existing.Path()).
			Str("dropped", m.Path()).
			Msg("duplicate module id, keeping first")
		return
	}
	r.modules[m.ID()] = m
	r.order = append(r.order, m.ID())
}

// Remove drops a module from the registry. The module must be unloaded
// first; its settings remain in the tree.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.modules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	delete(r.modules, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the module registered under id.
func (r *Registry) Get(id string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	return m, ok
}

// Has reports whether a module is registered under id.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// List returns all modules in discovery order.
func (r *Registry) List() []*Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Module, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.modules[id])
	}
	return out
}

// Count returns the number of registered modules.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// InstallBundle extracts a module bundle into installRoot and registers the
// resulting module. The bundle's manifest validates before any file is
// written, and entries escaping the destination directory abort the
// install. With deleteSource set the bundle file is removed on success.
func (r *Registry) InstallBundle(bundlePath, installRoot string, deleteSource bool) (*Module, error) {
	zr, err := zip.OpenReader(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidBundle, bundlePath, err)
	}
	defer zr.Close()

	manifest, err := bundleManifest(&zr.Reader)
	if err != nil {
		return nil, err
	}

	dest := filepath.Join(installRoot, manifest.ID)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("install bundle: %w", err)
	}
	for _, f := range zr.File {
		if err := extractBundleFile(f, dest); err != nil {
			return nil, err
		}
	}

	m, err := New(r.host, dest)
	if err != nil {
		return nil, err
	}
	r.Add(m)

	if deleteSource {
		zr.Close()
		if err := os.Remove(bundlePath); err != nil {
			r.logger.Warn().Err(err).Str("bundle", bundlePath).Msg("could not remove installed bundle")
		}
	}
	r.logger.Info().Str("module", m.ID()).Str("path", dest).Msg("bundle installed")
	return m, nil
}

// bundleManifest validates the manifest inside a bundle before extraction.
func bundleManifest(zr *zip.Reader) (*Manifest, error) {
	for _, f := range zr.File {
		if f.Name != ManifestFilename {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
		}
		return ParseManifest(data)
	}
	return nil, fmt.Errorf("%w: missing %s", ErrInvalidBundle, ManifestFilename)
}

func extractBundleFile(f *zip.File, dest string) error {
	name := filepath.FromSlash(f.Name)
	if !filepath.IsLocal(name) {
		return fmt.Errorf("%w: entry %q escapes install directory", ErrInvalidBundle, f.Name)
	}
	target := filepath.Join(dest, name)

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("install bundle: %w", err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = fs.FileMode(0o644)
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("install bundle: %w", err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("install bundle: %w", err)
	}
	return out.Close()
}

// PendingBundles lists bundle files sitting in dir, sorted by name.
func PendingBundles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan bundles: %w", err)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), BundleExt) {
			continue
		}
		out = append(out, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func hasManifest(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ManifestFilename))
	return err == nil && info.Mode().IsRegular()
}
