package module

import "errors"

// Module system errors.
var (
	// ErrManifestNotFound is returned when a module directory has no manifest file.
	ErrManifestNotFound = errors.New("manifest.toml not found")

	// ErrInvalidManifest is returned when a manifest fails validation.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrModuleNotFound is returned when no module is registered under an id.
	ErrModuleNotFound = errors.New("module not found")

	// ErrAlreadyLoaded is returned when loading a module that is already loaded.
	ErrAlreadyLoaded = errors.New("module is already loaded")

	// ErrNotLoaded is returned when unloading a module that is not loaded.
	ErrNotLoaded = errors.New("module is not loaded")

	// ErrInvalidRequirement is returned for a malformed dependency specifier.
	ErrInvalidRequirement = errors.New("invalid requirement specifier")

	// ErrInvalidPermission is returned for an unknown permission name.
	ErrInvalidPermission = errors.New("invalid permission")

	// ErrInvalidBundle is returned for a package bundle that cannot be installed.
	ErrInvalidBundle = errors.New("invalid module bundle")

	// ErrInstallFailed is returned when the external package installer fails.
	ErrInstallFailed = errors.New("requirement install failed")
)
