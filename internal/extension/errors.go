package extension

import "errors"

// Extension runtime errors.
var (
	// ErrStateClosed is returned when using a Lua state after Close.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrNoSetup is returned when an entry file defines no setup function.
	ErrNoSetup = errors.New("entry point defines no setup function")

	// ErrAlreadyLoaded is returned when loading a module key twice.
	ErrAlreadyLoaded = errors.New("extension already loaded")

	// ErrNotLoaded is returned when unloading a module key that is not loaded.
	ErrNotLoaded = errors.New("extension not loaded")

	// ErrBadValue is returned when a Lua value cannot cross into Go.
	ErrBadValue = errors.New("value cannot be converted")
)
