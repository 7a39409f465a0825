package bot

import "errors"

var (
	// ErrNotConfigured is returned by Start when no settings file existed.
	// A default settings file has been written; the operator is expected to
	// review it and start again.
	ErrNotConfigured = errors.New("settings file was missing, a default has been written")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("bot already started")

	// ErrNotStarted is returned when Stop is called before a successful Start.
	ErrNotStarted = errors.New("bot not started")
)
