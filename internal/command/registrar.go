// Package command implements the chat command registrar modules register
// their commands into. It stores command metadata and handlers; routing of
// chat traffic to Dispatch belongs to the embedding application.
package command

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/rs/zerolog"
)

// Registrar errors.
var (
	ErrDuplicateCommand = errors.New("command already registered")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrInvalidCommand   = errors.New("invalid command")
)

// namePattern validates command names.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Invocation is one use of a command by a chat user.
type Invocation struct {
	// Args is everything after the command name, split on whitespace.
	Args []string
	// Channel identifies where the command was used.
	Channel string
	// Sender identifies who used it.
	Sender string
	// Reply sends a response back to the invocation's channel.
	Reply func(text string) error
}

// Handler runs a command invocation.
type Handler func(ctx context.Context, inv Invocation) error

// Command is a registered chat command.
type Command struct {
	// Name the command is invoked by.
	Name string
	// Description shown in help output.
	Description string
	// Owner is the module id the command belongs to.
	Owner string
	// Handler runs the command.
	Handler Handler
}

// Registrar holds all registered commands, preserving registration order.
type Registrar struct {
	mu       sync.RWMutex
	commands map[string]*Command
	order    []string
	logger   zerolog.Logger
}

// NewRegistrar returns an empty registrar.
func NewRegistrar(logger zerolog.Logger) *Registrar {
	return &Registrar{
		commands: make(map[string]*Command),
		logger:   logger.With().Str("component", "commands").Logger(),
	}
}

// Register adds a command. Names are unique across all modules; the first
// registration of a name wins and later ones fail.
func (r *Registrar) Register(cmd Command) error {
	if !namePattern.MatchString(cmd.Name) {
		return fmt.Errorf("%w: bad name %q", ErrInvalidCommand, cmd.Name)
	}
	if cmd.Handler == nil {
		return fmt.Errorf("%w: %q has no handler", ErrInvalidCommand, cmd.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.commands[cmd.Name]; ok {
		return fmt.Errorf("%w: %q (owner %s)", ErrDuplicateCommand, cmd.Name, existing.Owner)
	}
	c := cmd
	r.commands[cmd.Name] = &c
	r.order = append(r.order, cmd.Name)
	r.logger.Debug().Str("command", cmd.Name).Str("owner", cmd.Owner).Msg("command registered")
	return nil
}

// Unregister removes a single command.
func (r *Registrar) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.commands[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	r.remove(name)
	return nil
}

// UnregisterOwner removes every command owned by a module and returns how
// many were removed. Used when a module unloads or its load rolls back.
func (r *Registrar) UnregisterOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var doomed []string
	for _, name := range r.order {
		if r.commands[name].Owner == owner {
			doomed = append(doomed, name)
		}
	}
	for _, name := range doomed {
		r.remove(name)
	}
	return len(doomed)
}

// remove deletes one command. Caller holds the lock.
func (r *Registrar) remove(name string) {
	delete(r.commands, name)
	for i, other := range r.order {
		if other == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a registered command.
func (r *Registrar) Get(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// List returns all commands in registration order.
func (r *Registrar) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.commands[name])
	}
	return out
}

// ByOwner returns the commands owned by a module, in registration order.
func (r *Registrar) ByOwner(owner string) []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Command
	for _, name := range r.order {
		if cmd := r.commands[name]; cmd.Owner == owner {
			out = append(out, cmd)
		}
	}
	return out
}

// Dispatch runs the named command's handler.
func (r *Registrar) Dispatch(ctx context.Context, name string, inv Invocation) error {
	cmd, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	if err := cmd.Handler(ctx, inv); err != nil {
		return fmt.Errorf("command %q: %w", name, err)
	}
	return nil
}
