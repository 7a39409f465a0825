package module

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blang/semver/v4"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

// Package is an installed external package known to the host.
type Package struct {
	Name    string
	Version semver.Version
}

// Installer installs external packages required by modules.
type Installer interface {
	// Install installs the given requirements, streaming installer output
	// to the logger. It returns an error when any requirement fails.
	Install(ctx context.Context, reqs []Requirement, logger zerolog.Logger) error
}

// InstallError reports a failed installer run.
type InstallError struct {
	// Requirements are the specifiers that were being installed.
	Requirements []string
	// ExitCode is the installer's exit code, -1 when it did not run.
	ExitCode int
	// Err is the underlying failure.
	Err error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("installing %s: %v", strings.Join(e.Requirements, ", "), e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

func (e *InstallError) Is(target error) bool { return target == ErrInstallFailed }

// DefaultInstallTimeout bounds a single installer invocation.
const DefaultInstallTimeout = 5 * time.Minute

// ExecInstaller shells out to an external package manager binary.
type ExecInstaller struct {
	// Bin is the installer binary, resolved through PATH.
	Bin string
	// Args are arguments placed before the requirement specifiers.
	Args []string
	// Timeout bounds one invocation, DefaultInstallTimeout when zero.
	Timeout time.Duration
}

// NewExecInstaller returns an installer invoking "bin install <specs...>".
func NewExecInstaller(bin string, args ...string) *ExecInstaller {
	return &ExecInstaller{Bin: bin, Args: args}
}

// Install runs the installer binary once with all requirement specifiers.
func (in *ExecInstaller) Install(ctx context.Context, reqs []Requirement, logger zerolog.Logger) error {
	if len(reqs) == 0 {
		return nil
	}

	specs := make([]string, len(reqs))
	for i, r := range reqs {
		specs[i] = r.String()
	}

	timeout := in.Timeout
	if timeout == 0 {
		timeout = DefaultInstallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, in.Args...), specs...)
	cmd := exec.CommandContext(ctx, in.Bin, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &InstallError{Requirements: specs, ExitCode: -1, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &InstallError{Requirements: specs, ExitCode: -1, Err: err}
	}

	logger.Info().Str("installer", in.Bin).Strs("requirements", specs).Msg("installing requirements")

	if err := cmd.Start(); err != nil {
		return &InstallError{Requirements: specs, ExitCode: -1, Err: err}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			logger.Debug().Str("installer", in.Bin).Msg(scanner.Text())
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Warn().Str("installer", in.Bin).Msg(scanner.Text())
		}
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return &InstallError{Requirements: specs, ExitCode: cmd.ProcessState.ExitCode(), Err: err}
	}
	return nil
}

// packageMeta mirrors the package.toml left next to each installed package.
type packageMeta struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// ScanPackages reads the installed package inventory under dir. Each
// installed package lives in its own subdirectory holding a package.toml
// with its name and version. Entries that cannot be parsed are skipped.
func ScanPackages(dir string) ([]Package, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan packages: %w", err)
	}

	var out []Package
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name(), "package.toml"))
		if err != nil {
			continue
		}
		var meta packageMeta
		if err := toml.Unmarshal(data, &meta); err != nil || meta.Name == "" {
			continue
		}
		v, err := semver.Parse(strings.TrimPrefix(meta.Version, "v"))
		if err != nil {
			continue
		}
		out = append(out, Package{Name: meta.Name, Version: v})
	}
	return out, nil
}

// missingRequirements filters reqs down to those not satisfied by any
// installed package.
func missingRequirements(reqs []Requirement, installed []Package) []Requirement {
	var missing []Requirement
	for _, req := range reqs {
		satisfied := false
		for _, pkg := range installed {
			if pkg.Name == req.Name && req.Matches(pkg.Version) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			missing = append(missing, req)
		}
	}
	return missing
}
