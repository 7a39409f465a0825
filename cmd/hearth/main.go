// Package main is the entry point for the Hearth module host.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearthbot/hearth/internal/bot"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

// pathList collects repeatable -modules flags.
type pathList []string

func (p *pathList) String() string { return strings.Join(*p, string(os.PathListSeparator)) }

func (p *pathList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		dataDir     string
		configPath  string
		modulePaths pathList
		debug       bool
		watch       bool
		showVersion bool
	)

	flag.StringVar(&dataDir, "data", defaultDataDir(), "Path to the data directory")
	flag.StringVar(&configPath, "config", "", "Path to the settings file (default <data>/settings.yml)")
	flag.Var(&modulePaths, "modules", "Additional module search path (repeatable)")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&watch, "watch", false, "Reload the settings file when it changes")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("hearth %s (%s)\n", version, commit)
		return 0
	}

	logger := newLogger(debug)

	b, err := bot.New(bot.Options{
		DataDir:      dataDir,
		SettingsPath: configPath,
		ModulePaths:  modulePaths,
		Watch:        watch,
		Logger:       logger,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialization failed")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		if errors.Is(err, bot.ErrNotConfigured) {
			fmt.Fprintf(os.Stderr, "A default settings file has been written to %s.\n", settingsPath(dataDir, configPath))
			fmt.Fprintln(os.Stderr, "Review it, then start hearth again.")
			return 0
		}
		logger.Error().Err(err).Msg("startup failed")
		return 1
	}

	logger.Info().Str("data", dataDir).Msg("hearth is running, press ctrl-c to stop")
	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := b.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
		return 1
	}
	return 0
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "hearth")
	}
	return "hearth-data"
}

func settingsPath(dataDir, configPath string) string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(dataDir, bot.SettingsFilename)
}
