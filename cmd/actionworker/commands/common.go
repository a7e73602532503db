// Package commands implements the actionworker CLI commands.
package commands

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/actionworker/internal/config"
	"git.home.luguber.info/inful/actionworker/internal/worklog"
)

const defaultConfigPath = "actionworker.yaml"

// Global is shared state bound into every command.
type Global struct {
	Logger *slog.Logger
}

// CLI is the root command.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"actionworker.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve   ServeCmd   `cmd:"" help:"Run a worker process serving requests on stdio or NATS"`
	Run     RunCmd     `cmd:"" help:"Start a worker and run one action on it"`
	Journal JournalCmd `cmd:"" help:"Show recorded request outcomes"`
	Init    InitCmd    `cmd:"" help:"Write an example configuration file"`
}

// AfterApply sets up stderr logging once flags are parsed. Stdout is reserved
// for protocol traffic in stdio mode.
func (c *CLI) AfterApply(g *Global) error {
	level := "info"
	if c.Verbose {
		level = "debug"
	}
	g.Logger = worklog.NewLogger(level, "text", os.Stderr)
	slog.SetDefault(g.Logger)
	return nil
}

// loadConfig loads the configured file. A missing file at the default path
// yields the defaults.
func loadConfig(g *Global, root *CLI) (*config.Config, error) {
	cfg, err := config.Load(root.Config)
	if err != nil {
		if root.Config == defaultConfigPath {
			if _, statErr := os.Stat(root.Config); errors.Is(statErr, fs.ErrNotExist) {
				slog.Debug("No configuration file, using defaults")
				cfg = config.Default()
				err = nil
			}
		}
		if err != nil {
			return nil, err
		}
	}

	level := string(cfg.Logging.Level)
	if root.Verbose {
		level = "debug"
	}
	g.Logger = worklog.NewLogger(level, string(cfg.Logging.Format), os.Stderr)
	slog.SetDefault(g.Logger)
	return cfg, nil
}
