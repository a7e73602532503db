package commands

import (
	"fmt"
	"path/filepath"

	"git.home.luguber.info/inful/actionworker/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force  bool   `help:"Overwrite existing configuration file"`
	Output string `short:"o" name:"output" help:"Directory to write actionworker.yaml into"`
}

func (i *InitCmd) Run(_ *Global, root *CLI) error {
	path := root.Config
	if i.Output != "" {
		path = filepath.Join(i.Output, defaultConfigPath)
	}
	if err := config.Init(path, i.Force); err != nil {
		return err
	}
	fmt.Printf("Wrote configuration to %s\n", path)
	return nil
}
