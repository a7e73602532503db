package main

import (
	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/actionworker/cmd/actionworker/commands"
	ferrors "git.home.luguber.info/inful/actionworker/internal/foundation/errors"
	"git.home.luguber.info/inful/actionworker/internal/version"
)

func main() {
	var cli commands.CLI
	global := &commands.Global{}
	ctx := kong.Parse(&cli,
		kong.Name("actionworker"),
		kong.Description("Run build actions in isolated worker processes."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.Bind(global),
	)
	if err := ctx.Run(global, &cli); err != nil {
		ferrors.NewCLIErrorAdapter(cli.Verbose, global.Logger).HandleError(err)
	}
}
