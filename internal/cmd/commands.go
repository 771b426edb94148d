package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/oreprotocol/oreaccess/internal/cmd/base"
	"github.com/oreprotocol/oreaccess/internal/cmd/commands/call"
	"github.com/oreprotocol/oreaccess/internal/cmd/commands/serve"
	versioncmd "github.com/oreprotocol/oreaccess/internal/cmd/commands/version"
)

// Commands maps CLI command names to factories.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	b := &base.Command{UI: ui, Log: log}

	Commands = map[string]cli.CommandFactory{
		"call": func() (cli.Command, error) {
			return &call.Command{Command: b}, nil
		},
		"serve": func() (cli.Command, error) {
			return &serve.Command{Command: b}, nil
		},
		"version": func() (cli.Command, error) {
			return &versioncmd.Command{Command: b}, nil
		},
	}
}
