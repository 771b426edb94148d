// Package version implements the version command.
package version

import (
	"github.com/oreprotocol/oreaccess/internal/cmd/base"
	"github.com/oreprotocol/oreaccess/internal/version"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the version"
}

func (c *Command) Help() string {
	return "Usage: oreaccess version"
}

func (c *Command) Run(args []string) int {
	c.UI.Output(version.Version)
	return 0
}
