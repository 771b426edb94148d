package main

import (
	"os"

	"github.com/oreprotocol/oreaccess/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
