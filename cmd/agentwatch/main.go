package main

import (
	"os"

	"github.com/grovetools/agentwatch/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
