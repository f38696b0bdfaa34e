package main

import (
	"github.com/mcpherd/mcpherd/cmd"
)

func main() {
	// Execute the root command.
	cmd.Execute()
}
