package main

import (
	"os"

	"github.com/mensylisir/remotexec/cmd/remotexec/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
