package main

import (
	"os"

	"github.com/spigell/allocator/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
