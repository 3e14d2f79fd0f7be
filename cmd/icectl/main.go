package main

import (
	"fmt"
	"os"

	"github.com/danmuck/icectl/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "icectl: %v\n", err)
		os.Exit(1)
	}
}
