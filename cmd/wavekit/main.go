package main

import (
	"fmt"
	"os"

	"github.com/wavekit-io/wavekit/internal/cli"

	// Providers register themselves on import.
	_ "github.com/wavekit-io/wavekit/providers/aws"
	_ "github.com/wavekit-io/wavekit/providers/static"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
