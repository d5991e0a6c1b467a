// Command essence runs the gamification engine.
package main

import (
	"os"

	"github.com/lifehub/essence/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
