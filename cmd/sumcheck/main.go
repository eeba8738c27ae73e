package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"

	"github.com/eargollo/sumcheck/internal/cli"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

func main() {
	if err := fang.Execute(context.Background(), cli.NewRootCmd(version), fang.WithVersion(version)); err != nil {
		os.Exit(1)
	}
}
