// Package main is the entry point for the svbrdf-run CLI.
//
// The binary launches the SVBRDF trainer from named run profiles. All
// commands live in internal/cli; this file only injects the build
// information and hands control to cobra.
package main

import (
	"github.com/mmr-tortoise/svbrdf-run/internal/cli"
)

// version, commit, and date are set at build time via ldflags, e.g.
//
//	go build -ldflags "-X main.version=v0.3.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	rootCmd := cli.NewRootCommand()
	cli.Execute(rootCmd)
}
