package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lightflow/lightflow/internal/config"
)

//go:embed examples/*.yaml
var exampleWorkflows embed.FS

func runConfigCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(exitUserError)
	}
	switch args[0] {
	case "default":
		runConfigDefaultCmd(args[1:])
	case "examples":
		runConfigExamplesCmd(args[1:])
	default:
		usage()
		os.Exit(exitUserError)
	}
}

func runConfigDefaultCmd(args []string) {
	fs := newFlagSet("config default")
	fs.ParseArgs(args)
	if fs.NArg() < 1 {
		fail("usage: config default <dir>")
	}
	dir := fs.Arg(0)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fail(err.Error())
	}
	path, err := config.WriteDefault(dir)
	check(err)
	fmt.Println(path)
}

// runConfigExamplesCmd copies the bundled demo workflows (spec.md §8's
// scenarios) to dir, for the `config examples <dir>` CLI verb.
func runConfigExamplesCmd(args []string) {
	fs := newFlagSet("config examples")
	fs.ParseArgs(args)
	if fs.NArg() < 1 {
		fail("usage: config examples <dir>")
	}
	dir := fs.Arg(0)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fail(err.Error())
	}

	entries, err := exampleWorkflows.ReadDir("examples")
	check(err)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := exampleWorkflows.ReadFile(filepath.Join("examples", entry.Name()))
		check(err)
		dest := filepath.Join(dir, entry.Name())
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			fail(err.Error())
		}
		fmt.Println(dest)
	}
}
