// Command lightflowctl is the lightflow operator CLI: configuration
// scaffolding, workflow lifecycle control over the queue and signal
// bus, and worker process management. Grounded on the teacher's
// cordumctl/main.go dispatch-by-first-arg shape, adapted from an
// HTTP-gateway SDK client to direct queue/signalbus/store access since
// lightflow runs no central daemon (spec.md §6).
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

const (
	exitUserError       = 1
	exitUnavailable     = 2
	exitWorkflowUnknown = 3
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUserError)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "config":
		runConfigCmd(args)
	case "workflow":
		runWorkflowCmd(args)
	case "worker":
		runWorkerCmd(args)
	case "-h", "--help", "help":
		usage()
	default:
		usage()
		os.Exit(exitUserError)
	}
}

// flagSet bundles the --config global flag every subcommand accepts,
// mirroring the teacher's flagSet{gateway,apiKey} pairing but for a
// local config file path instead of a remote gateway.
type flagSet struct {
	*flag.FlagSet
	configPath *string
}

func newFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", envOr("LIGHTFLOW_CONFIG", ""), "path to lightflow.cfg")
	return &flagSet{FlagSet: fs, configPath: configPath}
}

func (fs *flagSet) ParseArgs(args []string) {
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
	}
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func check(err error) {
	if err != nil {
		fail(err.Error())
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(exitUserError)
}

func failUnavailable(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(exitUnavailable)
}

func usage() {
	fmt.Print(`lightflowctl - lightflow operator CLI

Usage:
  lightflowctl config default <dir>
  lightflowctl config examples <dir>
  lightflowctl workflow list
  lightflowctl workflow start <name> [--key=value ...]
  lightflowctl workflow stop <runId>
  lightflowctl workflow abort <runId>
  lightflowctl workflow status [<runId>]
  lightflowctl worker start [-q queues] [--concurrency n]
  lightflowctl worker stop
  lightflowctl worker status

Global flags:
  --config   Path to lightflow.cfg (default from LIGHTFLOW_CONFIG)

Exit codes: 0 success, 1 user/config error, 2 broker/store unreachable, 3 unknown workflow.
`)
}
