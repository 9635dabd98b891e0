package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lightflow/lightflow/internal/config"
	"github.com/lightflow/lightflow/internal/lferr"
	"github.com/lightflow/lightflow/internal/model"
	"github.com/lightflow/lightflow/internal/queue"
	"github.com/lightflow/lightflow/internal/signalbus"
	"github.com/lightflow/lightflow/internal/workflowdef"
)

const statusQueryTimeout = 3 * time.Second

func runWorkflowCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(exitUserError)
	}
	switch args[0] {
	case "list":
		runWorkflowListCmd(args[1:])
	case "start":
		runWorkflowStartCmd(args[1:])
	case "stop":
		runWorkflowStopCmd(args[1:])
	case "abort":
		runWorkflowAbortCmd(args[1:])
	case "status":
		runWorkflowStatusCmd(args[1:])
	default:
		usage()
		os.Exit(exitUserError)
	}
}

func loadConfigOrFail(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fail(err.Error())
	}
	return cfg
}

func runWorkflowListCmd(args []string) {
	fs := newFlagSet("workflow list")
	fs.ParseArgs(args)
	cfg := loadConfigOrFail(*fs.configPath)

	summaries, errs := workflowdef.List(cfg.Workflows)
	for _, e := range errs {
		fmt.Fprintln(os.Stderr, e)
	}
	for _, s := range summaries {
		fmt.Printf("%s\t%s\n", s.Name, s.Description)
	}
}

// parseStartArgs parses "start <name> [--key=value ...]" by hand
// rather than with flagSet: an open-ended set of run parameters is not
// something the flag package can pre-declare.
func parseStartArgs(args []string) (configPath, name string, params map[string]string, err error) {
	configPath = envOr("LIGHTFLOW_CONFIG", "")
	params = map[string]string{}
	var positional []string
	for _, a := range args {
		switch {
		case strings.HasPrefix(a, "--config="):
			configPath = strings.TrimPrefix(a, "--config=")
		case strings.HasPrefix(a, "--"):
			kv := strings.TrimPrefix(a, "--")
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return "", "", nil, fmt.Errorf("invalid run parameter %q, expected --key=value", a)
			}
			params[parts[0]] = parts[1]
		default:
			positional = append(positional, a)
		}
	}
	if len(positional) < 1 {
		return "", "", nil, fmt.Errorf("usage: workflow start <name> [--key=value ...]")
	}
	return configPath, positional[0], params, nil
}

// runWorkflowStartCmd does its own argument parsing rather than using
// flagSet: "start <name> [--key=value ...]" takes an open-ended set of
// run parameters the flag package can't pre-declare.
func runWorkflowStartCmd(args []string) {
	configPath, name, params, err := parseStartArgs(args)
	if err != nil {
		fail(err.Error())
	}

	cfg := loadConfigOrFail(configPath)
	workflows, errs := workflowdef.LoadPaths(cfg.Workflows)
	for _, e := range errs {
		fmt.Fprintln(os.Stderr, e)
	}
	if _, ok := workflows[name]; !ok {
		fmt.Fprintf(os.Stderr, "unknown workflow %q\n", name)
		os.Exit(exitWorkflowUnknown)
	}

	q, err := queue.Connect(cfg.ResolvedBrokerURL())
	if err != nil {
		failUnavailable(err.Error())
	}
	defer q.Close()

	runID := uuid.NewString()
	rec := model.JobRecord{
		Kind:         model.JobKindWorkflow,
		RunID:        runID,
		WorkflowName: name,
		Params:       params,
		Attempt:      1,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := q.Submit(ctx, "workflow", rec); err != nil {
		if lferr.OfKind(err, lferr.KindQueueUnavailable) {
			failUnavailable(err.Error())
		}
		fail(err.Error())
	}
	fmt.Println(runID)
}

func runWorkflowStopCmd(args []string) {
	runRunSignalCmd("workflow stop", args, model.SignalStopRequest)
}

func runWorkflowAbortCmd(args []string) {
	runRunSignalCmd("workflow abort", args, model.SignalAbortRequest)
}

// runRunSignalCmd publishes a run-scoped control signal directly on the
// signal bus — there is no gateway to route the request through, so
// the CLI is itself a bus publisher for stop/abort, per spec.md §6.
func runRunSignalCmd(name string, args []string, kind model.SignalKind) {
	fs := newFlagSet(name)
	fs.ParseArgs(args)
	if fs.NArg() < 1 {
		fail(fmt.Sprintf("usage: %s <runId>", name))
	}
	runID := fs.Arg(0)
	cfg := loadConfigOrFail(*fs.configPath)

	bus, err := signalbus.Connect(cfg.ResolvedSignalURL())
	if err != nil {
		failUnavailable(err.Error())
	}
	defer bus.Close()

	if err := bus.Publish(runID, model.Signal{Kind: kind}); err != nil {
		failUnavailable(err.Error())
	}
}

func runWorkflowStatusCmd(args []string) {
	fs := newFlagSet("workflow status")
	fs.ParseArgs(args)
	if fs.NArg() < 1 {
		// Without a run id there is no subject to query: the signal bus
		// is scoped per run and lightflow keeps no central run registry
		// a CLI could enumerate instead.
		fail("usage: workflow status <runId> (lightflow has no central run registry to list runs without one)")
	}
	runID := fs.Arg(0)
	cfg := loadConfigOrFail(*fs.configPath)

	bus, err := signalbus.Connect(cfg.ResolvedSignalURL())
	if err != nil {
		failUnavailable(err.Error())
	}
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), statusQueryTimeout)
	defer cancel()
	reply, err := bus.Request(ctx, runID, model.Signal{Kind: model.SignalQuery})
	if err != nil {
		if lferr.OfKind(err, lferr.KindTimeout) {
			fmt.Printf("no response from run %s (no live task subscribed to the signal bus)\n", runID)
			return
		}
		failUnavailable(err.Error())
	}
	printJSON(reply)
}
