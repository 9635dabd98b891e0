package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

const defaultWorkerPIDFile = "./lightflow-worker.pid"

func runWorkerCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(exitUserError)
	}
	switch args[0] {
	case "start":
		runWorkerStartCmd(args[1:])
	case "stop":
		runWorkerStopCmd(args[1:])
	case "status":
		runWorkerStatusCmd(args[1:])
	default:
		usage()
		os.Exit(exitUserError)
	}
}

// runWorkerStartCmd delegates to the standalone lightflow-worker binary
// the way the teacher's "up" command delegates to docker compose:
// locate it on PATH and exec it as a child process, rather than
// reimplementing worker startup inline. lightflow has no central
// registry of running workers, so the child's pid is recorded to a
// local file for a later "worker stop"/"worker status" to find.
func runWorkerStartCmd(args []string) {
	fs := newFlagSet("worker start")
	queues := fs.String("q", "", "comma-separated queue subset")
	concurrency := fs.Int("concurrency", 0, "max concurrent job dispatch")
	metricsAddr := fs.String("metrics-addr", "", "address to serve /metrics on")
	pidFile := fs.String("pid-file", defaultWorkerPIDFile, "where to record the worker's pid")
	foreground := fs.Bool("foreground", false, "run attached instead of detaching")
	fs.ParseArgs(args)

	binPath, err := exec.LookPath("lightflow-worker")
	if err != nil {
		fail("lightflow-worker binary not found on PATH")
	}

	workerArgs := []string{"--pid-file", *pidFile}
	if *fs.configPath != "" {
		workerArgs = append(workerArgs, "--config", *fs.configPath)
	}
	if *queues != "" {
		workerArgs = append(workerArgs, "--queues", *queues)
	}
	if *concurrency > 0 {
		workerArgs = append(workerArgs, "--concurrency", strconv.Itoa(*concurrency))
	}
	if *metricsAddr != "" {
		workerArgs = append(workerArgs, "--metrics-addr", *metricsAddr)
	}

	// #nosec G204 -- args are constructed from validated CLI flags.
	cmd := exec.Command(binPath, workerArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if *foreground {
		check(cmd.Run())
		return
	}
	if err := cmd.Start(); err != nil {
		failUnavailable(fmt.Sprintf("start lightflow-worker: %v", err))
	}
	fmt.Printf("lightflow-worker started, pid %d (pid file %s)\n", cmd.Process.Pid, *pidFile)
}

func runWorkerStopCmd(args []string) {
	fs := newFlagSet("worker stop")
	pidFile := fs.String("pid-file", defaultWorkerPIDFile, "pid file written by worker start")
	fs.ParseArgs(args)

	pid, err := readPIDFile(*pidFile)
	if err != nil {
		fail(err.Error())
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		fail(fmt.Sprintf("find process %d: %v", pid, err))
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fail(fmt.Sprintf("signal process %d: %v", pid, err))
	}
	fmt.Printf("sent SIGTERM to lightflow-worker pid %d\n", pid)
}

func runWorkerStatusCmd(args []string) {
	fs := newFlagSet("worker status")
	pidFile := fs.String("pid-file", defaultWorkerPIDFile, "pid file written by worker start")
	fs.ParseArgs(args)

	pid, err := readPIDFile(*pidFile)
	if err != nil {
		fmt.Println("not running (no pid file)")
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Printf("not running (pid %d not found)\n", pid)
		return
	}
	// Signal 0 performs no-op existence/permission checks only, the
	// conventional way to probe liveness without disturbing the process.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		fmt.Printf("not running (pid %d: %v)\n", pid, err)
		return
	}
	fmt.Printf("running, pid %d\n", pid)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file %s: %w", path, err)
	}
	return pid, nil
}
