package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lightflow/lightflow/internal/config"
	"github.com/lightflow/lightflow/internal/metrics"
	"github.com/lightflow/lightflow/internal/queue"
	"github.com/lightflow/lightflow/internal/signalbus"
	"github.com/lightflow/lightflow/internal/taskrt"
	"github.com/lightflow/lightflow/internal/worker"
	"github.com/lightflow/lightflow/internal/workflowdef"
)

func main() {
	log.Println("lightflow worker starting...")

	configPath := flag.String("config", envOr("LIGHTFLOW_CONFIG", ""), "path to lightflow.cfg")
	queuesFlag := flag.String("queues", "", "comma-separated queue subset (default: cfg.worker.queues_default)")
	workerID := flag.String("worker-id", envOr("LIGHTFLOW_WORKER_ID", ""), "worker identity (default: random)")
	concurrency := flag.Int("concurrency", 0, "max concurrent job dispatch (default: cfg.worker.concurrency)")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	pidFile := flag.String("pid-file", envOr("LIGHTFLOW_WORKER_PIDFILE", ""), "write this process's pid here, for lightflowctl worker stop/status")
	flag.Parse()

	if *pidFile != "" {
		if err := writePIDFile(*pidFile); err != nil {
			log.Fatalf("write pid file: %v", err)
		}
		defer os.Remove(*pidFile)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	metrics.NewProm("lightflow_worker")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{
			Addr:         *metricsAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		log.Printf("worker metrics on %s/metrics", *metricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	q, err := queue.Connect(cfg.ResolvedBrokerURL())
	if err != nil {
		log.Fatalf("connect job queue: %v", err)
	}
	defer q.Close()

	bus, err := signalbus.Connect(cfg.ResolvedSignalURL())
	if err != nil {
		log.Fatalf("connect signal bus: %v", err)
	}
	defer bus.Close()

	dlqClient, err := queue.ConnectDeadLetterStore(cfg.ResolvedStoreURL())
	if err != nil {
		log.Printf("dead-letter store disabled: %v", err)
	}

	workflows, loadErrs := workflowdef.LoadPaths(cfg.Workflows)
	for _, loadErr := range loadErrs {
		log.Printf("workflow load error: %v", loadErr)
	}
	log.Printf("loaded %d workflows from %v", len(workflows), cfg.Workflows)

	registry := taskrt.NewRegistry()
	taskrt.RegisterBuiltins(registry)

	queues := cfg.Worker.QueuesDefault
	if *queuesFlag != "" {
		queues = strings.Split(*queuesFlag, ",")
	}
	conc := cfg.Worker.Concurrency
	if *concurrency > 0 {
		conc = *concurrency
	}

	w := worker.New(worker.Config{
		WorkerID:    *workerID,
		Queues:      queues,
		Concurrency: conc,
		StoreURL:    cfg.ResolvedStoreURL(),
	}, q, bus, dlqClient, registry, workflows)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Println("worker shutting down")
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			log.Fatalf("worker exited: %v", err)
		}
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
