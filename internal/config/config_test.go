package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.Broker.Host != defaultBrokerHost || cfg.Broker.Port != defaultBrokerPort {
		t.Fatalf("unexpected broker defaults: %+v", cfg.Broker)
	}
	if cfg.Store.Host != defaultStoreHost || cfg.Store.Port != defaultStorePort {
		t.Fatalf("unexpected store defaults: %+v", cfg.Store)
	}
	if cfg.Signal != cfg.Broker {
		t.Fatalf("expected signal to default to the broker connection")
	}
	if cfg.Worker.Concurrency != 4 {
		t.Fatalf("expected default concurrency 4, got %d", cfg.Worker.Concurrency)
	}
}

func TestDefaultHonorsEnvOverrides(t *testing.T) {
	t.Setenv(envBrokerURL, "nats://broker.example:4222")
	t.Setenv(envSignalURL, "nats://signal.example:4222")
	t.Setenv(envStoreURL, "redis://store.example:6379/1")

	cfg := Default()
	if cfg.ResolvedBrokerURL() != "nats://broker.example:4222" {
		t.Fatalf("unexpected resolved broker url: %s", cfg.ResolvedBrokerURL())
	}
	if cfg.ResolvedSignalURL() != "nats://signal.example:4222" {
		t.Fatalf("unexpected resolved signal url: %s", cfg.ResolvedSignalURL())
	}
	if cfg.ResolvedStoreURL() != "redis://store.example:6379/1" {
		t.Fatalf("unexpected resolved store url: %s", cfg.ResolvedStoreURL())
	}
}

func TestResolvedURLFallsBackToStructuredFields(t *testing.T) {
	cfg := Default()
	if cfg.ResolvedBrokerURL() != cfg.Broker.URL() {
		t.Fatalf("expected resolved broker url to fall back to structured fields")
	}
}

func TestBrokerURLWithPassword(t *testing.T) {
	b := BrokerConfig{Host: "localhost", Port: 4222, Password: "secret"}
	if got := b.URL(); got != "nats://:secret@localhost:4222" {
		t.Fatalf("unexpected broker url: %s", got)
	}
}

func TestStoreURLWithAuth(t *testing.T) {
	s := StoreConfig{Host: "localhost", Port: 6379, Database: 2, Auth: "secret"}
	if got := s.URL(); got != "redis://:secret@localhost:6379/2" {
		t.Fatalf("unexpected store url: %s", got)
	}
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.cfg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Broker.Host != defaultBrokerHost {
		t.Fatalf("expected default config on missing file")
	}
}

func TestLoadParsesAndValidatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lightflow.cfg")
	contents := `
workflows:
  - ./workflows
broker:
  host: broker.internal
  port: 4222
store:
  host: store.internal
  port: 6379
worker:
  concurrency: 8
  queues_default: [task]
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Broker.Host != "broker.internal" {
		t.Fatalf("unexpected broker host: %s", cfg.Broker.Host)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Fatalf("unexpected concurrency: %d", cfg.Worker.Concurrency)
	}
	if len(cfg.Worker.QueuesDefault) != 1 || cfg.Worker.QueuesDefault[0] != "task" {
		t.Fatalf("unexpected queues: %v", cfg.Worker.QueuesDefault)
	}
}

func TestLoadRejectsSchemaViolation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lightflow.cfg")
	contents := `
broker:
  port: "not-a-number"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected schema validation error")
	}
}

func TestWriteDefaultWritesReadableFile(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteDefault(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(path) != "lightflow.cfg" {
		t.Fatalf("unexpected path: %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}
