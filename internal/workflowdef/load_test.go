package workflowdef

import (
	"os"
	"path/filepath"
	"testing"
)

const linearWorkflow = `
name: main
description: linear two-task demo
dags:
  - name: main
    nodes:
      - name: A
        kind: script
        body_ref: noop
      - name: B
        kind: script
        body_ref: noop
    edges:
      - parent: A
        child: B
`

const cyclicWorkflow = `
name: broken
description: a cyclic dag
dags:
  - name: main
    nodes:
      - name: A
        kind: script
        body_ref: noop
      - name: B
        kind: script
        body_ref: noop
    edges:
      - parent: A
        child: B
      - parent: B
        child: A
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadFileParsesValidWorkflow(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.yaml", linearWorkflow)

	wf, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if wf.Name != "main" {
		t.Fatalf("expected name main, got %s", wf.Name)
	}
	if len(wf.Dags) != 1 || len(wf.Dags[0].Nodes) != 2 {
		t.Fatalf("unexpected dag shape: %+v", wf.Dags)
	}
}

func TestLoadFileRejectsCyclicDag(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.yaml", cyclicWorkflow)

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected cycle validation error")
	}
}

func TestLoadDirSkipsNonYAMLAndCollectsErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.yaml", linearWorkflow)
	writeFile(t, dir, "broken.yaml", cyclicWorkflow)
	writeFile(t, dir, "README.md", "not a workflow")

	loaded, errs := LoadDir(dir)
	if len(loaded) != 1 {
		t.Fatalf("expected 1 loaded workflow, got %d", len(loaded))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error from the broken workflow, got %d", len(errs))
	}
	if _, ok := loaded["main"]; !ok {
		t.Fatal("expected main workflow to load")
	}
}

func TestListSummarizesSortedByName(t *testing.T) {
	dirA := t.TempDir()
	writeFile(t, dirA, "main.yaml", linearWorkflow)
	dirB := t.TempDir()
	writeFile(t, dirB, "another.yaml", `
name: alpha
description: alphabetically first
dags:
  - name: main
    nodes:
      - name: A
        kind: script
        body_ref: noop
`)

	summaries, errs := List([]string{dirA, dirB})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].Name != "alpha" || summaries[1].Name != "main" {
		t.Fatalf("expected sorted [alpha, main], got %+v", summaries)
	}
}
