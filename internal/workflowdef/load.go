// Package workflowdef loads user-authored workflow bundles from YAML
// files on disk, the form named in spec.md §6's `workflows` config
// section: a list of search paths scanned for `*.yaml`/`*.yml` files,
// each holding one WorkflowDef. Grounded on the teacher's
// core/controlplane/gateway/packs.go loadWorkflowFile/loadDataFile
// pair (read-then-yaml.Unmarshal-then-validate), simplified from its
// tar-bundle/registry machinery to plain directory scanning since
// lightflow workflows are local files, not uploaded packs.
package workflowdef

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lightflow/lightflow/internal/dagmodel"
	"github.com/lightflow/lightflow/internal/lferr"
	"github.com/lightflow/lightflow/internal/model"
)

// Summary is the `workflow list` projection: name plus first docstring
// line (spec.md §6: "first docstring line = description").
type Summary struct {
	Name        string
	Description string
	Path        string
}

// LoadDir scans dir for *.yaml/*.yml files and parses each as a
// WorkflowDef, validating every DAG's acyclicity via dagmodel.Build.
// A file that fails to parse or validate is skipped with its error
// attached to the returned error list rather than aborting the scan.
func LoadDir(dir string) (map[string]*model.WorkflowDef, []error) {
	out := map[string]*model.WorkflowDef{}
	var errs []error

	entries, err := os.ReadDir(dir)
	if err != nil {
		return out, []error{lferr.Wrap(lferr.KindConfigError, err, "read workflow dir "+dir)}
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, name)
		wf, err := LoadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[wf.Name] = wf
	}
	return out, errs
}

// LoadPaths loads every workflow found across dirs, later directories
// overriding earlier ones on name collision, matching the teacher's
// last-wins overlay for a search-path style config list.
func LoadPaths(dirs []string) (map[string]*model.WorkflowDef, []error) {
	out := map[string]*model.WorkflowDef{}
	var errs []error
	for _, dir := range dirs {
		loaded, loadErrs := LoadDir(dir)
		errs = append(errs, loadErrs...)
		for name, wf := range loaded {
			out[name] = wf
		}
	}
	return out, errs
}

// LoadFile parses and validates a single workflow YAML file.
func LoadFile(path string) (*model.WorkflowDef, error) {
	// #nosec G304 -- workflow definitions are operator-provided local files.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, lferr.Wrap(lferr.KindConfigError, err, "read workflow file "+path)
	}
	var wf model.WorkflowDef
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, lferr.Wrap(lferr.KindConfigError, err, "parse workflow file "+path)
	}
	if strings.TrimSpace(wf.Name) == "" {
		return nil, lferr.New(lferr.KindConfigError, fmt.Sprintf("workflow file %s missing name", path))
	}
	if len(wf.Dags) == 0 {
		return nil, lferr.New(lferr.KindConfigError, fmt.Sprintf("workflow %s defines no dags", wf.Name))
	}
	seen := map[string]bool{}
	for _, dag := range wf.Dags {
		if seen[dag.Name] {
			return nil, lferr.New(lferr.KindDagValidation, fmt.Sprintf("workflow %s has duplicate dag %s", wf.Name, dag.Name))
		}
		seen[dag.Name] = true
		if _, err := dagmodel.Build(dag); err != nil {
			return nil, lferr.Wrap(lferr.KindDagCycle, err, fmt.Sprintf("workflow %s dag %s", wf.Name, dag.Name)).WithScope(dag.Name, "")
		}
	}
	return &wf, nil
}

// List summarizes every workflow discovered under dirs, sorted by
// name, for the `workflow list` CLI verb.
func List(dirs []string) ([]Summary, []error) {
	loaded, errs := LoadPaths(dirs)
	out := make([]Summary, 0, len(loaded))
	for name, wf := range loaded {
		out = append(out, Summary{Name: name, Description: wf.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, errs
}
