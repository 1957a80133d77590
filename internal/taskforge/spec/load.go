package spec

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ValidationError reports every semantic problem found in a project document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid project spec: " + strings.Join(e.Problems, "; ")
}

// Load reads, schema-checks, decodes, defaults and validates a project spec.
// Files ending in .json are decoded as JSON; everything else as YAML.
func Load(path string) (*Project, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	p, err := Parse(b, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse is Load over an in-memory document.
func Parse(b []byte, format string) (*Project, error) {
	if err := checkSchema(b, format); err != nil {
		return nil, err
	}
	var p Project
	switch format {
	case "json":
		if err := decodeJSONStrict(b, &p); err != nil {
			return nil, err
		}
	default:
		if err := decodeYAMLStrict(b, &p); err != nil {
			return nil, err
		}
	}
	ApplyDefaults(&p)
	if err := Validate(&p); err != nil {
		return nil, err
	}
	p.Fingerprint = Fingerprint(b)
	return &p, nil
}

// Fingerprint is a short blake3 digest identifying a spec document.
func Fingerprint(b []byte) string {
	h := blake3.New()
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil)[:12])
}

func decodeJSONStrict(b []byte, p *Project) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, p *Project) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil {
		if err == io.EOF {
			return fmt.Errorf("yaml: empty document")
		}
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

var (
	schemaOnce sync.Once
	schemaVal  *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, strings.NewReader(projectSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaVal, schemaErr = c.Compile(schemaURL)
	})
	return schemaVal, schemaErr
}

// checkSchema validates the raw document against the embedded JSON schema.
// YAML is normalized through JSON so the validator sees plain JSON values.
func checkSchema(b []byte, format string) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var raw any
	if format == "json" {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	} else {
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return err
		}
		jb, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("yaml: %w", err)
		}
		raw = nil
		if err := json.Unmarshal(jb, &raw); err != nil {
			return err
		}
	}
	if raw == nil {
		return fmt.Errorf("empty project spec")
	}
	if err := sch.Validate(raw); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func ApplyDefaults(p *Project) {
	if p == nil {
		return
	}
	if strings.TrimSpace(p.Version) == "" {
		p.Version = "1.0"
	}
	if strings.TrimSpace(p.Project.Name) == "" {
		p.Project.Name = "my-project"
	}
	if strings.TrimSpace(p.Project.RepoRoot) == "" {
		p.Project.RepoRoot = "."
	}
	if strings.TrimSpace(p.Defaults.Backend) == "" {
		p.Defaults.Backend = "noop"
	}
	if p.Defaults.WorkspaceMode == "" {
		p.Defaults.WorkspaceMode = WorkspacePatch
	}
	if p.Policies.ScopeGuard == "" {
		p.Policies.ScopeGuard = ScopeWarn
	}
	if p.Setup.TimeoutSeconds <= 0 {
		p.Setup.TimeoutSeconds = 300
	}
	if strings.TrimSpace(p.Artifacts.RootDir) == "" {
		p.Artifacts.RootDir = filepath.Join(".taskforge", "artifacts")
	}
}

// Validate checks references and enum values. Graph shape (duplicates,
// missing deps, cycles) is left to the graph builder so that it can report
// typed errors.
func Validate(p *Project) error {
	if p == nil {
		return fmt.Errorf("project is nil")
	}
	var problems []string
	switch p.Defaults.WorkspaceMode {
	case WorkspacePatch, WorkspaceWorktree:
	default:
		problems = append(problems, fmt.Sprintf("defaults.workspace_mode: unsupported %q", p.Defaults.WorkspaceMode))
	}
	switch p.Policies.ScopeGuard {
	case ScopeOff, ScopeWarn, ScopeBlock:
	default:
		problems = append(problems, fmt.Sprintf("policies.scope_guard: unsupported %q", p.Policies.ScopeGuard))
	}
	seen := map[string]bool{}
	for i, v := range p.Validators {
		if strings.TrimSpace(v.ID) == "" {
			problems = append(problems, fmt.Sprintf("validators[%d].id is required", i))
			continue
		}
		if seen[v.ID] {
			problems = append(problems, fmt.Sprintf("validators[%d]: duplicate id %q", i, v.ID))
		}
		seen[v.ID] = true
		if strings.TrimSpace(v.Run) == "" {
			problems = append(problems, fmt.Sprintf("validator %q: run is required", v.ID))
		}
	}
	for _, id := range p.Defaults.Validators {
		if !seen[id] {
			problems = append(problems, fmt.Sprintf("defaults.validators: unknown validator %q", id))
		}
	}
	for i, t := range p.Tasks {
		if strings.TrimSpace(t.ID) == "" {
			problems = append(problems, fmt.Sprintf("tasks[%d].id is required", i))
			continue
		}
		for _, id := range t.Validators {
			if !seen[id] {
				problems = append(problems, fmt.Sprintf("task %q: unknown validator %q", t.ID, id))
			}
		}
		if s := t.Sprint; s != nil {
			if s.Size != "" && !validSize(s.Size) {
				problems = append(problems, fmt.Sprintf("task %q: unsupported sprint size %q", t.ID, s.Size))
			}
			if s.Intent != "" && !validIntent(s.Intent) {
				problems = append(problems, fmt.Sprintf("task %q: unsupported sprint intent %q", t.ID, s.Intent))
			}
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func validSize(s SprintSize) bool {
	switch s {
	case SizeXS, SizeS, SizeM, SizeL, SizeXL:
		return true
	}
	return false
}

func validIntent(i SprintIntent) bool {
	switch i {
	case IntentFix, IntentFeature, IntentRefactor, IntentInfra:
		return true
	}
	return false
}
