package playbook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// LoadTemplates reads every *.yaml / *.yml template definition under dir.
// YAML is coerced to JSON so the templates share the entity json tags and
// unknown keys are rejected.
func LoadTemplates(dir string) ([]*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("template dir: %w", err)
	}

	var out []*Template
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		tpl, err := parseTemplate(b)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		out = append(out, tpl)
	}
	return out, nil
}

func parseTemplate(b []byte) (*Template, error) {
	var v any
	if err := yaml.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	jb, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, err
	}

	var tpl Template
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&tpl); err != nil {
		return nil, err
	}
	if err := validateTemplate(&tpl); err != nil {
		return nil, err
	}

	if tpl.Version <= 0 {
		tpl.Version = 1
	}
	now := time.Now()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	if tpl.UpdatedAt.IsZero() {
		tpl.UpdatedAt = now
	}
	return &tpl, nil
}

func validateTemplate(tpl *Template) error {
	if strings.TrimSpace(tpl.ID) == "" {
		return fmt.Errorf("missing id")
	}
	if strings.TrimSpace(tpl.Name) == "" {
		return fmt.Errorf("missing name")
	}
	if len(tpl.Steps) == 0 {
		return fmt.Errorf("template has no steps")
	}

	seen := map[string]bool{}
	for i := range tpl.Steps {
		st := &tpl.Steps[i]
		if strings.TrimSpace(st.ID) == "" {
			return fmt.Errorf("step %d: missing id", i)
		}
		if seen[st.ID] {
			return fmt.Errorf("duplicate step id %q", st.ID)
		}
		seen[st.ID] = true
		if st.Kind == "" {
			st.Kind = StepKindTask
		}
		switch st.Kind {
		case StepKindTask, StepKindChecklist, StepKindUpdate, StepKindNotification:
		default:
			return fmt.Errorf("step %q: unknown kind %q", st.ID, st.Kind)
		}
		// Seeds always describe unstarted steps.
		st.Status = StepPending
		st.CompletedAt = nil
	}
	return nil
}

// normalizeYAML ensures all map keys are strings so the value can be
// JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
