package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed reports.yaml
var embeddedReports []byte

var (
	// ErrUnknownKind is returned for a kind that is not in the registry.
	ErrUnknownKind = errors.New("registry: unknown report kind")
	// ErrKindDisabled is returned for a catalog entry that is not available yet.
	ErrKindDisabled = errors.New("registry: report kind not available yet")
)

// Param describes one user-facing report parameter.
type Param struct {
	ID    string            `yaml:"id" json:"id"`
	Type  string            `yaml:"type" json:"type"`
	Label map[string]string `yaml:"label" json:"label,omitempty"`
	Min   int               `yaml:"min" json:"min,omitempty"`
	Max   int               `yaml:"max" json:"max,omitempty"`
}

// Report is the static configuration of one report kind.
type Report struct {
	ID          string            `yaml:"id" json:"id"`
	Enabled     bool              `yaml:"enabled" json:"enabled"`
	Icon        string            `yaml:"icon" json:"icon,omitempty"`
	Name        map[string]string `yaml:"name" json:"name"`
	Description map[string]string `yaml:"description" json:"description"`
	Params      []Param           `yaml:"params" json:"params"`

	Macro            string            `yaml:"macro" json:"-"`
	KindBinding      string            `yaml:"kind_binding" json:"-"`
	LastErrorBinding string            `yaml:"last_error_binding" json:"-"`
	Inputs           map[string]string `yaml:"inputs" json:"-"`
	Outputs          map[string]string `yaml:"outputs" json:"-"`
	Deliver          []string          `yaml:"deliver" json:"-"`
}

// Bindings lists every binding the document must define for this report.
// The kind and last-error bindings are optional and not included.
func (r Report) Bindings() []string {
	names := make([]string, 0, len(r.Inputs)+len(r.Outputs))
	for name := range r.Inputs {
		names = append(names, name)
	}
	for _, name := range r.Outputs {
		names = append(names, name)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// Parameters maps input binding names to their values for one request.
func (r Report) Parameters(year, week int) map[string]any {
	values := map[string]any{"year": year, "week": week}
	out := make(map[string]any, len(r.Inputs))
	for binding, paramID := range r.Inputs {
		if v, ok := values[paramID]; ok {
			out[binding] = v
		}
	}
	return out
}

// Registry is a read-only set of report configurations keyed by kind.
type Registry struct {
	reports map[string]Report
	order   []string
}

type document struct {
	Reports []Report `yaml:"reports"`
}

// Default returns the registry compiled into the binary.
func Default() (*Registry, error) {
	return Parse(embeddedReports)
}

// Load reads a registry from a YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates registry YAML.
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	reg := &Registry{reports: make(map[string]Report, len(doc.Reports))}
	for _, rep := range doc.Reports {
		if rep.ID == "" {
			return nil, errors.New("registry: report without id")
		}
		if _, dup := reg.reports[rep.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate report %q", rep.ID)
		}
		if rep.Enabled {
			if err := validateEnabled(rep); err != nil {
				return nil, err
			}
		}
		if rep.Params == nil {
			rep.Params = []Param{}
		}
		reg.reports[rep.ID] = rep
		reg.order = append(reg.order, rep.ID)
	}
	return reg, nil
}

func validateEnabled(rep Report) error {
	if rep.Macro == "" {
		return fmt.Errorf("registry: report %q has no macro", rep.ID)
	}
	if len(rep.Outputs) == 0 {
		return fmt.Errorf("registry: report %q has no outputs", rep.ID)
	}
	if len(rep.Deliver) == 0 {
		return fmt.Errorf("registry: report %q delivers nothing", rep.ID)
	}
	for _, out := range rep.Deliver {
		if _, ok := rep.Outputs[out]; !ok {
			return fmt.Errorf("registry: report %q delivers undeclared output %q", rep.ID, out)
		}
	}
	return nil
}

// Lookup resolves an enabled report kind.
func (r *Registry) Lookup(kind string) (Report, error) {
	rep, ok := r.reports[kind]
	if !ok {
		return Report{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if !rep.Enabled {
		return Report{}, fmt.Errorf("%w: %q", ErrKindDisabled, kind)
	}
	return rep, nil
}

// Catalog returns every report, enabled or upcoming, in file order.
func (r *Registry) Catalog() []Report {
	out := make([]Report, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.reports[id])
	}
	return out
}

// Kinds returns the ids of enabled reports in file order.
func (r *Registry) Kinds() []string {
	var kinds []string
	for _, id := range r.order {
		if r.reports[id].Enabled {
			kinds = append(kinds, id)
		}
	}
	return kinds
}
