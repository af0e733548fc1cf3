package model

import (
	"fmt"
	"os"
	"reflect"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ledgerline/depgraph/pkg/graph"
)

// Scenario is a named set of what-if overrides and the nodes to read under them.
type Scenario struct {
	Name        string     `yaml:"name" validate:"required"`
	Description string     `yaml:"description,omitempty"`
	Overrides   []Override `yaml:"overrides" validate:"dive"`
	Reads       []Read     `yaml:"reads" validate:"required,min=1,dive"`
}

// Override replaces the value of one node inside the scenario.
type Override struct {
	Entity string `yaml:"entity" validate:"required"`
	Attr   string `yaml:"attr" validate:"required"`
	Value  any    `yaml:"value"`
}

// Read names a node whose value is reported with and without the scenario.
type Read struct {
	Entity string         `yaml:"entity" validate:"required"`
	Attr   string         `yaml:"attr" validate:"required"`
	Args   []any          `yaml:"args,omitempty"`
	Kw     map[string]any `yaml:"kw,omitempty"`
}

func (r Read) args() []any {
	args := append([]any(nil), r.Args...)
	if len(r.Kw) > 0 {
		args = append(args, graph.Kw(r.Kw))
	}
	return args
}

// Result holds a read's value on the base graph and under the scenario.
type Result struct {
	Entity   string `json:"entity"`
	Attr     string `json:"attr"`
	Args     []any  `json:"args,omitempty"`
	Base     any    `json:"base"`
	Scenario any    `json:"scenario"`
	Changed  bool   `json:"changed"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := validator.New().Struct(sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// Evaluate reads every node on the session's active graph, then again inside
// a scope holding the overrides. The active graph is left as it was.
func (sc *Scenario) Evaluate(s *graph.Session) ([]Result, error) {
	results := make([]Result, len(sc.Reads))
	for i, r := range sc.Reads {
		v, err := s.GetVal(r.Entity, r.Attr, r.args()...)
		if err != nil {
			return nil, fmt.Errorf("base read %s.%s: %w", r.Entity, r.Attr, err)
		}
		results[i] = Result{Entity: r.Entity, Attr: r.Attr, Args: r.Args, Base: v}
	}

	scope := s.NewScope(sc.Name)
	for _, o := range sc.Overrides {
		if err := scope.ChangeValue(o.Entity, o.Attr, o.Value); err != nil {
			return nil, fmt.Errorf("override %s.%s: %w", o.Entity, o.Attr, err)
		}
	}

	err := s.WithScope(scope, func() error {
		for i, r := range sc.Reads {
			v, err := s.GetVal(r.Entity, r.Attr, r.args()...)
			if err != nil {
				return fmt.Errorf("scenario read %s.%s: %w", r.Entity, r.Attr, err)
			}
			results[i].Scenario = v
			results[i].Changed = !reflect.DeepEqual(results[i].Base, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
