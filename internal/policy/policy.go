// Package policy decides which approval roles a permit requires.
//
// Policies are YAML documents:
//
//	default: [Area_Manager, Safety_Officer]
//	rules:
//	  - name: hot work needs the site lead
//	    when: permit.type == "Hot_Work"
//	    require: [Site_Lead]
//
// Conditions are CEL expressions over the map variable permit with the keys
// type, site_id, vendor_id, location and duration_hours.
package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"safeworks.org/ptw/internal/permit"
)

// DefaultRoles apply when no policy file is configured.
var DefaultRoles = []permit.ApproverRole{permit.RoleAreaManager, permit.RoleSafetyOfficer}

// Rule adds roles when its condition holds.
type Rule struct {
	Name    string                `yaml:"name"`
	When    string                `yaml:"when"`
	Require []permit.ApproverRole `yaml:"require"`
}

// Document is the YAML shape of a policy.
type Document struct {
	Default []permit.ApproverRole `yaml:"default"`
	Rules   []Rule                `yaml:"rules"`
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// Engine evaluates a compiled policy. It is safe for concurrent use.
type Engine struct {
	defaults []permit.ApproverRole
	rules    []compiledRule
}

// Default returns an engine that always requires DefaultRoles.
func Default() *Engine {
	return &Engine{defaults: DefaultRoles}
}

// Load reads a policy file. An empty path yields Default.
func Load(path string) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read approval policy: %w", err)
	}
	return Parse(data)
}

// Parse compiles a YAML policy. Any invalid role or expression fails the whole document.
func Parse(data []byte) (*Engine, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode approval policy: %w", err)
	}
	return Compile(doc)
}

// Compile validates roles and compiles every rule condition.
func Compile(doc Document) (*Engine, error) {
	if len(doc.Default) == 0 {
		doc.Default = DefaultRoles
	}
	if err := checkRoles("default", doc.Default); err != nil {
		return nil, err
	}

	env, err := cel.NewEnv(
		cel.Variable("permit", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{defaults: permit.SortRoles(doc.Default)}
	for i, r := range doc.Rules {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rule %d", i+1)
		}
		if strings.TrimSpace(r.When) == "" {
			return nil, fmt.Errorf("%s: when is required", name)
		}
		if len(r.Require) == 0 {
			return nil, fmt.Errorf("%s: require is empty", name)
		}
		if err := checkRoles(name, r.Require); err != nil {
			return nil, err
		}
		ast, issues := env.Compile(r.When)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("%s: compile: %w", name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
			return nil, fmt.Errorf("%s: condition must be boolean, got %s", name, ast.OutputType())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("%s: program: %w", name, err)
		}
		r.Name = name
		e.rules = append(e.rules, compiledRule{Rule: r, prg: prg})
	}
	return e, nil
}

func checkRoles(where string, roles []permit.ApproverRole) error {
	for _, r := range roles {
		if !r.Valid() {
			return fmt.Errorf("%s: unknown approval role %q", where, r)
		}
	}
	return nil
}

// Vars is the CEL activation for a permit.
func Vars(p *permit.Permit) map[string]any {
	var vendor int64
	if p.VendorID != nil {
		vendor = *p.VendorID
	}
	return map[string]any{
		"type":           string(p.Type),
		"site_id":        p.SiteID,
		"vendor_id":      vendor,
		"location":       p.Location,
		"duration_hours": p.DurationHours(),
	}
}

// RequiredRoles returns the default roles plus those of every matching rule, in canonical order.
func (e *Engine) RequiredRoles(_ context.Context, p *permit.Permit) ([]permit.ApproverRole, error) {
	if p == nil {
		return nil, errors.New("permit is required")
	}
	roles := append([]permit.ApproverRole(nil), e.defaults...)
	if len(e.rules) == 0 {
		return roles, nil
	}
	input := map[string]any{"permit": Vars(p)}
	for _, r := range e.rules {
		out, _, err := r.prg.Eval(input)
		if err != nil {
			return nil, fmt.Errorf("%s: evaluate: %w", r.Name, err)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("%s: condition returned %T", r.Name, out.Value())
		}
		if matched {
			roles = append(roles, r.Require...)
		}
	}
	return permit.SortRoles(roles), nil
}
