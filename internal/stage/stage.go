// Package stage holds the declarative descriptors for the pipeline stages.
//
// The engine has a single routine for running a stage; everything that
// differs between parse, transfer, generate and rephrase (processor mode,
// input table, key lineage, output columns) lives in stages.yaml.
package stage

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed stages.yaml
var stagesYAML []byte

//go:embed relations
var relations []byte

// ErrUnknownStage is returned by Lookup for names without a descriptor.
var ErrUnknownStage = errors.New("unknown stage")

// Role selects the processor mode for a stage.
type Role string

const (
	RoleParse    Role = "parse"
	RoleTransfer Role = "transfer"
	RoleGenerate Role = "generate"
)

// Input names the table and column a stage feeds to the processor.
type Input struct {
	Table  string `yaml:"table"`
	Column string `yaml:"column"`
}

// Descriptor describes one stage.
type Descriptor struct {
	Name        string   `yaml:"name"`
	Role        Role     `yaml:"role"`
	Prefix      string   `yaml:"prefix"`
	Flags       []string `yaml:"flags"`
	Diagnostics bool     `yaml:"diagnostics"`
	Input       Input    `yaml:"input"`
	Keys        []string `yaml:"keys"`
	Outputs     []string `yaml:"outputs"`
	Options     []string `yaml:"options"`
}

// InfoTable is the diagnostics table written by the stage.
func (d Descriptor) InfoTable() string { return d.Prefix + "-info" }

// ResultTable is the candidate table written by the stage.
func (d Descriptor) ResultTable() string { return d.Prefix + "-result" }

// IDColumn is the key column numbering candidates within one input row.
func (d Descriptor) IDColumn() string { return d.Prefix + "-id" }

// Accepts reports whether a stage-only option applies to this stage.
func (d Descriptor) Accepts(option string) bool {
	return slices.Contains(d.Options, option)
}

// Title is the capitalized stage name used in progress messages.
func (d Descriptor) Title() string {
	if d.Name == "" {
		return ""
	}
	return strings.ToUpper(d.Name[:1]) + d.Name[1:]
}

func (d Descriptor) validate() error {
	switch {
	case d.Name == "":
		return errors.New("descriptor without name")
	case d.Prefix == "":
		return fmt.Errorf("stage %s: prefix is required", d.Name)
	case d.Input.Table == "" || d.Input.Column == "":
		return fmt.Errorf("stage %s: input table and column are required", d.Name)
	case len(d.Keys) == 0:
		return fmt.Errorf("stage %s: at least one key column is required", d.Name)
	}
	switch d.Role {
	case RoleParse, RoleTransfer, RoleGenerate:
	default:
		return fmt.Errorf("stage %s: invalid role %q", d.Name, d.Role)
	}
	return nil
}

// Registry maps stage names to descriptors, preserving declaration order.
type Registry struct {
	byName map[string]Descriptor
	order  []string
}

type registryFile struct {
	Stages []Descriptor `yaml:"stages"`
}

// Load parses a YAML stage registry.
func Load(data []byte) (*Registry, error) {
	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse stage registry: %w", err)
	}
	r := &Registry{byName: make(map[string]Descriptor, len(rf.Stages))}
	for _, d := range rf.Stages {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("stage %s declared twice", d.Name)
		}
		r.byName[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the built-in registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		reg, err := Load(stagesYAML)
		if err != nil {
			panic(err)
		}
		defaultReg = reg
	})
	return defaultReg
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return d, nil
}

// Names lists stage names in declaration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Relations returns the relations schema written into every new profile.
func Relations() []byte {
	return slices.Clone(relations)
}
