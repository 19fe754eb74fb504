// Package workload holds the immutable catalog of workload programs the
// orchestrator knows how to launch.
package workload

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownWorkload = errors.New("unknown workload")

// CommandTemplate is the base argv of a workload, before per-launch flags.
type CommandTemplate struct {
	program string
	args    []string
}

func NewCommandTemplate(program string, args ...string) CommandTemplate {
	return CommandTemplate{program: program, args: append([]string(nil), args...)}
}

func (c CommandTemplate) Program() string {
	return c.program
}

// Args returns a copy of the template arguments.
func (c CommandTemplate) Args() []string {
	return append([]string(nil), c.args...)
}

// Argv returns program followed by arguments, as a fresh slice.
func (c CommandTemplate) Argv() []string {
	return append([]string{c.program}, c.args...)
}

type Spec struct {
	Name    string
	Command CommandTemplate
}

// Registry maps workload identifiers to command templates. It is built once
// and never mutated afterwards.
type Registry struct {
	specs map[string]Spec
	order []string
}

func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("workload name is required")
		}
		if s.Command.Program() == "" {
			return nil, fmt.Errorf("workload %s: program is required", s.Name)
		}
		if _, dup := r.specs[s.Name]; dup {
			return nil, fmt.Errorf("workload %s defined twice", s.Name)
		}
		r.specs[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	return r, nil
}

// MustRegistry is NewRegistry for static catalogs.
func MustRegistry(specs ...Spec) *Registry {
	r, err := NewRegistry(specs...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Lookup(name string) (Spec, error) {
	s, ok := r.specs[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownWorkload, name)
	}
	return s, nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.specs[name]
	return ok
}

// Names returns workload names in definition order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// SortedNames returns workload names in lexical order.
func (r *Registry) SortedNames() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	return len(r.specs)
}
