// Package source provides configuration source abstractions and implementations
package source

import (
	"letmego-core/internal/config/schema"
)

// Source is a layer of configuration. Layers are applied in ascending
// priority; each one overrides only what it actually specifies.
type Source interface {
	Name() string
	Priority() int
	LoadInto(cfg *schema.Root) error
}

// Built-in priorities
const (
	PriorityDefaults = 1
	PriorityYAML     = 2
	PriorityEnv      = 3
	PriorityFlags    = 4 // command line overrides
)

// ByPriority sorts sources so the most important one is applied last
type ByPriority []Source

func (a ByPriority) Len() int           { return len(a) }
func (a ByPriority) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a ByPriority) Less(i, j int) bool { return a[i].Priority() < a[j].Priority() }

// FuncSource adapts a function to Source, used for command line flags
type FuncSource struct {
	name     string
	priority int
	apply    func(cfg *schema.Root) error
}

// NewFuncSource creates a source that calls apply when loaded
func NewFuncSource(name string, priority int, apply func(cfg *schema.Root) error) *FuncSource {
	return &FuncSource{name: name, priority: priority, apply: apply}
}

// Name returns the source name
func (s *FuncSource) Name() string { return s.name }

// Priority returns the source priority
func (s *FuncSource) Priority() int { return s.priority }

// LoadInto applies the function; a nil function is a no-op
func (s *FuncSource) LoadInto(cfg *schema.Root) error {
	if s.apply == nil {
		return nil
	}
	return s.apply(cfg)
}
