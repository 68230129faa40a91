// Package workflow holds the declarative step graph for each workflow
// type, loaded from a YAML resource rather than encoded in control flow,
// and the name→Definition registry that replaces import-by-name dispatch.
package workflow

import (
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Step is one entry in a workflow definition.
type Step struct {
	ActivityType     string         `yaml:"activity_type"`
	ActivityID       string         `yaml:"activity_id"`
	Input            map[string]any `yaml:"input,omitempty"`
	HeartbeatTimeout time.Duration  `yaml:"heartbeat_timeout"`
	ScheduleToStart  time.Duration  `yaml:"schedule_to_start"`
	ScheduleToClose  time.Duration  `yaml:"schedule_to_close"`
	StartToClose     time.Duration  `yaml:"start_to_close"`
	Control          map[string]any `yaml:"control,omitempty"`
}

// Definition is the ordered step graph for one workflow type. The core
// spec requires only linear sequencing; Steps is deliberately a flat slice
// rather than a graph so the decider need only track a position, not
// traverse edges — branching is a possible future extension the decider's
// structure permits but this module does not require.
type Definition struct {
	Name                    string        `yaml:"name"`
	DefaultExecutionTimeout time.Duration `yaml:"default_execution_timeout"`
	Steps                   []Step        `yaml:"steps"`
}

// file mirrors the top-level shape of the YAML resource: a list of
// workflow definitions keyed implicitly by Name.
type file struct {
	Workflows []Definition `yaml:"workflows"`
}

// Registry is the name→Definition map populated once at program start.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]Definition)}
}

// Register adds or replaces one definition.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[def.Name] = def
}

// Lookup returns the definition for name, or ok=false if unknown. An
// unknown workflow type causes the decider to fail that workflow execution
// and log — never to crash the poll loop.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[name]
	return def, ok
}

// LoadFromYAML parses a resource of the documented shape and registers
// every workflow it contains.
func LoadFromYAML(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("workflow: parse definitions: %w", err)
	}
	reg := NewRegistry()
	for _, def := range f.Workflows {
		if def.Name == "" {
			return nil, fmt.Errorf("workflow: definition with no name")
		}
		reg.Register(def)
	}
	return reg, nil
}

// StepAt returns the step at position idx, or ok=false if idx is out of
// range (meaning the workflow has no more steps to schedule).
func (d Definition) StepAt(idx int) (Step, bool) {
	if idx < 0 || idx >= len(d.Steps) {
		return Step{}, false
	}
	return d.Steps[idx], true
}
