package pipeline

import (
	"fmt"
	"time"

	"content-pipeline-engine/internal/config"
)

// StepDef is one configured stage of the pipeline.
type StepDef struct {
	Name    string
	Retries int
	Timeout time.Duration
	// Gate requires human approval before this step executes.
	Gate bool
	// Publish additionally requires the tenant auto_publish flag or a
	// manual approve action before this step executes.
	Publish bool
}

// Definition is the ordered list of steps every content item moves through.
// The step sequence is configuration, not user-authored workflow.
type Definition struct {
	Steps []StepDef
}

// Len returns the pipeline length N. current_step ranges over 0..N inclusive.
func (d Definition) Len() int { return len(d.Steps) }

// Names returns the step names in execution order.
func (d Definition) Names() []string {
	names := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		names[i] = s.Name
	}
	return names
}

// Index returns the position of a step name, or -1 when not part of the
// pipeline.
func (d Definition) Index(name string) int {
	for i, s := range d.Steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// NamesFrom returns the names of all steps at index k or later. Used to
// invalidate artifacts when an item is retried from an earlier step.
func (d Definition) NamesFrom(k int) []string {
	if k < 0 {
		k = 0
	}
	if k >= len(d.Steps) {
		return nil
	}
	return d.Names()[k:]
}

// FromConfig builds the pipeline definition from configuration, checking that
// every configured step resolves in the registry.
func FromConfig(cfg config.Config, reg *Registry) (Definition, error) {
	if len(cfg.PipelineSteps) == 0 {
		return Definition{}, fmt.Errorf("pipeline has no steps configured")
	}

	gates := make(map[string]bool, len(cfg.ReviewGates))
	for _, g := range cfg.ReviewGates {
		gates[g] = true
	}

	def := Definition{Steps: make([]StepDef, 0, len(cfg.PipelineSteps))}
	for _, name := range cfg.PipelineSteps {
		if _, ok := reg.Resolve(name); !ok {
			return Definition{}, fmt.Errorf("unknown pipeline step %q", name)
		}
		def.Steps = append(def.Steps, StepDef{
			Name:    name,
			Retries: cfg.StepRetries,
			Timeout: cfg.StepTimeout,
			Gate:    gates[name],
			Publish: name == cfg.PublishStep,
		})
	}

	for g := range gates {
		if def.Index(g) < 0 {
			return Definition{}, fmt.Errorf("review gate %q is not a pipeline step", g)
		}
	}
	if cfg.PublishStep != "" && def.Index(cfg.PublishStep) < 0 {
		return Definition{}, fmt.Errorf("publish step %q is not a pipeline step", cfg.PublishStep)
	}

	return def, nil
}
