package pipeline

import (
	"context"
	"fmt"

	"content-pipeline-engine/internal/config"
)

// Registry resolves step names to implementations. Step dispatch goes through
// the registry only; there is no string branching at execution time.
type Registry struct {
	steps map[string]Step
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]Step)}
}

// Register binds a step implementation under its name. Later registrations
// replace earlier ones, which lets deployments swap a builtin for a custom
// implementation.
func (r *Registry) Register(s Step) {
	if s == nil || s.Name() == "" {
		return
	}
	r.steps[s.Name()] = s
}

// Resolve looks up a step by name.
func (r *Registry) Resolve(name string) (Step, bool) {
	s, ok := r.steps[name]
	return s, ok
}

// Builtin registers the stock agent steps, the media renderer, and the
// publisher. The media step picks S3 or local output from config.
func Builtin(ctx context.Context, cfg config.Config) (*Registry, error) {
	r := NewRegistry()

	for _, s := range agentSteps() {
		r.Register(s)
	}

	media, err := NewMediaStep(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init media step: %w", err)
	}
	r.Register(media)
	r.Register(NewDeployStep(NewSitePublisher()))

	return r, nil
}
