package pipeline

import (
	"context"
	"fmt"
	"strings"
)

// Publisher pushes the assembled post to the tenant's site and returns the
// public URL. The WordPress client implements this in deployments; the stock
// sitePublisher only derives the canonical URL.
type Publisher interface {
	Publish(ctx context.Context, in StepInput) (string, error)
}

// DeployStep is the terminal publish stage, registered as "deployer". It only
// runs once the review gate and the auto-publish/approval check have passed.
type DeployStep struct {
	publisher Publisher
}

// NewDeployStep wraps a publisher as a pipeline step.
func NewDeployStep(p Publisher) *DeployStep {
	return &DeployStep{publisher: p}
}

func (d *DeployStep) Name() string { return "deployer" }

// Run checks its own prior artifact first so a retried publish never pushes
// the same post twice.
func (d *DeployStep) Run(ctx context.Context, in StepInput) (StepResult, error) {
	if prior, ok := in.Artifacts["deployer"]; ok {
		if url, ok := prior.Data["published_url"].(string); ok && url != "" {
			return StepResult{
				Data:      prior.Data,
				Reasoning: "deployer reused prior publish result",
			}, nil
		}
	}

	if _, ok := in.Artifacts["mosaic"]; !ok {
		return StepResult{}, Permanent(fmt.Errorf("deployer: no assembled post artifact"))
	}

	url, err := d.publisher.Publish(ctx, in)
	if err != nil {
		return StepResult{}, fmt.Errorf("publish: %w", err)
	}

	return StepResult{
		Data:      map[string]any{"published_url": url},
		Reasoning: fmt.Sprintf("deployer published %q", in.Item.Title),
	}, nil
}

type sitePublisher struct{}

// NewSitePublisher returns the default publisher, which derives the post URL
// from the tenant domain and the SEO slug.
func NewSitePublisher() Publisher {
	return &sitePublisher{}
}

func (p *sitePublisher) Publish(_ context.Context, in StepInput) (string, error) {
	domain := strings.TrimSuffix(in.Tenant.DomainURL, "/")
	if domain == "" {
		return "", Permanent(fmt.Errorf("tenant %s has no domain_url", in.Item.TenantID))
	}

	slug := Slugify(in.Item.Title)
	if seo, ok := in.Artifacts["lens"]; ok {
		if s, ok := seo.Data["slug"].(string); ok && s != "" {
			slug = s
		}
	}
	return fmt.Sprintf("%s/posts/%s", domain, slug), nil
}
