package pipeline

import (
	"context"
	"errors"
	"testing"

	"content-pipeline-engine/internal/models"
)

type countingPublisher struct {
	calls int
	url   string
	err   error
}

func (p *countingPublisher) Publish(_ context.Context, _ StepInput) (string, error) {
	p.calls++
	return p.url, p.err
}

func TestDeployStepPublishesAssembledPost(t *testing.T) {
	pub := &countingPublisher{url: "https://acme.example.com/posts/edge-caching-for-busy-sites"}
	step := NewDeployStep(pub)

	in := StepInput{
		Item:   testItem(),
		Tenant: testTenant(),
		Artifacts: map[string]models.Artifact{
			"mosaic": {StepName: "mosaic", Data: map[string]any{"post": map[string]any{}}},
		},
	}
	res, err := step.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Data["published_url"] != pub.url {
		t.Fatalf("published_url: %v", res.Data["published_url"])
	}
	if pub.calls != 1 {
		t.Fatalf("publisher called %d times", pub.calls)
	}
}

func TestDeployStepReusesPriorPublish(t *testing.T) {
	// A retried deploy after a crash must not publish twice.
	pub := &countingPublisher{url: "https://acme.example.com/posts/x"}
	step := NewDeployStep(pub)

	in := StepInput{
		Item:   testItem(),
		Tenant: testTenant(),
		Artifacts: map[string]models.Artifact{
			"mosaic":   {StepName: "mosaic", Data: map[string]any{"post": map[string]any{}}},
			"deployer": {StepName: "deployer", Data: map[string]any{"published_url": "https://acme.example.com/posts/x"}},
		},
	}
	res, err := step.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if pub.calls != 0 {
		t.Fatalf("publisher must not be called again, got %d calls", pub.calls)
	}
	if res.Data["published_url"] != "https://acme.example.com/posts/x" {
		t.Fatalf("published_url: %v", res.Data["published_url"])
	}
}

func TestDeployStepRequiresAssembly(t *testing.T) {
	step := NewDeployStep(&countingPublisher{})
	in := StepInput{Item: testItem(), Tenant: testTenant(), Artifacts: map[string]models.Artifact{}}

	_, err := step.Run(context.Background(), in)
	if err == nil || !IsPermanent(err) {
		t.Fatalf("expected permanent error without mosaic artifact, got %v", err)
	}
}

func TestDeployStepWrapsPublisherError(t *testing.T) {
	pubErr := errors.New("wordpress 502")
	step := NewDeployStep(&countingPublisher{err: pubErr})
	in := StepInput{
		Item:   testItem(),
		Tenant: testTenant(),
		Artifacts: map[string]models.Artifact{
			"mosaic": {StepName: "mosaic", Data: map[string]any{"post": map[string]any{}}},
		},
	}

	_, err := step.Run(context.Background(), in)
	if !errors.Is(err, pubErr) {
		t.Fatalf("expected wrapped publisher error, got %v", err)
	}
	if IsPermanent(err) {
		t.Fatalf("transport errors are retryable")
	}
}

func TestSitePublisherDerivesURL(t *testing.T) {
	pub := NewSitePublisher()
	in := StepInput{
		Item:   testItem(),
		Tenant: testTenant(),
		Artifacts: map[string]models.Artifact{
			"lens": {StepName: "lens", Data: map[string]any{"slug": "custom-slug"}},
		},
	}
	url, err := pub.Publish(context.Background(), in)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if url != "https://acme.example.com/posts/custom-slug" {
		t.Fatalf("url: %q", url)
	}
}

func TestSitePublisherFallsBackToTitleSlug(t *testing.T) {
	pub := NewSitePublisher()
	in := StepInput{Item: testItem(), Tenant: testTenant()}
	url, err := pub.Publish(context.Background(), in)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if url != "https://acme.example.com/posts/edge-caching-for-busy-sites" {
		t.Fatalf("url: %q", url)
	}
}

func TestSitePublisherRequiresDomain(t *testing.T) {
	pub := NewSitePublisher()
	in := StepInput{Item: testItem(), Tenant: models.Tenant{ID: "t1"}}
	_, err := pub.Publish(context.Background(), in)
	if err == nil || !IsPermanent(err) {
		t.Fatalf("expected permanent error for missing domain, got %v", err)
	}
}
