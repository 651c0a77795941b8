package pipeline

import (
	"context"
	"strings"
	"testing"

	"content-pipeline-engine/internal/models"
)

func testItem() models.ContentItem {
	return models.ContentItem{ID: 7, TenantID: "t1", Title: "Edge Caching for Busy Sites"}
}

func testTenant() models.Tenant {
	return models.Tenant{
		ID:           "t1",
		BusinessName: "Acme Hosting",
		BrandVoice:   "authoritative but friendly",
		ICPProfile:   "platform engineers",
		DomainURL:    "https://acme.example.com/",
	}
}

// runChain executes the agent steps in order, feeding each step the artifacts
// the earlier ones produced, the way the executor does against the store.
func runChain(t *testing.T, steps []Step, in StepInput) map[string]models.Artifact {
	t.Helper()
	artifacts := make(map[string]models.Artifact)
	for _, s := range steps {
		in.Artifacts = artifacts
		res, err := s.Run(context.Background(), in)
		if err != nil {
			t.Fatalf("step %s: %v", s.Name(), err)
		}
		if res.TokenUsage <= 0 {
			t.Fatalf("step %s: no token usage recorded", s.Name())
		}
		artifacts[s.Name()] = models.Artifact{
			QueueID: in.Item.ID, StepName: s.Name(), Data: res.Data,
		}
	}
	return artifacts
}

func TestAgentStepsComposeChain(t *testing.T) {
	in := StepInput{Item: testItem(), Tenant: testTenant()}
	artifacts := runChain(t, agentSteps(), in)

	research := artifacts["nexus"].Data
	if research["topic"] != in.Item.Title {
		t.Fatalf("nexus topic: %v", research["topic"])
	}

	angle := artifacts["vantage"].Data
	if angle["angle"] != "expert deep dive" {
		t.Fatalf("authoritative voice should pick the deep dive angle, got %v", angle["angle"])
	}

	outline := stringSlice(artifacts["vertex"].Data["sections"])
	if len(outline) < 3 || outline[0] != "Introduction" || outline[len(outline)-1] != "Conclusion" {
		t.Fatalf("outline sections: %v", outline)
	}

	body, _ := artifacts["hemingway"].Data["body"].(string)
	if !strings.HasPrefix(body, "# "+in.Item.Title) {
		t.Fatalf("draft must open with the title heading")
	}
	for _, section := range outline {
		if !strings.Contains(body, "## "+section) {
			t.Fatalf("draft missing section %q", section)
		}
	}

	seo := artifacts["lens"].Data
	if seo["slug"] != "edge-caching-for-busy-sites" {
		t.Fatalf("seo slug: %v", seo["slug"])
	}

	post, _ := artifacts["mosaic"].Data["post"].(map[string]any)
	if post == nil {
		t.Fatalf("mosaic produced no post")
	}
	if post["slug"] != "edge-caching-for-busy-sites" {
		t.Fatalf("assembled post slug: %v", post["slug"])
	}
	if post["blocks"] == nil {
		t.Fatalf("assembled post has no layout blocks")
	}
}

func TestAgentStepEmptyTitleIsPermanent(t *testing.T) {
	in := StepInput{Item: models.ContentItem{ID: 1, TenantID: "t1"}, Tenant: testTenant()}
	for _, s := range agentSteps() {
		_, err := s.Run(context.Background(), in)
		if err == nil {
			t.Fatalf("step %s: expected error for empty title", s.Name())
		}
		if !IsPermanent(err) {
			t.Fatalf("step %s: empty title must not be retried", s.Name())
		}
	}
}

func TestPermanentWrapping(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatalf("Permanent(nil) must stay nil")
	}
	err := Permanent(context.DeadlineExceeded)
	if !IsPermanent(err) {
		t.Fatalf("expected permanent")
	}
	if IsPermanent(context.DeadlineExceeded) {
		t.Fatalf("unwrapped error is not permanent")
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Edge Caching for Busy Sites", "edge-caching-for-busy-sites"},
		{"  Leading & trailing!  ", "leading-trailing"},
		{"Go 1.23: What's New?", "go-1-23-what-s-new"},
		{"---", ""},
		{"Ünïcode Tîtle", "ünïcode-tîtle"},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Errorf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestKeywordsFromTitle(t *testing.T) {
	got := keywordsFromTitle("The Art of Edge Caching, Fast")
	want := []string{"edge", "caching", "fast"}
	if len(got) != len(want) {
		t.Fatalf("keywords %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keywords %v, want %v", got, want)
		}
	}
}
