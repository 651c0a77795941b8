package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// agentStep is a builtin authoring stage. The model invocation itself lives
// behind the compose function; the engine only sees the step contract. The
// stock compose functions synthesize deterministic content so the pipeline is
// fully runnable without model credentials.
type agentStep struct {
	name    string
	role    string
	compose func(in StepInput) map[string]any
}

func (s *agentStep) Name() string { return s.name }

func (s *agentStep) Run(ctx context.Context, in StepInput) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	if in.Item.Title == "" {
		return StepResult{}, Permanent(fmt.Errorf("%s: item has no title", s.name))
	}

	data := s.compose(in)
	return StepResult{
		Data:       data,
		TokenUsage: estimateTokens(data),
		Reasoning:  fmt.Sprintf("%s composed %s for %q", s.name, s.role, in.Item.Title),
	}, nil
}

func agentSteps() []Step {
	return []Step{
		&agentStep{name: "nexus", role: "research brief", compose: composeResearch},
		&agentStep{name: "vantage", role: "competitive angle", compose: composeAngle},
		&agentStep{name: "vertex", role: "outline", compose: composeOutline},
		&agentStep{name: "hemingway", role: "draft", compose: composeDraft},
		&agentStep{name: "prism", role: "edit pass", compose: composeEdit},
		&agentStep{name: "canvas", role: "layout", compose: composeLayout},
		&agentStep{name: "lens", role: "seo metadata", compose: composeSEO},
		&agentStep{name: "mosaic", role: "final assembly", compose: composeAssembly},
	}
}

func composeResearch(in StepInput) map[string]any {
	return map[string]any{
		"topic":     in.Item.Title,
		"audience":  in.Tenant.ICPProfile,
		"questions": titleQuestions(in.Item.Title),
	}
}

func composeAngle(in StepInput) map[string]any {
	angle := "practical guide"
	if strings.Contains(strings.ToLower(in.Tenant.BrandVoice), "authoritative") {
		angle = "expert deep dive"
	}
	return map[string]any{
		"angle":    angle,
		"keywords": keywordsFromTitle(in.Item.Title),
	}
}

func composeOutline(in StepInput) map[string]any {
	sections := []string{"Introduction"}
	if research, ok := in.Artifacts["nexus"]; ok {
		if qs, ok := research.Data["questions"].([]any); ok {
			for _, q := range qs {
				if s, ok := q.(string); ok {
					sections = append(sections, s)
				}
			}
		} else if qs, ok := research.Data["questions"].([]string); ok {
			sections = append(sections, qs...)
		}
	}
	sections = append(sections, "Conclusion")
	return map[string]any{"sections": sections}
}

func composeDraft(in StepInput) map[string]any {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", in.Item.Title)
	if outline, ok := in.Artifacts["vertex"]; ok {
		for _, s := range stringSlice(outline.Data["sections"]) {
			fmt.Fprintf(&b, "## %s\n\n", s)
		}
	}
	return map[string]any{
		"body":       b.String(),
		"word_count": len(strings.Fields(b.String())),
	}
}

func composeEdit(in StepInput) map[string]any {
	body := ""
	if draft, ok := in.Artifacts["hemingway"]; ok {
		body, _ = draft.Data["body"].(string)
	}
	return map[string]any{
		"body":        strings.TrimSpace(body),
		"readability": readabilityScore(body),
		"voice":       in.Tenant.BrandVoice,
	}
}

func composeLayout(in StepInput) map[string]any {
	blocks := []map[string]any{{"type": "heading", "text": in.Item.Title}}
	if edited, ok := in.Artifacts["prism"]; ok {
		if body, ok := edited.Data["body"].(string); ok {
			blocks = append(blocks, map[string]any{"type": "markdown", "text": body})
		}
	}
	return map[string]any{"blocks": blocks}
}

func composeSEO(in StepInput) map[string]any {
	return map[string]any{
		"slug":       Slugify(in.Item.Title),
		"meta_title": in.Item.Title,
		"meta_desc":  fmt.Sprintf("%s, from %s", in.Item.Title, in.Tenant.BusinessName),
		"keywords":   keywordsFromTitle(in.Item.Title),
	}
}

func composeAssembly(in StepInput) map[string]any {
	post := map[string]any{"title": in.Item.Title}
	if seo, ok := in.Artifacts["lens"]; ok {
		post["slug"] = seo.Data["slug"]
		post["meta"] = seo.Data
	}
	if layout, ok := in.Artifacts["canvas"]; ok {
		post["blocks"] = layout.Data["blocks"]
	}
	if media, ok := in.Artifacts["pixel"]; ok {
		post["cover_url"] = media.Data["cover_url"]
	}
	return map[string]any{"post": post}
}

// Slugify turns a title into a URL path segment.
func Slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

func titleQuestions(title string) []string {
	return []string{
		fmt.Sprintf("What is %s?", title),
		fmt.Sprintf("Why does %s matter?", title),
		fmt.Sprintf("How to get started with %s", title),
	}
}

func keywordsFromTitle(title string) []string {
	words := strings.Fields(strings.ToLower(title))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) > 3 {
			out = append(out, strings.Trim(w, ".,:;!?"))
		}
	}
	return out
}

func readabilityScore(body string) int {
	words := len(strings.Fields(body))
	sentences := strings.Count(body, ".") + strings.Count(body, "\n\n") + 1
	score := 100 - words/sentences
	if score < 0 {
		score = 0
	}
	return score
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func estimateTokens(data map[string]any) int {
	total := 0
	for k, v := range data {
		total += len(k) + len(fmt.Sprint(v))
	}
	// rough chars-per-token heuristic
	return total/4 + 1
}
