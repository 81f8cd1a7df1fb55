package advisor

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"
)

func newFrozenProcessor(model string) (*ResponseProcessor, time.Time) {
	processedAt := time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC)
	p := NewResponseProcessor(model)
	p.now = func() time.Time { return processedAt }
	return p, processedAt
}

func TestProcessRewritesUnsafePhrasing(t *testing.T) {
	t.Parallel()

	p, processedAt := newFrozenProcessor("gpt-test")
	raw := []byte(`{
		"model": "gpt-3.5-turbo-0125",
		"choices": [{"message": {"content": "You should take ibuprofen twice a day. It will cure your headache."}}],
		"usage": {"prompt_tokens": 120, "completion_tokens": 40, "total_tokens": 160}
	}`)

	response, err := p.Process(raw)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	for _, forbidden := range []string{`(?i)\bshould take\b`, `(?i)\bcure\b`} {
		if regexp.MustCompile(forbidden).MatchString(response.Content) {
			t.Fatalf("unsafe phrasing %q survived: %q", forbidden, response.Content)
		}
	}
	if !strings.Contains(response.Content, "might consider discussing with your doctor") {
		t.Fatalf("expected dosage rewrite: %q", response.Content)
	}
	if !strings.Contains(response.Content, "potentially help with") {
		t.Fatalf("expected cure rewrite: %q", response.Content)
	}
	if !strings.HasSuffix(response.Content, disclaimerText) {
		t.Fatalf("expected disclaimer suffix: %q", response.Content)
	}

	if response.Metadata.Model != "gpt-3.5-turbo-0125" {
		t.Fatalf("expected model from the response body, got %q", response.Metadata.Model)
	}
	if !response.Metadata.ProcessedAt.Equal(processedAt) {
		t.Fatalf("unexpected processed_at %v", response.Metadata.ProcessedAt)
	}
	usage := response.Metadata.TokenUsage
	if usage == nil || usage.PromptTokens != 120 || usage.CompletionTokens != 40 || usage.TotalTokens != 160 {
		t.Fatalf("unexpected token usage %+v", usage)
	}
	if response.Metadata.Fallback {
		t.Fatalf("live response must not be marked fallback")
	}
}

func TestProcessAppliesEverySafetyRule(t *testing.T) {
	t.Parallel()

	p, _ := newFrozenProcessor("gpt-test")
	raw := []byte(`{"choices":[{"message":{"content":` +
		`"I can Diagnose this. Here is a PRESCRIPTION and a treatment plan. This will heal you. You must take it daily."` +
		`}}]}`)

	response, err := p.Process(raw)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	for _, forbidden := range []string{
		`(?i)\bdiagnose\b`,
		`(?i)\bprescription\b`,
		`(?i)\btreatment plan\b`,
		`(?i)\bheal\b`,
		`(?i)\bmust take\b`,
	} {
		if regexp.MustCompile(forbidden).MatchString(response.Content) {
			t.Fatalf("unsafe phrasing %q survived: %q", forbidden, response.Content)
		}
	}
}

func TestProcessMalformedBody(t *testing.T) {
	t.Parallel()

	p, _ := newFrozenProcessor("gpt-test")
	for _, raw := range []string{`{"foo":"bar"}`, `not-json`, `null`, `{"choices":[]}`} {
		_, err := p.Process([]byte(raw))
		var malformed *MalformedResponseError
		if !errors.As(err, &malformed) {
			t.Fatalf("expected MalformedResponseError for %q, got %v", raw, err)
		}
		if errors.Is(err, ErrProviderUnavailable) {
			t.Fatalf("malformed response must not read as provider unavailability: %v", err)
		}
	}
}

func TestProcessExtractionFallbacks(t *testing.T) {
	t.Parallel()

	p, _ := newFrozenProcessor("gpt-default")

	response, err := p.Process([]byte(`{"choices":[{"text":"Stay hydrated."}]}`))
	if err != nil {
		t.Fatalf("legacy completion shape failed: %v", err)
	}
	if !strings.HasPrefix(response.Content, "Stay hydrated.") {
		t.Fatalf("unexpected content from legacy shape: %q", response.Content)
	}
	if response.Metadata.Model != "gpt-default" {
		t.Fatalf("expected default model when body has none, got %q", response.Metadata.Model)
	}
	if response.Metadata.TokenUsage != nil {
		t.Fatalf("expected nil usage when body has none, got %+v", response.Metadata.TokenUsage)
	}

	response, err = p.Process([]byte(`{"content":"Get some rest."}`))
	if err != nil {
		t.Fatalf("top-level content shape failed: %v", err)
	}
	if !strings.HasPrefix(response.Content, "Get some rest.") {
		t.Fatalf("unexpected content from top-level shape: %q", response.Content)
	}
}

func TestProcessDerivesTotalTokens(t *testing.T) {
	t.Parallel()

	p, _ := newFrozenProcessor("gpt-test")
	response, err := p.Process([]byte(`{
		"choices":[{"message":{"content":"Walk more."}}],
		"usage":{"input_tokens":30,"output_tokens":12}
	}`))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	usage := response.Metadata.TokenUsage
	if usage == nil || usage.PromptTokens != 30 || usage.CompletionTokens != 12 || usage.TotalTokens != 42 {
		t.Fatalf("expected derived total tokens, got %+v", usage)
	}
}

func TestAddDisclaimerIdempotent(t *testing.T) {
	t.Parallel()

	once := addDisclaimer("Drink more water during the day.")
	if !strings.HasSuffix(once, disclaimerText) {
		t.Fatalf("expected disclaimer appended: %q", once)
	}
	if twice := addDisclaimer(once); twice != once {
		t.Fatalf("addDisclaimer is not idempotent:\nonce:  %q\ntwice: %q", once, twice)
	}
	if count := strings.Count(strings.ToLower(addDisclaimer(once)), "not a substitute for professional medical advice"); count != 1 {
		t.Fatalf("expected exactly one disclaimer, found %d", count)
	}
}

func TestAddDisclaimerRecognizesEquivalentPhrases(t *testing.T) {
	t.Parallel()

	for _, content := range []string{
		"Please remember this is NOT MEDICAL ADVICE.",
		"Always consult Healthcare Professionals before changing your routine.",
	} {
		if got := addDisclaimer(content); got != content {
			t.Fatalf("expected equivalent phrase to suppress the disclaimer: %q -> %q", content, got)
		}
	}
}
