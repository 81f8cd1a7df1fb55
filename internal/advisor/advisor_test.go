package advisor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestService(baseURL string, records HealthRecordStore, conversations ConversationStore) *Service {
	service := NewService(records, conversations, ProviderConfig{
		BaseURL:   baseURL,
		APIKey:    "test-key",
		Model:     "gpt-test",
		MaxTokens: 500,
		Timeout:   2 * time.Second,
	}, RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}, Limits{})
	service.dispatcher.jitter = func() time.Duration { return 0 }
	return service
}

func TestSendMessageProcessesProviderResponse(t *testing.T) {
	t.Parallel()

	recordedAt := time.Date(2026, 2, 15, 8, 30, 0, 0, time.UTC)
	records := &fakeRecordStore{
		entries: map[Category][]HealthEntry{
			CategoryMeal: {{Description: "Oatmeal", RecordedAt: recordedAt}},
		},
	}

	var sawHealthContext atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "USER HEALTH CONTEXT") {
			sawHealthContext.Store(true)
		}
		_, _ = w.Write([]byte(`{"model":"gpt-test","choices":[{"message":{"content":"Eat more fiber."}}]}`))
	}))
	defer server.Close()

	service := newTestService(server.URL, records, &fakeConversationStore{})
	response, err := service.SendMessage(context.Background(), "How is my diet?", "user-1", "")
	if err != nil {
		t.Fatalf("send message failed: %v", err)
	}
	if !sawHealthContext.Load() {
		t.Fatalf("expected health context to reach the provider")
	}
	if !strings.HasPrefix(response.Content, "Eat more fiber.") {
		t.Fatalf("unexpected content: %q", response.Content)
	}
	if !strings.HasSuffix(response.Content, disclaimerText) {
		t.Fatalf("expected disclaimer suffix: %q", response.Content)
	}
	if response.Metadata.Fallback {
		t.Fatalf("live response must not be marked fallback")
	}
	if response.Metadata.Model != "gpt-test" {
		t.Fatalf("unexpected model %q", response.Metadata.Model)
	}
}

func TestSendMessageFallsBackWhenProviderDown(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "provider down", http.StatusInternalServerError)
	}))
	defer server.Close()

	service := newTestService(server.URL, &fakeRecordStore{}, &fakeConversationStore{})
	response, err := service.SendMessage(context.Background(), "Any tips today?", "user-1", "conv-1")
	if err != nil {
		t.Fatalf("provider outage must not surface as an error, got %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected the full retry budget before falling back, got %d attempts", got)
	}
	if !response.Metadata.Fallback {
		t.Fatalf("expected fallback metadata flag: %+v", response.Metadata)
	}
	if !strings.Contains(response.Content, "try again in a few moments") {
		t.Fatalf("unexpected fallback content: %q", response.Content)
	}
	if !strings.HasSuffix(response.Content, disclaimerText) {
		t.Fatalf("expected disclaimer on fallback content: %q", response.Content)
	}
	if response.Metadata.ProcessedAt.IsZero() {
		t.Fatalf("expected processed_at on fallback response")
	}
}

func TestSendMessageMalformedResponsePropagates(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte(`{"foo":"bar"}`))
	}))
	defer server.Close()

	service := newTestService(server.URL, &fakeRecordStore{}, &fakeConversationStore{})
	_, err := service.SendMessage(context.Background(), "hello", "user-1", "")
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedResponseError, got %v", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("malformed responses must not be retried, got %d attempts", got)
	}
}

func TestFallbackResponseShape(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC)
	response := FallbackResponse(now)
	if !response.Metadata.Fallback {
		t.Fatalf("fallback flag not set")
	}
	if !response.Metadata.ProcessedAt.Equal(now) {
		t.Fatalf("unexpected processed_at %v", response.Metadata.ProcessedAt)
	}
	if response.Metadata.Model != "" || response.Metadata.TokenUsage != nil {
		t.Fatalf("fallback must not report model or usage: %+v", response.Metadata)
	}
	if strings.Count(response.Content, disclaimerText) != 1 {
		t.Fatalf("expected exactly one disclaimer: %q", response.Content)
	}
}
