package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// ErrProviderUnavailable marks transient provider failure after retry
// exhaustion. It is the trigger for the fallback response and never reaches
// the caller of Service.SendMessage.
var ErrProviderUnavailable = errors.New("completion provider unavailable")

type ProviderConfig struct {
	BaseURL          string
	APIKey           string
	Model            string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	Timeout          time.Duration
}

type RetryPolicy struct {
	// MaxRetries is the total number of HTTP attempts, counting the first
	// one. The dispatcher performs exactly MaxRetries calls against a
	// provider that keeps failing.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

const jitterCeiling = 1000 * time.Millisecond

type dispatchState int

const (
	stateAttempting dispatchState = iota
	stateRetrying
	stateExhausted
)

// Dispatcher sends a prompt to the external completion provider with bounded
// retry. Attempts for one call are strictly sequential; the dispatcher holds
// no state across calls, so concurrent dispatches do not coordinate.
type Dispatcher struct {
	provider   ProviderConfig
	retry      RetryPolicy
	httpClient *http.Client
	jitter     func() time.Duration
}

func NewDispatcher(provider ProviderConfig, retry RetryPolicy) *Dispatcher {
	if retry.MaxRetries < 1 {
		retry.MaxRetries = 3
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = time.Second
	}
	if retry.MaxDelay < retry.BaseDelay {
		retry.MaxDelay = 10 * time.Second
	}
	timeout := provider.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		provider: provider,
		retry:    retry,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(jitterCeiling)))
		},
	}
}

// Dispatch returns the raw provider body on the first 2xx response. Network
// errors, timeouts, and non-2xx statuses all count as failed attempts.
func (d *Dispatcher) Dispatch(ctx context.Context, messages []PromptMessage, userID string) ([]byte, error) {
	payload := map[string]any{
		"model":             d.provider.Model,
		"messages":          messages,
		"max_tokens":        d.provider.MaxTokens,
		"temperature":       d.provider.Temperature,
		"top_p":             d.provider.TopP,
		"frequency_penalty": d.provider.FrequencyPenalty,
		"presence_penalty":  d.provider.PresencePenalty,
		"user":              userID,
	}
	bodyRaw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	attempt := 0
	var lastErr error
	state := stateAttempting
	for {
		switch state {
		case stateAttempting:
			responseBody, attemptErr := d.attempt(ctx, bodyRaw)
			if attemptErr == nil {
				return responseBody, nil
			}
			lastErr = attemptErr
			if attempt >= d.retry.MaxRetries-1 {
				state = stateExhausted
			} else {
				state = stateRetrying
			}
		case stateRetrying:
			delay := d.backoffDelay(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lastErr = ctx.Err()
				state = stateExhausted
				continue
			}
			attempt++
			state = stateAttempting
		case stateExhausted:
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrProviderUnavailable, attempt+1, lastErr)
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, payload []byte) ([]byte, error) {
	request, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		d.provider.BaseURL,
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+d.provider.APIKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := d.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf(
			"completion provider error (%d): %s",
			response.StatusCode,
			truncateForLog(string(responseBody), 400),
		)
	}
	return responseBody, nil
}

// backoffDelay grows exponentially from BaseDelay with bounded random jitter
// and is capped at MaxDelay.
func (d *Dispatcher) backoffDelay(attemptIndex int) time.Duration {
	delay := d.retry.BaseDelay << uint(attemptIndex)
	if delay <= 0 || delay > d.retry.MaxDelay {
		return d.retry.MaxDelay
	}
	delay += d.jitter()
	if delay > d.retry.MaxDelay {
		return d.retry.MaxDelay
	}
	return delay
}

func truncateForLog(value string, limit int) string {
	trimmed := strings.TrimSpace(value)
	if limit <= 0 || len(trimmed) <= limit {
		return trimmed
	}
	return trimmed[:limit] + "...(truncated)"
}
