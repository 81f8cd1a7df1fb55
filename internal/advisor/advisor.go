package advisor

import (
	"context"
	"errors"
	"log"
	"time"
)

// Service runs one user message through the full advisory pipeline:
// context assembly, prompt building, provider dispatch, and response
// post-processing. Provider outages never surface as errors; the caller
// always receives a usable response.
type Service struct {
	assembler  *ContextAssembler
	dispatcher *Dispatcher
	processor  *ResponseProcessor
}

type Limits struct {
	HealthEntries     int
	ConversationTurns int
}

func NewService(
	records HealthRecordStore,
	conversations ConversationStore,
	provider ProviderConfig,
	retry RetryPolicy,
	limits Limits,
) *Service {
	return &Service{
		assembler:  NewContextAssembler(records, conversations, limits.HealthEntries, limits.ConversationTurns),
		dispatcher: NewDispatcher(provider, retry),
		processor:  NewResponseProcessor(provider.Model),
	}
}

// SendMessage is the pipeline boundary. The only error it can return is a
// *MalformedResponseError (a provider contract mismatch on a 2xx response);
// exhausted retries are converted to the static fallback response.
func (s *Service) SendMessage(ctx context.Context, message, userID, conversationID string) (LLMResponse, error) {
	contextBlock := s.assembler.Assemble(ctx, userID, conversationID)
	messages := BuildPrompt(message, contextBlock)

	raw, err := s.dispatcher.Dispatch(ctx, messages, userID)
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			log.Printf("advisor provider unavailable user_id=%s conversation_id=%s err=%v", userID, conversationID, err)
			return FallbackResponse(time.Now().UTC()), nil
		}
		return LLMResponse{}, err
	}

	response, err := s.processor.Process(raw)
	if err != nil {
		log.Printf("advisor response processing failed user_id=%s conversation_id=%s err=%v", userID, conversationID, err)
		return LLMResponse{}, err
	}
	return response, nil
}
