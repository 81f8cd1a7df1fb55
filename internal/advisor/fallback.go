package advisor

import "time"

const fallbackText = "I'm sorry, I'm having trouble responding right now. " +
	"Please try again in a few moments. If you have an urgent health concern, " +
	"please contact your healthcare provider directly."

// FallbackResponse is the static degraded response returned when the
// dispatcher exhausts its retries. It is the only path that sets the
// fallback metadata flag.
func FallbackResponse(now time.Time) LLMResponse {
	return LLMResponse{
		Content: addDisclaimer(fallbackText),
		Metadata: ResponseMetadata{
			ProcessedAt: now,
			Fallback:    true,
		},
	}
}
