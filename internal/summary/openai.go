// Package summary generates post-session transcript summaries.
package summary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// minTranscriptWords is the shortest transcript worth summarizing.
const minTranscriptWords = 20

// IdempotencyStore claims a summary request so a transcript is only ever
// summarized once, whatever path triggers it.
type IdempotencyStore interface {
	ClaimSummaryRequest(sessionID, promptHash string) (bool, error)
}

// OpenAI summarizes speaker-attributed transcripts through the chat
// completion API with retry and idempotency.
type OpenAI struct {
	client *openai.Client
	model  string
	store  IdempotencyStore
	sleep  func(time.Duration)
}

// NewOpenAI builds a summarizer with the default client configuration.
func NewOpenAI(apiKey, model string, store IdempotencyStore) *OpenAI {
	return NewOpenAIWithConfig(openai.DefaultConfig(apiKey), model, store)
}

// NewOpenAIWithConfig builds a summarizer with a caller-supplied client
// configuration, which tests use to point at a fake endpoint.
func NewOpenAIWithConfig(config openai.ClientConfig, model string, store IdempotencyStore) *OpenAI {
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		model:  model,
		store:  store,
		sleep:  time.Sleep,
	}
}

// Summarize produces a markdown summary of a speaker-attributed transcript.
// Short transcripts and transcripts already claimed for this session yield
// an empty summary without an API call.
func (s *OpenAI) Summarize(ctx context.Context, sessionID, transcript string) (string, error) {
	if len(strings.Fields(transcript)) < minTranscriptWords {
		return "", nil
	}

	hash := sha256.Sum256([]byte(transcript))
	promptHash := hex.EncodeToString(hash[:])

	if s.store != nil {
		claimed, err := s.store.ClaimSummaryRequest(sessionID, promptHash)
		if err != nil {
			return "", fmt.Errorf("claim summary request: %w", err)
		}
		if !claimed {
			return "", nil
		}
	}

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "Summarize the following diarized conversation transcript concisely in markdown. " +
					"Each line is prefixed with the speaker's name. Include key topics per speaker, " +
					"decisions made, and action items if any.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: transcript,
			},
		},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := 0; attempt < len(backoff); attempt++ {
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", nil
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}

		lastErr = err
		if attempt < len(backoff)-1 {
			s.sleep(backoff[attempt])
		}
	}

	return "", fmt.Errorf("openai summary failed after retries: %w", lastErr)
}
