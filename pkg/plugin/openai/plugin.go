// Package openai provides OpenAI-backed speech and language providers:
// Whisper for transcription, chat completions for response generation, and
// the speech API for synthesis. Errors are classified as recoverable or
// fatal so the session retry loop knows what to do with them.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/munivoice/munivoice-go/pkg/ai"
)

// Config holds shared configuration for the OpenAI providers.
type Config struct {
	APIKey string

	// STTModel defaults to whisper-1.
	STTModel string
	// LLMModel defaults to gpt-4o-mini.
	LLMModel string
	// TTSModel defaults to tts-1.
	TTSModel string
	// Voice defaults to alloy.
	Voice string
	// Language hints the transcription language; empty auto-detects.
	Language string
}

func (c *Config) applyDefaults() error {
	if c.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required")
	}
	if c.STTModel == "" {
		c.STTModel = goopenai.Whisper1
	}
	if c.LLMModel == "" {
		c.LLMModel = goopenai.GPT4oMini
	}
	if c.TTSModel == "" {
		c.TTSModel = string(goopenai.TTSModel1)
	}
	if c.Voice == "" {
		c.Voice = string(goopenai.VoiceAlloy)
	}
	return nil
}

// classify maps an OpenAI client error onto the retry classification.
// Rate limits, server errors, and network failures are worth retrying;
// anything else the client did wrong is not.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ai.NewRecoverableError(err, op+" timed out")
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return ai.NewRecoverableError(err, fmt.Sprintf("%s: %s", op, apiErr.Message))
		}
		return ai.NewFatalError(err, fmt.Sprintf("%s: %s", op, apiErr.Message))
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500 {
			return ai.NewRecoverableError(err, op+" request failed")
		}
		return ai.NewFatalError(err, op+" request rejected")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ai.NewRecoverableError(err, op+" network error")
	}

	// Unclassified errors get retried; a wrong guess costs a few hundred
	// milliseconds, not the call.
	return ai.NewRecoverableError(err, op+" failed")
}
