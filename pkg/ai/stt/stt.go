// Package stt defines the speech-to-text provider interface. A provider
// consumes one utterance worth of audio frames and returns the transcript
// within the caller's deadline.
package stt

import (
	"context"

	"github.com/munivoice/munivoice-go/pkg/ai"
	"github.com/munivoice/munivoice-go/pkg/media"
)

// STT-specific error variables, aliased for call sites that only import stt.
var (
	ErrRecoverable = ai.ErrRecoverable
	ErrFatal       = ai.ErrFatal
)

// Config carries per-utterance recognition options.
type Config struct {
	SampleRate  int
	NumChannels int
	Lang        string
}

// Result is the transcription of one utterance.
type Result struct {
	Text      string  // Transcribed text
	Language  string  // Detected or configured language code
	Timestamp int64   // Completion time in milliseconds since epoch
	AudioSecs float32 // Seconds of audio consumed
}

// Capabilities describes what an STT provider supports.
type Capabilities struct {
	SupportedLanguages []string
	SampleRates        []int
}

// STT is the interface for speech-to-text providers.
type STT interface {
	// Recognize transcribes one complete utterance. The telephony provider
	// performs speech endpointing, so segment holds a full utterance.
	Recognize(ctx context.Context, segment []media.AudioFrame, cfg Config) (Result, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() Capabilities
}
