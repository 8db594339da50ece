// Package tts defines the text-to-speech provider interface.
package tts

import (
	"context"

	"github.com/munivoice/munivoice-go/pkg/ai"
	"github.com/munivoice/munivoice-go/pkg/media"
)

// TTS-specific error variables, aliased for call sites that only import tts.
var (
	ErrRecoverable = ai.ErrRecoverable
	ErrFatal       = ai.ErrFatal
)

// SynthesizeRequest contains parameters for speech synthesis.
type SynthesizeRequest struct {
	Text     string
	Voice    string
	Language string
	Speed    float32
}

// Capabilities describes what a TTS provider supports.
type Capabilities struct {
	SupportedLanguages []string
	SupportedVoices    []string
	SampleRates        []int
}

// TTS is the interface for text-to-speech providers.
type TTS interface {
	// Synthesize converts text to audio frames. The returned channel closes
	// when synthesis is complete or the context is cancelled.
	Synthesize(ctx context.Context, req SynthesizeRequest) (<-chan media.AudioFrame, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() Capabilities
}
