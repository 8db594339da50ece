// Package fake provides an in-memory TTS implementation for tests.
package fake

import (
	"context"
	"sync"

	"github.com/munivoice/munivoice-go/pkg/ai"
	"github.com/munivoice/munivoice-go/pkg/ai/tts"
	"github.com/munivoice/munivoice-go/pkg/media"
)

// FakeTTS emits a fixed number of silent frames per synthesis request and
// records the text it was asked to speak.
type FakeTTS struct {
	mu        sync.Mutex
	spoken    []string
	frames    int
	failures  int
}

// NewFakeTTS creates a fake TTS provider that emits framesPerRequest silent
// 8 kHz frames for every request.
func NewFakeTTS(framesPerRequest int) *FakeTTS {
	if framesPerRequest <= 0 {
		framesPerRequest = 3
	}
	return &FakeTTS{frames: framesPerRequest}
}

// FailNext makes the next n Synthesize calls return a recoverable error.
func (f *FakeTTS) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

// Spoken returns every text passed to Synthesize so far.
func (f *FakeTTS) Spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.spoken))
	copy(out, f.spoken)
	return out
}

// Synthesize emits silent frames for the requested text.
func (f *FakeTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (<-chan media.AudioFrame, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, ai.NewRecoverableError(context.DeadlineExceeded, "fake tts unavailable")
	}
	f.spoken = append(f.spoken, req.Text)
	n := f.frames
	f.mu.Unlock()

	out := make(chan media.AudioFrame, n)
	go func() {
		defer close(out)
		for i := 0; i < n; i++ {
			frame := media.AudioFrame{
				Data:        make([]byte, 320), // 20 ms of 8 kHz mono silence
				SampleRate:  media.DefaultSampleRate,
				NumChannels: media.DefaultNumChannels,
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Capabilities returns the fake provider's capabilities.
func (f *FakeTTS) Capabilities() tts.Capabilities {
	return tts.Capabilities{
		SupportedLanguages: []string{"en-US"},
		SupportedVoices:    []string{"fake-voice"},
		SampleRates:        []int{8000},
	}
}
