// Package fake provides an in-memory STT implementation for tests.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/munivoice/munivoice-go/pkg/ai"
	"github.com/munivoice/munivoice-go/pkg/ai/stt"
	"github.com/munivoice/munivoice-go/pkg/media"
)

// DefaultTranscript is returned when no transcripts are scripted.
const DefaultTranscript = "This is a fake transcript from the fake STT provider."

// FakeSTT returns scripted transcripts in order, then repeats the last one.
type FakeSTT struct {
	mu          sync.Mutex
	transcripts []string
	calls       int
	failures    int // recoverable failures to inject before succeeding
}

// NewFakeSTT creates a fake STT provider with scripted transcripts.
func NewFakeSTT(transcripts ...string) *FakeSTT {
	if len(transcripts) == 0 {
		transcripts = []string{DefaultTranscript}
	}
	return &FakeSTT{transcripts: transcripts}
}

// FailNext makes the next n Recognize calls return a recoverable error.
func (f *FakeSTT) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

// Calls returns how many times Recognize has been invoked.
func (f *FakeSTT) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Recognize returns the next scripted transcript.
func (f *FakeSTT) Recognize(ctx context.Context, segment []media.AudioFrame, cfg stt.Config) (stt.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.failures > 0 {
		f.failures--
		return stt.Result{}, ai.NewRecoverableError(context.DeadlineExceeded, "fake stt unavailable")
	}
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}

	idx := f.calls - 1
	if idx >= len(f.transcripts) {
		idx = len(f.transcripts) - 1
	}

	var secs float32
	for _, fr := range segment {
		secs += float32(fr.Duration()) / float32(time.Second)
	}

	return stt.Result{
		Text:      f.transcripts[idx],
		Language:  cfg.Lang,
		Timestamp: time.Now().UnixMilli(),
		AudioSecs: secs,
	}, nil
}

// Capabilities returns the fake provider's capabilities.
func (f *FakeSTT) Capabilities() stt.Capabilities {
	return stt.Capabilities{
		SupportedLanguages: []string{"en-US", "es-ES"},
		SampleRates:        []int{8000, 16000},
	}
}
